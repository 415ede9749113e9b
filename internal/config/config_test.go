package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/config"
)

func TestDefaultsPassValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, config.Defaults().Validate())
}

func TestValidateRejectsZeroRetentionDays(t *testing.T) {
	t.Parallel()

	c := config.Defaults()
	c.Audit.RetentionDays = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsPerUserExceedingTotal(t *testing.T) {
	t.Parallel()

	c := config.Defaults()
	c.PerUser.MaxPerUser = 200
	c.PerUser.MaxTotal = 100
	assert.Error(t, c.Validate())
}

func TestValidateRejectsAdminEnabledWithoutKeyHashes(t *testing.T) {
	t.Parallel()

	c := config.Defaults()
	c.Admin.Enabled = true
	assert.Error(t, c.Validate())

	c.Admin.KeyHashes = []string{"aa:bb"}
	assert.NoError(t, c.Validate())
}

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Defaults().ListenAddr, cfg.ListenAddr)
}

func TestLoadOverridesFromYAMLFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9999\"\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/no/such/file.yaml")
	assert.Error(t, err)
}
