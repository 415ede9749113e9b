package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/memstore"
	"github.com/mcpambassador/server/internal/vault"
)

func testVault() *vault.Vault {
	return vault.New([]byte("01234567890123456789012345678901"))
}

func TestCredentialsStoreThenLookupRoundTrip(t *testing.T) {
	t.Parallel()

	c := memstore.NewCredentials()
	v := testVault()

	require.NoError(t, c.Store(v, "user-1", "mcp-1", map[string]string{"token": "abc"}))

	lookup := c.Lookup(v)
	creds, err := lookup(context.Background(), "user-1", "mcp-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", creds["token"])
}

func TestCredentialsLookupMissingReturnsCredentialsMissing(t *testing.T) {
	t.Parallel()

	c := memstore.NewCredentials()
	v := testVault()

	lookup := c.Lookup(v)
	_, err := lookup(context.Background(), "user-1", "mcp-1")
	require.Error(t, err)
	assert.True(t, ambassadorerrors.IsCredentialsMissing(err))
}

func TestCredentialsInvalidateForcesCredentialsMissing(t *testing.T) {
	t.Parallel()

	c := memstore.NewCredentials()
	v := testVault()

	require.NoError(t, c.Store(v, "user-1", "mcp-1", map[string]string{"token": "abc"}))
	c.Invalidate("user-1", "mcp-1")

	lookup := c.Lookup(v)
	_, err := lookup(context.Background(), "user-1", "mcp-1")
	require.Error(t, err)
	assert.True(t, ambassadorerrors.IsCredentialsMissing(err))
}

func TestVaultSaltIsStablePerUser(t *testing.T) {
	t.Parallel()

	c := memstore.NewCredentials()
	first, err := c.VaultSalt("user-1")
	require.NoError(t, err)
	second, err := c.VaultSalt("user-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := c.VaultSalt("user-2")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}
