package vault

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
)

// MasterKeySize is the server master key length in bytes.
const MasterKeySize = 32

const masterKeyFileName = "vault_master_key"
const masterKeyEnvVar = "VAULT_MASTER_KEY"

// LoadMasterKey applies the same three-tier priority as the session
// layer's secret loading: env var (hex) -> file at
// {dataDir}/vault_master_key (0600) -> generate new and persist.
func LoadMasterKey(dataDir string) ([]byte, error) {
	if hexVal := os.Getenv(masterKeyEnvVar); hexVal != "" {
		key, err := hex.DecodeString(hexVal)
		if err != nil {
			return nil, ambassadorerrors.NewValidationError(masterKeyEnvVar+" is not valid hex", err)
		}
		return key, nil
	}

	path := filepath.Join(dataDir, masterKeyFileName)
	if data, err := os.ReadFile(path); err == nil {
		key, decErr := hex.DecodeString(string(data))
		if decErr != nil {
			return nil, ambassadorerrors.NewInternalError("stored vault master key is not valid hex", decErr)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, ambassadorerrors.NewInternalError("failed to read vault master key file", err)
	}

	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to generate vault master key", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to create data directory", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to persist vault master key", err)
	}
	return key, nil
}
