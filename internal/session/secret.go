package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/ambassadorlog"
)

// SecretSize is the server HMAC secret length in bytes.
const SecretSize = 64

const secretFileName = "session_hmac_secret"
const secretEnvVar = "SESSION_HMAC_SECRET"

// SecretStore owns the process's HMAC secret, loaded with this priority
// order: env var (hex) -> file at {dataDir}/session_hmac_secret
// (0600) -> generate new and persist. Rotation replaces the in-memory
// value and persists the new one, invalidating every existing token.
type SecretStore struct {
	dataDir string

	mu     sync.RWMutex
	secret []byte
}

// LoadSecret constructs a SecretStore for dataDir, applying the load
// priority order.
func LoadSecret(dataDir string) (*SecretStore, error) {
	s := &SecretStore{dataDir: dataDir}

	if hexVal := os.Getenv(secretEnvVar); hexVal != "" {
		secret, err := hex.DecodeString(hexVal)
		if err != nil {
			return nil, ambassadorerrors.NewValidationError(fmt.Sprintf("%s is not valid hex", secretEnvVar), err)
		}
		s.secret = secret
		return s, nil
	}

	path := filepath.Join(dataDir, secretFileName)
	if data, err := os.ReadFile(path); err == nil {
		secret, decErr := hex.DecodeString(string(data))
		if decErr != nil {
			return nil, ambassadorerrors.NewInternalError("stored session secret is not valid hex", decErr)
		}
		s.secret = secret
		return s, nil
	} else if !os.IsNotExist(err) {
		return nil, ambassadorerrors.NewInternalError("failed to read session secret file", err)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	if err := persistSecret(path, secret); err != nil {
		return nil, err
	}
	s.secret = secret
	return s, nil
}

func generateSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to generate session secret", err)
	}
	return secret, nil
}

func persistSecret(path string, secret []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return ambassadorerrors.NewInternalError("failed to create data directory", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return ambassadorerrors.NewInternalError("failed to persist session secret", err)
	}
	return nil
}

// Get returns the current secret.
func (s *SecretStore) Get() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.secret))
	copy(out, s.secret)
	return out
}

// Rotate replaces the in-memory secret and persists it, invalidating every
// existing session token immediately.
func (s *SecretStore) Rotate() error {
	secret, err := generateSecret()
	if err != nil {
		return err
	}
	path := filepath.Join(s.dataDir, secretFileName)
	if err := persistSecret(path, secret); err != nil {
		return err
	}
	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
	ambassadorlog.Warn("session HMAC secret rotated; all existing session tokens are now invalid")
	return nil
}
