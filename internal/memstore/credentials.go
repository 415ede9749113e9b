package memstore

import (
	"context"
	"sync"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/vault"
)

type sealedCreds struct {
	nonce      []byte
	ciphertext []byte
}

// Credentials is an in-memory store of sealed per-(user, backend)
// credential blobs, plus each user's vault_salt. It composes with
// internal/vault to produce a peruserpool.CredentialLookup.
type Credentials struct {
	mu    sync.RWMutex
	salts map[string][]byte
	blobs map[string]sealedCreds // key: userID + "\x00" + mcpID
}

// NewCredentials constructs an empty Credentials store.
func NewCredentials() *Credentials {
	return &Credentials{
		salts: make(map[string][]byte),
		blobs: make(map[string]sealedCreds),
	}
}

func credKey(userID, mcpID string) string {
	return userID + "\x00" + mcpID
}

// VaultSalt returns the user's vault_salt, generating and storing one if
// this is the first time it's requested.
func (c *Credentials) VaultSalt(userID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if salt, ok := c.salts[userID]; ok {
		return salt, nil
	}
	salt, err := vault.NewVaultSalt()
	if err != nil {
		return nil, err
	}
	c.salts[userID] = salt
	return salt, nil
}

// Store seals and stores creds for (userID, mcpID).
func (c *Credentials) Store(v *vault.Vault, userID, mcpID string, creds map[string]string) error {
	salt, err := c.VaultSalt(userID)
	if err != nil {
		return err
	}
	nonce, ciphertext, err := v.Seal(salt, userID, mcpID, creds)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.blobs[credKey(userID, mcpID)] = sealedCreds{nonce: nonce, ciphertext: ciphertext}
	c.mu.Unlock()
	return nil
}

// Invalidate removes stored credentials for (userID, mcpID), forcing the
// next Lookup to report credentials_missing.
func (c *Credentials) Invalidate(userID, mcpID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blobs, credKey(userID, mcpID))
}

// Lookup builds a peruserpool.CredentialLookup-compatible function bound
// to v.
func (c *Credentials) Lookup(v *vault.Vault) func(ctx context.Context, userID, mcpID string) (map[string]string, error) {
	return func(_ context.Context, userID, mcpID string) (map[string]string, error) {
		c.mu.RLock()
		blob, ok := c.blobs[credKey(userID, mcpID)]
		salt := c.salts[userID]
		c.mu.RUnlock()
		if !ok {
			return nil, ambassadorerrors.NewCredentialsMissingError("no stored credentials for backend "+mcpID, nil)
		}
		return v.Open(salt, userID, mcpID, blob.nonce, blob.ciphertext)
	}
}
