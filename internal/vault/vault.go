// Package vault implements the Credential Vault: per-user AES-256-GCM
// sealing of stored backend credentials, keyed so that compromise of one
// user's ciphertext does not expose another's.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
)

// KeySize is the derived AES-256 key length in bytes.
const KeySize = 32

// Vault seals and opens per-user credential maps. One Vault is shared
// process-wide; the server master key never leaves this package.
type Vault struct {
	masterKey []byte
}

// New constructs a Vault from the server's master key (typically loaded
// the same way the session HMAC secret is: env, then file, then
// generate-and-persist).
func New(masterKey []byte) *Vault {
	return &Vault{masterKey: masterKey}
}

// deriveKey derives a per-(user, backend) AES-256 key via HKDF-SHA256,
// using the user's vault_salt as HKDF salt and "userID:mcpID" as info, so
// that a leaked salt alone cannot recover credentials without the master
// key, and the master key alone cannot recover one user's credentials
// without their specific salt.
func (v *Vault) deriveKey(vaultSalt []byte, userID, mcpID string) ([]byte, error) {
	info := []byte(userID + ":" + mcpID)
	reader := hkdf.New(sha256.New, v.masterKey, vaultSalt, info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to derive vault key", err)
	}
	return key, nil
}

// Seal encrypts a credential map for (userID, mcpID) under vaultSalt,
// returning the nonce and ciphertext to persist.
func (v *Vault) Seal(vaultSalt []byte, userID, mcpID string, creds map[string]string) (nonce, ciphertext []byte, err error) {
	key, err := v.deriveKey(vaultSalt, userID, mcpID)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, nil, ambassadorerrors.NewInternalError("failed to encode credentials", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, ambassadorerrors.NewInternalError("failed to construct cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, ambassadorerrors.NewInternalError("failed to construct GCM mode", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, ambassadorerrors.NewInternalError("failed to generate nonce", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Open decrypts a credential map previously produced by Seal.
func (v *Vault) Open(vaultSalt []byte, userID, mcpID string, nonce, ciphertext []byte) (map[string]string, error) {
	key, err := v.deriveKey(vaultSalt, userID, mcpID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to construct cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to construct GCM mode", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ambassadorerrors.NewValidationError("invalid vault nonce size", nil)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ambassadorerrors.NewUnauthorizedError("vault entry failed to authenticate", err)
	}

	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to decode credentials", err)
	}
	return creds, nil
}

// NewVaultSalt generates a fresh per-user salt to store on the User entity
// at account creation.
func NewVaultSalt() ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to generate vault salt", err)
	}
	return salt, nil
}
