package memstore

import (
	"sync"

	"github.com/mcpambassador/server/internal/session"
)

// AdminKeys is an in-memory store of Argon2id-hashed admin keys
// (amb_ak_...), seeded at startup the same way preshared-key clients are.
// An empty store verifies nothing: admin access is deny-by-default until
// at least one hash is provisioned.
type AdminKeys struct {
	mu     sync.RWMutex
	hashes []string
}

// NewAdminKeys constructs an empty AdminKeys store.
func NewAdminKeys() *AdminKeys {
	return &AdminKeys{}
}

// Put registers an encoded Argon2id hash produced by session.HashKey.
func (a *AdminKeys) Put(encodedHash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes = append(a.hashes, encodedHash)
}

// Verify checks a raw admin key's format, then verifies it against every
// stored hash. Admin keys number a handful per deployment, so a linear
// scan keeps the store free of a prefix index.
func (a *AdminKeys) Verify(rawKey string) bool {
	if !session.ParseAdminKey(rawKey) {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, h := range a.hashes {
		if session.VerifyKey(rawKey, h) {
			return true
		}
	}
	return false
}
