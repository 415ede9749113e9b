package session

import "context"

// ClientStore resolves candidate clients by key prefix and looks up a
// client's current profile for reuse-time comparison.
type ClientStore interface {
	// CandidatesByPrefix returns every active, non-expired client whose
	// key_prefix matches prefix.
	CandidatesByPrefix(ctx context.Context, prefix string) ([]Client, error)
	// GetClient returns the current state of a client by id.
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// Store persists Session records. An external durable store implements
// this; internal/memstore ships an in-memory one for tests and local runs.
type Store interface {
	// FindByUserAndClient returns the session for (userID, clientID), if
	// any, regardless of status.
	FindByUserAndClient(ctx context.Context, userID, clientID string) (*Record, error)
	// FindByTokenHash returns the session whose token_hash matches hash and
	// whose status is active or idle.
	FindByTokenHash(ctx context.Context, hash string) (*Record, error)
	// Put creates or replaces a session record.
	Put(ctx context.Context, rec *Record) error
	// NewConnection records a new connection row for sessionID and returns
	// its id. A session may have many historical connection rows but binds
	// at most one "current" one.
	NewConnection(ctx context.Context, sessionID string) (string, error)
	// LatestConnection returns the most recent connection id recorded for
	// sessionID, or empty if none exists.
	LatestConnection(ctx context.Context, sessionID string) (string, error)
}
