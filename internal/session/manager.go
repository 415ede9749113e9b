package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/ambassadorlog"
	"github.com/mcpambassador/server/internal/ratelimit"
)

// timingFloor and timingCeil bound the random sleep applied to failed or
// malformed registration attempts, so that a bad key_prefix lookup miss and
// an Argon2id mismatch are indistinguishable from response latency alone.
const (
	timingFloor = 0
	timingCeil  = 200 * time.Millisecond
)

// NonceSize is the random nonce length used in session token derivation.
const NonceSize = 32

// Manager is the Session Layer: it validates preshared keys, issues
// and verifies HMAC session tokens, and enforces reuse and rate-limit
// rules. One Manager is shared process-wide.
type Manager struct {
	clients ClientStore
	store   Store
	secrets *SecretStore
	limiter *ratelimit.Limiter
	ttl     time.Duration

	sleepFn func(time.Duration)
}

// NewManager constructs a Manager. ttl defaults to DefaultTTL if zero.
func NewManager(clients ClientStore, store Store, secrets *SecretStore, limiter *ratelimit.Limiter, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{clients: clients, store: store, secrets: secrets, limiter: limiter, ttl: ttl, sleepFn: time.Sleep}
}

func (m *Manager) normalize() {
	delay, err := randDuration(timingCeil)
	if err != nil {
		delay = timingCeil / 2
	}
	m.sleepFn(delay)
}

func randDuration(max time.Duration) (time.Duration, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	n := uint64(0)
	for _, v := range b {
		n = n<<8 | uint64(v)
	}
	return time.Duration(n % uint64(max)), nil
}

// Register implements the registration procedure: rate-limit gate,
// preshared-key format validation, candidate lookup and Argon2id
// verification, session reuse, and new-session issuance.
func (m *Manager) Register(ctx context.Context, presharedKey, friendlyName, hostTool, sourceIP string) (*RegisterResult, error) {
	if ok, retryAfter := m.limiter.Allow(sourceIP); !ok {
		return nil, ambassadorerrors.NewRateLimitedError(fmt.Sprintf("registration rate limit exceeded, retry after %s", retryAfter), nil)
	}

	keyPrefix, ok := ParsePresharedKey(presharedKey)
	if !ok {
		m.normalize()
		m.limiter.RecordFailure(sourceIP)
		return nil, ambassadorerrors.NewUnauthorizedError("malformed preshared key", nil)
	}

	candidates, err := m.clients.CandidatesByPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to look up client candidates", err)
	}

	var matched *Client
	for i := range candidates {
		c := &candidates[i]
		if VerifyKey(presharedKey, c.KeyHash) {
			matched = c
			break
		}
	}

	if matched == nil {
		m.normalize()
		m.limiter.RecordFailure(sourceIP)
		return nil, ambassadorerrors.NewUnauthorizedError("preshared key not recognized", nil)
	}
	if matched.Status != ClientActive {
		m.normalize()
		m.limiter.RecordFailure(sourceIP)
		return nil, ambassadorerrors.NewUnauthorizedError("client is not active", nil)
	}
	if matched.ExpiresAt != nil && matched.ExpiresAt.Before(time.Now()) {
		m.normalize()
		m.limiter.RecordFailure(sourceIP)
		return nil, ambassadorerrors.NewUnauthorizedError("client key has expired", nil)
	}

	m.limiter.RecordSuccess(sourceIP)

	existing, err := m.store.FindByUserAndClient(ctx, matched.UserID, matched.ClientID)
	if err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to look up existing session", err)
	}

	if existing != nil && isReusable(existing.Status) {
		if existing.ProfileID != matched.ProfileID {
			// Reuse with a mismatched profile is a conflict; never reveal
			// either profile_id to the caller.
			return nil, ambassadorerrors.NewConflictError("session already exists for a different profile", nil)
		}
		return m.reuse(ctx, existing, hostTool)
	}

	return m.issue(ctx, matched, friendlyName, hostTool)
}

func isReusable(status Status) bool {
	switch status {
	case StatusActive, StatusIdle, StatusSpinningDown:
		return true
	default:
		return false
	}
}

// reuse regenerates the HMAC token and nonce for an existing session,
// sets it active, bumps last_activity_at, and records a new connection
// row.
func (m *Manager) reuse(ctx context.Context, rec *Record, hostTool string) (*RegisterResult, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to generate session nonce", err)
	}
	token, tokenHash := IssueToken(m.secrets.Get(), rec.SessionID, nonce)

	connID, err := m.store.NewConnection(ctx, rec.SessionID)
	if err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to record connection", err)
	}

	rec.Nonce = nonce
	rec.TokenHash = tokenHash
	rec.Status = StatusActive
	rec.LastActivityAt = time.Now()
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to update reused session", err)
	}

	ambassadorlog.Infow("session reused", "session_id", rec.SessionID, "host_tool", hostTool)

	return &RegisterResult{
		SessionID:    rec.SessionID,
		SessionToken: token,
		ProfileID:    rec.ProfileID,
		ConnectionID: connID,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

func (m *Manager) issue(ctx context.Context, client *Client, friendlyName, hostTool string) (*RegisterResult, error) {
	sessionID := uuid.NewString()

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to generate session nonce", err)
	}

	token, tokenHash := IssueToken(m.secrets.Get(), sessionID, nonce)

	now := time.Now()
	rec := &Record{
		SessionID:      sessionID,
		UserID:         client.UserID,
		ClientID:       client.ClientID,
		ProfileID:      client.ProfileID,
		TokenHash:      tokenHash,
		Nonce:          nonce,
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.ttl),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to persist session", err)
	}

	connID, err := m.store.NewConnection(ctx, sessionID)
	if err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to record connection", err)
	}

	ambassadorlog.Infow("session registered", "session_id", sessionID, "client_id", client.ClientID, "host_tool", hostTool, "friendly_name", friendlyName)

	return &RegisterResult{
		SessionID:    sessionID,
		SessionToken: token,
		ProfileID:    client.ProfileID,
		ConnectionID: connID,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

// Verify implements the verification procedure: token format check,
// token_hash lookup, constant-time MAC comparison, and expiry check.
func (m *Manager) Verify(ctx context.Context, rawToken string) (*Verified, error) {
	mac, ok := ParseSessionToken(rawToken)
	if !ok {
		return nil, ambassadorerrors.NewUnauthorizedError("malformed session token", nil)
	}

	tokenHash := hex.EncodeToString(mac)
	rec, err := m.store.FindByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to look up session", err)
	}
	if rec == nil {
		return nil, ambassadorerrors.NewUnauthorizedError("session token not recognized", nil)
	}

	if !VerifyTokenMAC(m.secrets.Get(), rec.SessionID, rec.Nonce, mac) {
		return nil, ambassadorerrors.NewUnauthorizedError("session token verification failed", nil)
	}

	if time.Now().After(rec.ExpiresAt) {
		rec.Status = StatusExpired
		_ = m.store.Put(ctx, rec)
		return nil, ambassadorerrors.NewUnauthorizedError("session has expired", nil)
	}

	rec.Status = StatusActive
	rec.LastActivityAt = time.Now()
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to update session activity", err)
	}

	// Best-effort: the latest connection id is informational, not part of
	// the authentication decision.
	connID, _ := m.store.LatestConnection(ctx, rec.SessionID)

	return &Verified{
		SessionID:    rec.SessionID,
		UserID:       rec.UserID,
		ClientID:     rec.ClientID,
		ProfileID:    rec.ProfileID,
		ConnectionID: connID,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}
