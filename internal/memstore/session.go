package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpambassador/server/internal/session"
)

// Session is an in-memory session.Store and session.ClientStore.
type Session struct {
	mu          sync.RWMutex
	clients     map[string]session.Client
	sessions    map[string]session.Record // keyed by session_id
	connections map[string][]string       // session_id -> connection ids
}

// NewSession constructs an empty Session store.
func NewSession() *Session {
	return &Session{
		clients:     make(map[string]session.Client),
		sessions:    make(map[string]session.Record),
		connections: make(map[string][]string),
	}
}

// PutClient inserts or replaces a client record.
func (s *Session) PutClient(c session.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ClientID] = c
}

// RevokeClient marks a client revoked, the way an operator terminates a
// compromised or retired client via the admin surface.
func (s *Session) RevokeClient(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return false
	}
	c.Status = session.ClientRevoked
	s.clients[clientID] = c
	return true
}

// CandidatesByPrefix implements session.ClientStore.
func (s *Session) CandidatesByPrefix(_ context.Context, prefix string) ([]session.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []session.Client
	for _, c := range s.clients {
		if c.KeyPrefix != prefix || c.Status != session.ClientActive {
			continue
		}
		if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// GetClient implements session.ClientStore.
func (s *Session) GetClient(_ context.Context, clientID string) (*session.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// FindByUserAndClient implements session.Store.
func (s *Session) FindByUserAndClient(_ context.Context, userID, clientID string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.sessions {
		if rec.UserID == userID && rec.ClientID == clientID {
			r := rec
			return &r, nil
		}
	}
	return nil, nil
}

// FindByTokenHash implements session.Store.
func (s *Session) FindByTokenHash(_ context.Context, hash string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.sessions {
		if rec.TokenHash == hash && (rec.Status == session.StatusActive || rec.Status == session.StatusIdle) {
			r := rec
			return &r, nil
		}
	}
	return nil, nil
}

// Put implements session.Store.
func (s *Session) Put(_ context.Context, rec *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.SessionID] = *rec
	return nil
}

// NewConnection implements session.Store.
func (s *Session) NewConnection(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.connections[sessionID] = append(s.connections[sessionID], id)
	return id, nil
}

// LatestConnection implements session.Store.
func (s *Session) LatestConnection(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.connections[sessionID]
	if len(conns) == 0 {
		return "", nil
	}
	return conns[len(conns)-1], nil
}
