// Package peruserpool maintains one isolated Backend Connection per
// (user_id, mcp_id) for backends tagged per_user, under per-user and
// global capacity limits.
package peruserpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/ambassadorlog"
	"github.com/mcpambassador/server/internal/backendconn"
)

// Key identifies one per-user backend instance.
type Key struct {
	UserID string
	MCPID  string
}

// CredentialLookup resolves and decrypts a user's stored credentials for a
// backend. Returns ambassadorerrors.TypeCredentialsMissing if none exist.
type CredentialLookup func(ctx context.Context, userID, mcpID string) (map[string]string, error)

// Factory constructs a not-yet-started Connection for (def, credentials).
type Factory func(def BackendDef, credentials map[string]string) (backendconn.Connection, error)

// BackendDef is the subset of a Backend Catalog Entry needed to spawn a
// per-user instance.
type BackendDef struct {
	MCPID     string
	Name      string
	Transport backendconn.Transport
	Config    []byte
}

// InstanceStatus is per-instance observability data for admins.
type InstanceStatus struct {
	UserID    string
	MCPID     string
	SpawnedAt time.Time
	Connected bool
	ToolCount int
}

type entry struct {
	conn      backendconn.Connection
	spawnedAt time.Time
	lastUsed  time.Time

	// ready is closed once this entry's spawn completes, successfully or
	// not. Every concurrent GetOrSpawn caller for the same key waits on
	// the same entry's ready channel instead of reading conn before the
	// spawning goroutine has published it.
	ready chan struct{}
	err   error // valid only once ready is closed
}

// Limits bounds how many live instances the pool may hold.
type Limits struct {
	MaxPerUser int
	MaxTotal   int
	IdleAfter  time.Duration
}

// DefaultLimits provides conservative defaults for deployments that
// don't configure their own.
func DefaultLimits() Limits {
	return Limits{MaxPerUser: 5, MaxTotal: 100, IdleAfter: 30 * time.Minute}
}

// Pool owns (user, mcp) -> Connection plus the capacity counters. The
// counter check and instance creation happen inside the same critical
// section (mu) so two concurrent invocations cannot both breach MaxTotal.
type Pool struct {
	limits    Limits
	lookup    CredentialLookup
	factory   Factory
	defsByMCP map[string]BackendDef

	mu        sync.Mutex
	instances map[Key]*entry
	perUser   map[string]int

	stopReaper chan struct{}
}

// New creates a Pool. Call RegisterBackend for each per_user backend
// definition before the first invocation needing it.
func New(limits Limits, lookup CredentialLookup, factory Factory) *Pool {
	p := &Pool{
		limits:     limits,
		lookup:     lookup,
		factory:    factory,
		defsByMCP:  make(map[string]BackendDef),
		instances:  make(map[Key]*entry),
		perUser:    make(map[string]int),
		stopReaper: make(chan struct{}),
	}
	return p
}

// RegisterBackend records or updates a per_user backend's definition.
func (p *Pool) RegisterBackend(def BackendDef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defsByMCP[def.MCPID] = def
}

// UnregisterBackend drops a per_user backend's definition so GetOrSpawn
// can no longer create new instances for it. Already-running instances
// are left to the idle reaper or an explicit TerminateForUser /
// InvalidateCredentials call; a dropped definition never force-kills a
// running instance.
func (p *Pool) UnregisterBackend(mcpID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.defsByMCP, mcpID)
}

// StartReaper launches the idle-instance janitor. Call once; Stop via
// Close.
func (p *Pool) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.reapIdle(ctx)
			case <-p.stopReaper:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Pool) reapIdle(ctx context.Context) {
	now := time.Now()
	var toStop []struct {
		key  Key
		conn backendconn.Connection
	}

	p.mu.Lock()
	for key, e := range p.instances {
		if now.Sub(e.lastUsed) >= p.limits.IdleAfter {
			toStop = append(toStop, struct {
				key  Key
				conn backendconn.Connection
			}{key, e.conn})
			p.removeLocked(key)
		}
	}
	p.mu.Unlock()

	for _, item := range toStop {
		ambassadorlog.Infof("reaping idle per-user instance user=%s mcp=%s", item.key.UserID, item.key.MCPID)
		_ = item.conn.Stop(ctx)
	}
}

// removeLocked deletes the bookkeeping for key. Caller must hold mu.
func (p *Pool) removeLocked(key Key) {
	delete(p.instances, key)
	p.perUser[key.UserID]--
	if p.perUser[key.UserID] <= 0 {
		delete(p.perUser, key.UserID)
	}
}

// GetOrSpawn returns the live instance for (userID, mcpID), lazily
// spawning it under capacity limits if it doesn't exist. Concurrent callers
// racing for the same (userID, mcpID) all wait on the single in-flight
// spawn and share its outcome; only the caller that wins the race actually
// performs the credential lookup, factory construction, and Start.
func (p *Pool) GetOrSpawn(ctx context.Context, userID, mcpID string) (backendconn.Connection, error) {
	key := Key{UserID: userID, MCPID: mcpID}

	p.mu.Lock()
	if e, ok := p.instances[key]; ok {
		e.lastUsed = time.Now()
		p.mu.Unlock()
		return awaitSpawn(ctx, e)
	}

	if p.perUser[userID] >= p.limits.MaxPerUser {
		p.mu.Unlock()
		return nil, ambassadorerrors.NewCapacityExceededError(
			fmt.Sprintf("user %s has reached the per-user instance limit of %d", userID, p.limits.MaxPerUser), nil)
	}
	if p.total() >= p.limits.MaxTotal {
		p.mu.Unlock()
		return nil, ambassadorerrors.NewCapacityExceededError(
			fmt.Sprintf("global per-user instance limit of %d reached", p.limits.MaxTotal), nil)
	}

	def, ok := p.defsByMCP[mcpID]
	if !ok {
		p.mu.Unlock()
		return nil, ambassadorerrors.NewNotFoundError(fmt.Sprintf("backend %q not registered", mcpID), nil)
	}

	// Reserve capacity before releasing the lock to spawn, so concurrent
	// callers for a different key cannot both observe room for one more.
	p.perUser[userID]++
	placeholder := &entry{spawnedAt: time.Now(), lastUsed: time.Now(), ready: make(chan struct{})}
	p.instances[key] = placeholder
	p.mu.Unlock()

	go p.spawn(ctx, key, userID, mcpID, def, placeholder)

	return awaitSpawn(ctx, placeholder)
}

// spawn performs the credential lookup, factory construction, and Start
// for a freshly reserved placeholder, then publishes the outcome by
// closing e.ready. Runs exactly once per entry.
func (p *Pool) spawn(ctx context.Context, key Key, userID, mcpID string, def BackendDef, e *entry) {
	creds, err := p.lookup(ctx, userID, mcpID)
	if err != nil {
		p.failSpawn(key, e, err)
		return
	}

	conn, err := p.factory(def, creds)
	if err != nil {
		p.failSpawn(key, e, err)
		return
	}

	if err := conn.Start(ctx); err != nil {
		p.failSpawn(key, e, err)
		return
	}

	p.mu.Lock()
	e.conn = conn
	p.mu.Unlock()
	close(e.ready)
}

// failSpawn records err on e, removes its reservation, and wakes every
// caller waiting on e.ready.
func (p *Pool) failSpawn(key Key, e *entry, err error) {
	p.mu.Lock()
	e.err = err
	p.removeLocked(key)
	p.mu.Unlock()
	close(e.ready)
}

// awaitSpawn blocks until e's spawn completes or ctx is canceled, then
// returns its connection or its spawn error.
func awaitSpawn(ctx context.Context, e *entry) (backendconn.Connection, error) {
	select {
	case <-e.ready:
		if e.err != nil {
			return nil, e.err
		}
		return e.conn, nil
	case <-ctx.Done():
		return nil, ambassadorerrors.NewCanceledError("waiting for backend instance", ctx.Err())
	}
}

// total returns the number of live instances. Caller must hold mu.
func (p *Pool) total() int {
	return len(p.instances)
}

// TerminateForUser stops every instance owned by userID.
func (p *Pool) TerminateForUser(ctx context.Context, userID string) {
	p.mu.Lock()
	var toStop []backendconn.Connection
	for key, e := range p.instances {
		if key.UserID == userID {
			if e.conn != nil {
				toStop = append(toStop, e.conn)
			}
			p.removeLocked(key)
		}
	}
	p.mu.Unlock()

	for _, c := range toStop {
		_ = c.Stop(ctx)
	}
}

// InvalidateCredentials forces termination of (userID, mcpID) so the next
// spawn picks up new secrets.
func (p *Pool) InvalidateCredentials(ctx context.Context, userID, mcpID string) {
	key := Key{UserID: userID, MCPID: mcpID}
	p.mu.Lock()
	e, ok := p.instances[key]
	if ok {
		p.removeLocked(key)
	}
	p.mu.Unlock()

	if ok && e.conn != nil {
		_ = e.conn.Stop(ctx)
	}
}

// Status returns per-instance observability data.
func (p *Pool) Status() []InstanceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]InstanceStatus, 0, len(p.instances))
	for key, e := range p.instances {
		if e.conn == nil {
			continue
		}
		out = append(out, InstanceStatus{
			UserID:    key.UserID,
			MCPID:     key.MCPID,
			SpawnedAt: e.spawnedAt,
			Connected: e.conn.State() == backendconn.StateRunning,
			ToolCount: len(e.conn.Tools()),
		})
	}
	return out
}

// FingerprintDefs returns mcpID -> stable fingerprint of each registered
// per-user backend definition.
func (p *Pool) FingerprintDefs(fp func(transport backendconn.Transport, name string, config []byte) string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.defsByMCP))
	for mcpID, def := range p.defsByMCP {
		out[mcpID] = fp(def.Transport, def.Name, def.Config)
	}
	return out
}

// Close stops every live instance and the reaper.
func (p *Pool) Close(ctx context.Context) {
	close(p.stopReaper)
	p.mu.Lock()
	instances := p.instances
	p.instances = make(map[Key]*entry)
	p.perUser = make(map[string]int)
	p.mu.Unlock()

	for _, e := range instances {
		if e.conn != nil {
			_ = e.conn.Stop(ctx)
		}
	}
}
