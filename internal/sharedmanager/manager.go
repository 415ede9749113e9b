// Package sharedmanager owns one Backend Connection per shared-mode
// backend and exposes aggregated tool listing and restart.
package sharedmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/backendconn"
)

// Factory builds a Connection for a backend definition. Supplied by the
// caller so the manager itself has no transport-specific knowledge.
type Factory func(def BackendDef) (backendconn.Connection, error)

// BackendDef is the subset of a Backend Catalog Entry the manager needs.
type BackendDef struct {
	Name      string
	Transport backendconn.Transport
	Config    json.RawMessage
}

// NamedTool pairs a tool descriptor with the backend name it came from, for
// aggregation across all shared backends.
type NamedTool struct {
	SourceMCP string
	Tool      backendconn.ToolDescriptor
}

// StatusEntry summarizes one shared connection for admin observability.
type StatusEntry struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	ToolCount int    `json:"tool_count"`
	State     string `json:"state"`
}

// Manager owns name -> Connection for every published shared backend.
// mu guards the connection and definition maps: writers hold the write
// lock only to change map entries, readers hold RLock. Connections are
// started and stopped outside the lock, so Add, Remove and Restart are not
// serialized against one another.
type Manager struct {
	factory Factory

	mu          sync.RWMutex
	connections map[string]backendconn.Connection
	defs        map[string]BackendDef
}

// NewManager creates an empty Manager using factory to construct
// connections when Add is called.
func NewManager(factory Factory) *Manager {
	return &Manager{
		factory:     factory,
		connections: make(map[string]backendconn.Connection),
		defs:        make(map[string]BackendDef),
	}
}

// Add constructs, starts, and registers a new shared connection. If name is
// already registered, the new connection is started and put in its place
// before the previous connection is stopped.
func (m *Manager) Add(ctx context.Context, def BackendDef) error {
	conn, err := m.factory(def)
	if err != nil {
		return err
	}
	if err := conn.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	old, existed := m.connections[def.Name]
	m.connections[def.Name] = conn
	m.defs[def.Name] = def
	m.mu.Unlock()

	if existed {
		_ = old.Stop(ctx)
	}
	return nil
}

// Remove stops and unregisters a shared connection.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	conn, ok := m.connections[name]
	if ok {
		delete(m.connections, name)
		delete(m.defs, name)
	}
	m.mu.Unlock()

	if !ok {
		return ambassadorerrors.NewNotFoundError(fmt.Sprintf("backend %q not found", name), nil)
	}
	return conn.Stop(ctx)
}

// Get returns the named connection.
func (m *Manager) Get(name string) (backendconn.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[name]
	if !ok {
		return nil, ambassadorerrors.NewNotFoundError(fmt.Sprintf("backend %q not found", name), nil)
	}
	return conn, nil
}

// Names lists every registered shared backend name.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.connections))
	for n := range m.connections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tools aggregates every shared backend's tool cache, namespaced by the
// backend's name as source_mcp.
func (m *Manager) Tools() []NamedTool {
	m.mu.RLock()
	snapshot := make(map[string]backendconn.Connection, len(m.connections))
	for n, c := range m.connections {
		snapshot[n] = c
	}
	m.mu.RUnlock()

	var out []NamedTool
	names := make([]string, 0, len(snapshot))
	for n := range snapshot {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		for _, tool := range snapshot[n].Tools() {
			out = append(out, NamedTool{SourceMCP: n, Tool: tool})
		}
	}
	return out
}

// Restart stops then starts the named backend in place.
func (m *Manager) Restart(ctx context.Context, name string) error {
	m.mu.RLock()
	conn, ok := m.connections[name]
	m.mu.RUnlock()
	if !ok {
		return ambassadorerrors.NewNotFoundError(fmt.Sprintf("backend %q not found", name), nil)
	}
	if err := conn.Stop(ctx); err != nil {
		return err
	}
	return conn.Start(ctx)
}

// Status summarizes every registered connection.
func (m *Manager) Status(ctx context.Context) []StatusEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.connections))
	for n := range m.connections {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]StatusEntry, 0, len(names))
	for _, n := range names {
		conn := m.connections[n]
		health := conn.HealthCheck(ctx)
		out = append(out, StatusEntry{
			Name:      n,
			Healthy:   health.Healthy,
			ToolCount: health.ToolCount,
			State:     conn.State().String(),
		})
	}
	return out
}

// Fingerprints returns name -> stable content hash of (transport, name, config),
// consumed by the Catalog Reloader to detect drift.
func (m *Manager) Fingerprints() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.defs))
	for name, def := range m.defs {
		out[name] = Fingerprint(def)
	}
	return out
}

// Fingerprint computes a stable hash over a canonicalized
// (transport, name, config) tuple. Identical inputs always
// produce identical output because map keys in def.Config are sorted by
// json.Marshal of a canonical, re-decoded structure.
func Fingerprint(def BackendDef) string {
	canonical := canonicalizeJSON(def.Config)
	h := sha256.New()
	h.Write([]byte(def.Transport))
	h.Write([]byte{0})
	h.Write([]byte(def.Name))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalizeJSON round-trips raw JSON through a generic interface{} so
// that key ordering (Go maps are unordered) doesn't affect the hash: the
// standard library's json.Marshal of a map[string]any sorts keys.
func canonicalizeJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// Close stops every registered connection.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	conns := m.connections
	m.connections = make(map[string]backendconn.Connection)
	m.defs = make(map[string]BackendDef)
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Stop(ctx)
	}
}
