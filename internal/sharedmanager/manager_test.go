package sharedmanager_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/backendconn"
	"github.com/mcpambassador/server/internal/sharedmanager"
)

type fakeConn struct {
	name    string
	state   backendconn.State
	tools   []backendconn.ToolDescriptor
	stopErr error
}

func (f *fakeConn) Start(ctx context.Context) error { f.state = backendconn.StateRunning; return nil }
func (f *fakeConn) Invoke(ctx context.Context, tool string, args map[string]any) (*backendconn.InvokeResult, error) {
	return &backendconn.InvokeResult{}, nil
}
func (f *fakeConn) RefreshTools(ctx context.Context) ([]backendconn.ToolDescriptor, error) {
	return f.tools, nil
}
func (f *fakeConn) Tools() []backendconn.ToolDescriptor { return f.tools }
func (f *fakeConn) HealthCheck(ctx context.Context) backendconn.HealthStatus {
	return backendconn.HealthStatus{Healthy: f.state == backendconn.StateRunning, ToolCount: len(f.tools)}
}
func (f *fakeConn) HealthDetail() backendconn.HealthDetail {
	return backendconn.HealthDetail{State: f.state.String()}
}
func (f *fakeConn) State() backendconn.State { return f.state }
func (f *fakeConn) Stop(ctx context.Context) error {
	f.state = backendconn.StateStopped
	return f.stopErr
}

func newFactory(conns map[string]*fakeConn) sharedmanager.Factory {
	return func(def sharedmanager.BackendDef) (backendconn.Connection, error) {
		c := &fakeConn{name: def.Name, tools: []backendconn.ToolDescriptor{{Name: def.Name + ".tool"}}}
		conns[def.Name] = c
		return c, nil
	}
}

func TestAddStartsAndRegistersConnection(t *testing.T) {
	t.Parallel()

	conns := make(map[string]*fakeConn)
	m := sharedmanager.NewManager(newFactory(conns))

	err := m.Add(context.Background(), sharedmanager.BackendDef{Name: "fs", Transport: backendconn.TransportStdio})
	require.NoError(t, err)

	assert.Equal(t, []string{"fs"}, m.Names())
	assert.Equal(t, backendconn.StateRunning, conns["fs"].state)
}

func TestAddReplacesAndStopsPreviousConnection(t *testing.T) {
	t.Parallel()

	conns := make(map[string]*fakeConn)
	m := sharedmanager.NewManager(newFactory(conns))

	require.NoError(t, m.Add(context.Background(), sharedmanager.BackendDef{Name: "fs", Transport: backendconn.TransportStdio}))
	first := conns["fs"]

	require.NoError(t, m.Add(context.Background(), sharedmanager.BackendDef{Name: "fs", Transport: backendconn.TransportHTTP}))

	assert.Equal(t, backendconn.StateStopped, first.state)
	assert.Len(t, m.Names(), 1)
}

func TestRemoveUnknownBackendFails(t *testing.T) {
	t.Parallel()

	m := sharedmanager.NewManager(newFactory(make(map[string]*fakeConn)))
	err := m.Remove(context.Background(), "missing")
	assert.Error(t, err)
}

func TestToolsAggregatesAcrossBackendsNamespaced(t *testing.T) {
	t.Parallel()

	conns := make(map[string]*fakeConn)
	m := sharedmanager.NewManager(newFactory(conns))
	require.NoError(t, m.Add(context.Background(), sharedmanager.BackendDef{Name: "fs"}))
	require.NoError(t, m.Add(context.Background(), sharedmanager.BackendDef{Name: "net"}))

	tools := m.Tools()
	require.Len(t, tools, 2)
	sources := map[string]bool{tools[0].SourceMCP: true, tools[1].SourceMCP: true}
	assert.True(t, sources["fs"])
	assert.True(t, sources["net"])
}

func TestFingerprintStableForIdenticalDefs(t *testing.T) {
	t.Parallel()

	a := sharedmanager.Fingerprint(sharedmanager.BackendDef{Name: "fs", Transport: backendconn.TransportStdio, Config: []byte(`{"b":1,"a":2}`)})
	b := sharedmanager.Fingerprint(sharedmanager.BackendDef{Name: "fs", Transport: backendconn.TransportStdio, Config: []byte(`{"a":2,"b":1}`)})
	assert.Equal(t, a, b)

	c := sharedmanager.Fingerprint(sharedmanager.BackendDef{Name: "fs", Transport: backendconn.TransportStdio, Config: []byte(`{"a":3,"b":1}`)})
	assert.NotEqual(t, a, c)
}

func TestRestartStopsThenStartsInPlace(t *testing.T) {
	t.Parallel()

	conns := make(map[string]*fakeConn)
	m := sharedmanager.NewManager(newFactory(conns))
	require.NoError(t, m.Add(context.Background(), sharedmanager.BackendDef{Name: "fs"}))

	require.NoError(t, m.Restart(context.Background(), "fs"))
	assert.Equal(t, backendconn.StateRunning, conns["fs"].state)
}
