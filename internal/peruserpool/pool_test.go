package peruserpool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/backendconn"
	"github.com/mcpambassador/server/internal/peruserpool"
)

type fakeConn struct {
	state backendconn.State
}

func (f *fakeConn) Start(ctx context.Context) error { f.state = backendconn.StateRunning; return nil }
func (f *fakeConn) Invoke(ctx context.Context, tool string, args map[string]any) (*backendconn.InvokeResult, error) {
	return &backendconn.InvokeResult{}, nil
}
func (f *fakeConn) RefreshTools(ctx context.Context) ([]backendconn.ToolDescriptor, error) {
	return nil, nil
}
func (f *fakeConn) Tools() []backendconn.ToolDescriptor { return nil }
func (f *fakeConn) HealthCheck(ctx context.Context) backendconn.HealthStatus {
	return backendconn.HealthStatus{Healthy: true}
}
func (f *fakeConn) HealthDetail() backendconn.HealthDetail { return backendconn.HealthDetail{} }
func (f *fakeConn) State() backendconn.State               { return f.state }
func (f *fakeConn) Stop(ctx context.Context) error         { f.state = backendconn.StateStopped; return nil }

func newTestPool(limits peruserpool.Limits) *peruserpool.Pool {
	lookup := func(ctx context.Context, userID, mcpID string) (map[string]string, error) {
		return map[string]string{"token": "secret-" + userID}, nil
	}
	factory := func(def peruserpool.BackendDef, creds map[string]string) (backendconn.Connection, error) {
		return &fakeConn{}, nil
	}
	p := peruserpool.New(limits, lookup, factory)
	p.RegisterBackend(peruserpool.BackendDef{MCPID: "mcp-1", Name: "db"})
	return p
}

func TestGetOrSpawnCreatesThenReusesInstance(t *testing.T) {
	t.Parallel()

	p := newTestPool(peruserpool.Limits{MaxPerUser: 2, MaxTotal: 10})
	conn1, err := p.GetOrSpawn(context.Background(), "user-1", "mcp-1")
	require.NoError(t, err)

	conn2, err := p.GetOrSpawn(context.Background(), "user-1", "mcp-1")
	require.NoError(t, err)
	assert.Same(t, conn1, conn2)
}

func TestGetOrSpawnEnforcesPerUserLimit(t *testing.T) {
	t.Parallel()

	p := newTestPool(peruserpool.Limits{MaxPerUser: 1, MaxTotal: 10})
	p.RegisterBackend(peruserpool.BackendDef{MCPID: "mcp-2", Name: "net"})

	_, err := p.GetOrSpawn(context.Background(), "user-1", "mcp-1")
	require.NoError(t, err)

	_, err = p.GetOrSpawn(context.Background(), "user-1", "mcp-2")
	require.Error(t, err)
	assert.True(t, ambassadorerrors.IsCapacityExceeded(err))
}

func TestGetOrSpawnUnregisteredBackendNotFound(t *testing.T) {
	t.Parallel()

	p := newTestPool(peruserpool.DefaultLimits())
	_, err := p.GetOrSpawn(context.Background(), "user-1", "unknown-mcp")
	require.Error(t, err)
	assert.True(t, ambassadorerrors.IsNotFound(err))
}

func TestTerminateForUserStopsOnlyThatUsersInstances(t *testing.T) {
	t.Parallel()

	p := newTestPool(peruserpool.DefaultLimits())
	connA, err := p.GetOrSpawn(context.Background(), "user-a", "mcp-1")
	require.NoError(t, err)
	connB, err := p.GetOrSpawn(context.Background(), "user-b", "mcp-1")
	require.NoError(t, err)

	p.TerminateForUser(context.Background(), "user-a")

	assert.Equal(t, backendconn.StateStopped, connA.State())
	assert.Equal(t, backendconn.StateRunning, connB.State())

	statuses := p.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "user-b", statuses[0].UserID)
}

func TestInvalidateCredentialsForcesRespawnOnNextGet(t *testing.T) {
	t.Parallel()

	p := newTestPool(peruserpool.DefaultLimits())
	first, err := p.GetOrSpawn(context.Background(), "user-1", "mcp-1")
	require.NoError(t, err)

	p.InvalidateCredentials(context.Background(), "user-1", "mcp-1")
	assert.Equal(t, backendconn.StateStopped, first.State())

	second, err := p.GetOrSpawn(context.Background(), "user-1", "mcp-1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

// TestGetOrSpawnConcurrentCallersForSameKeyShareOneInstance exercises two
// simultaneous GetOrSpawn calls for the same (userID, mcpID). A factory
// that blocks until released forces both calls to overlap; neither may
// observe a nil connection, and only one factory invocation may occur.
func TestGetOrSpawnConcurrentCallersForSameKeyShareOneInstance(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var factoryCalls atomic.Int32

	lookup := func(ctx context.Context, userID, mcpID string) (map[string]string, error) {
		return map[string]string{"token": "secret"}, nil
	}
	factory := func(def peruserpool.BackendDef, creds map[string]string) (backendconn.Connection, error) {
		factoryCalls.Add(1)
		<-release
		return &fakeConn{}, nil
	}
	p := peruserpool.New(peruserpool.Limits{MaxPerUser: 5, MaxTotal: 10}, lookup, factory)
	p.RegisterBackend(peruserpool.BackendDef{MCPID: "mcp-1", Name: "db"})

	var wg sync.WaitGroup
	results := make([]backendconn.Connection, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.GetOrSpawn(context.Background(), "user-1", "mcp-1")
		}()
	}

	// Give both goroutines a chance to enter GetOrSpawn before releasing
	// the factory, so the race window is actually exercised.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Same(t, results[0], results[1])
	assert.Equal(t, int32(1), factoryCalls.Load())
}

// TestGetOrSpawnConcurrentCallersForSameKeyShareSpawnFailure exercises two
// simultaneous GetOrSpawn calls for a key whose spawn fails; both callers
// must observe the same error, and the failed reservation must not be
// left behind.
func TestGetOrSpawnConcurrentCallersForSameKeyShareSpawnFailure(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	lookup := func(ctx context.Context, userID, mcpID string) (map[string]string, error) {
		return map[string]string{"token": "secret"}, nil
	}
	factory := func(def peruserpool.BackendDef, creds map[string]string) (backendconn.Connection, error) {
		<-release
		return nil, ambassadorerrors.NewInternalError("factory boom", nil)
	}
	p := peruserpool.New(peruserpool.Limits{MaxPerUser: 5, MaxTotal: 10}, lookup, factory)
	p.RegisterBackend(peruserpool.BackendDef{MCPID: "mcp-1", Name: "db"})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.GetOrSpawn(context.Background(), "user-1", "mcp-1")
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Error(t, errs[0])
	require.Error(t, errs[1])
	assert.Equal(t, errs[0].Error(), errs[1].Error())
	assert.Len(t, p.Status(), 0)

	// The failed reservation must not be left behind: a further attempt
	// reaches the factory again (and fails the same way) rather than
	// being rejected as over capacity.
	_, err := p.GetOrSpawn(context.Background(), "user-1", "mcp-1")
	require.Error(t, err)
	assert.False(t, ambassadorerrors.IsCapacityExceeded(err))
}
