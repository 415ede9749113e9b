package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/internal/catalog"
	"github.com/mcpambassador/server/internal/memstore"
)

func newEngine(t *testing.T, profiles ...catalog.Profile) *authz.Engine {
	t.Helper()
	store := memstore.NewCatalog()
	for _, p := range profiles {
		store.PutProfile(p)
	}
	resolver := catalog.NewResolver(store, store, store)
	return authz.NewEngine(resolver)
}

func TestAuthorizeDenyWins(t *testing.T) {
	t.Parallel()

	e := newEngine(t, catalog.Profile{
		ProfileID:    "p1",
		AllowedTools: []string{"fs.*"},
		DeniedTools:  []string{"fs.delete_*"},
	})

	result, err := e.Authorize(context.Background(), authz.Session{
		ClientID: "c1", ClientStatus: authz.ClientActive, ProfileID: "p1",
	}, "fs.delete_all")
	require.NoError(t, err)
	assert.Equal(t, authz.DecisionDeny, result.Decision)
	assert.Equal(t, "p1", result.PolicyID)
}

func TestAuthorizePermitsAllowedNonDenied(t *testing.T) {
	t.Parallel()

	e := newEngine(t, catalog.Profile{
		ProfileID:    "p1",
		AllowedTools: []string{"fs.*"},
		DeniedTools:  []string{"fs.delete_*"},
	})

	result, err := e.Authorize(context.Background(), authz.Session{
		ClientID: "c1", ClientStatus: authz.ClientActive, ProfileID: "p1",
	}, "fs.read_file")
	require.NoError(t, err)
	assert.Equal(t, authz.DecisionPermit, result.Decision)
}

func TestAuthorizeDefaultDeny(t *testing.T) {
	t.Parallel()

	e := newEngine(t, catalog.Profile{ProfileID: "p1", AllowedTools: []string{"fs.*"}})

	result, err := e.Authorize(context.Background(), authz.Session{
		ClientID: "c1", ClientStatus: authz.ClientActive, ProfileID: "p1",
	}, "net.fetch")
	require.NoError(t, err)
	assert.Equal(t, authz.DecisionDeny, result.Decision)
	assert.Equal(t, "default deny", result.Reason)
}

func TestAuthorizeLifecycleGateOverridesPolicy(t *testing.T) {
	t.Parallel()

	e := newEngine(t, catalog.Profile{ProfileID: "p1", AllowedTools: []string{"*"}})

	for _, status := range []authz.ClientStatus{authz.ClientSuspended, authz.ClientRevoked} {
		result, err := e.Authorize(context.Background(), authz.Session{
			ClientID: "c1", ClientStatus: status, ProfileID: "p1",
		}, "fs.read_file")
		require.NoError(t, err)
		assert.Equal(t, authz.DecisionDeny, result.Decision)
		assert.Equal(t, authz.SystemLifecyclePolicyID, result.PolicyID)
	}
}

func TestAuthorizeInheritedDenyAccumulatesAcrossChain(t *testing.T) {
	t.Parallel()

	e := newEngine(t,
		catalog.Profile{ProfileID: "base", AllowedTools: []string{"*"}, DeniedTools: []string{"admin.*"}},
		catalog.Profile{ProfileID: "child", InheritedFrom: "base", DeniedTools: []string{"fs.delete_*"}},
	)

	denied, err := e.Authorize(context.Background(), authz.Session{
		ClientID: "c1", ClientStatus: authz.ClientActive, ProfileID: "child",
	}, "admin.shutdown")
	require.NoError(t, err)
	assert.Equal(t, authz.DecisionDeny, denied.Decision)

	permitted, err := e.Authorize(context.Background(), authz.Session{
		ClientID: "c1", ClientStatus: authz.ClientActive, ProfileID: "child",
	}, "fs.read_file")
	require.NoError(t, err)
	assert.Equal(t, authz.DecisionPermit, permitted.Decision)
}

func TestListAuthorizedEmptyForSuspendedClient(t *testing.T) {
	t.Parallel()

	e := newEngine(t, catalog.Profile{ProfileID: "p1", AllowedTools: []string{"*"}})

	out, err := e.ListAuthorized(context.Background(), authz.Session{
		ClientID: "c1", ClientStatus: authz.ClientSuspended, ProfileID: "p1",
	}, []string{"fs.read_file"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestListAuthorizedFiltersDeniedAndUnmatched(t *testing.T) {
	t.Parallel()

	e := newEngine(t, catalog.Profile{
		ProfileID:    "p1",
		AllowedTools: []string{"fs.*", "net.fetch"},
		DeniedTools:  []string{"fs.delete_*"},
	})

	out, err := e.ListAuthorized(context.Background(), authz.Session{
		ClientID: "c1", ClientStatus: authz.ClientActive, ProfileID: "p1",
	}, []string{"fs.read_file", "fs.delete_all", "net.fetch", "db.query"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fs.read_file", "net.fetch"}, out)
}
