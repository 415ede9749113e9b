package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/internal/backendconn"
	"github.com/mcpambassador/server/internal/catalog"
	"github.com/mcpambassador/server/internal/httpapi"
	"github.com/mcpambassador/server/internal/memstore"
	"github.com/mcpambassador/server/internal/peruserpool"
	"github.com/mcpambassador/server/internal/ratelimit"
	"github.com/mcpambassador/server/internal/router"
	"github.com/mcpambassador/server/internal/session"
	"github.com/mcpambassador/server/internal/sharedmanager"
)

type fakeConn struct{}

func (f *fakeConn) Start(ctx context.Context) error { return nil }
func (f *fakeConn) Invoke(ctx context.Context, tool string, args map[string]any) (*backendconn.InvokeResult, error) {
	return &backendconn.InvokeResult{Content: []backendconn.ContentItem{{Type: "text", Text: "done"}}}, nil
}
func (f *fakeConn) RefreshTools(ctx context.Context) ([]backendconn.ToolDescriptor, error) {
	return nil, nil
}
func (f *fakeConn) Tools() []backendconn.ToolDescriptor { return nil }
func (f *fakeConn) HealthCheck(ctx context.Context) backendconn.HealthStatus {
	return backendconn.HealthStatus{Healthy: true}
}
func (f *fakeConn) HealthDetail() backendconn.HealthDetail { return backendconn.HealthDetail{} }
func (f *fakeConn) State() backendconn.State               { return backendconn.StateRunning }
func (f *fakeConn) Stop(ctx context.Context) error         { return nil }

const testAdminKey = "amb_ak_AAAAAAAAbbbbbbbbCCCCCCCCdddddddd"

type testEnv struct {
	handler      http.Handler
	rawKey       string
	clientID     string
	sessionStore *memstore.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalogStore := memstore.NewCatalog()
	catalogStore.PutProfile(catalog.Profile{ProfileID: "profile-1", AllowedTools: []string{"fs.*"}})
	catalogStore.PutEntry(catalog.Entry{
		MCPID: "mcp-1", Name: "fs", Status: catalog.EntryPublished, IsolationMode: catalog.IsolationShared,
		ToolCatalog: []catalog.ToolDescriptor{{Name: "fs.read_file"}},
	})
	catalogStore.PutSubscription(catalog.Subscription{SubscriptionID: "sub-1", ClientID: "client-1", MCPID: "mcp-1", Status: catalog.SubscriptionActive})

	resolver := catalog.NewResolver(catalogStore, catalogStore, catalogStore)
	engine := authz.NewEngine(resolver)

	shared := sharedmanager.NewManager(func(def sharedmanager.BackendDef) (backendconn.Connection, error) {
		return &fakeConn{}, nil
	})
	require.NoError(t, shared.Add(context.Background(), sharedmanager.BackendDef{Name: "fs", Transport: backendconn.TransportStdio}))

	perUser := peruserpool.New(peruserpool.DefaultLimits(),
		func(ctx context.Context, userID, mcpID string) (map[string]string, error) { return nil, nil },
		func(def peruserpool.BackendDef, creds map[string]string) (backendconn.Connection, error) {
			return &fakeConn{}, nil
		})

	auditor, err := audit.New(t.TempDir(), 7)
	require.NoError(t, err)
	t.Cleanup(auditor.Close)

	tr := router.New(resolver, engine, shared, perUser, auditor, nil)

	sessionStore := memstore.NewSession()
	secrets, err := session.LoadSecret(t.TempDir())
	require.NoError(t, err)
	sessionMgr := session.NewManager(sessionStore, sessionStore, secrets, ratelimit.New(), 0)

	rawKey := "amb_pk_AAAAAAAAbbbbbbbbCCCCCCCCddddddddEEEEEEEEffffffff"
	prefix, ok := session.ParsePresharedKey(rawKey)
	require.True(t, ok)
	sessionStore.PutClient(session.Client{
		ClientID: "client-1", UserID: "user-1", ProfileID: "profile-1",
		KeyPrefix: prefix, KeyHash: session.HashKey(rawKey, []byte("salt")),
		Status: session.ClientActive,
	})

	clientStatus := func(clientID string) authz.ClientStatus {
		c, err := sessionStore.GetClient(context.Background(), clientID)
		if err != nil || c == nil {
			return authz.ClientRevoked
		}
		return authz.ClientStatus(c.Status)
	}

	adminKeys := memstore.NewAdminKeys()
	adminKeys.Put(session.HashKey(testAdminKey, []byte("admin-salt")))

	handler := httpapi.NewRouter(httpapi.Deps{
		SessionManager: sessionMgr,
		Resolver:       resolver,
		Authz:          engine,
		Router:         tr,
		Shared:         shared,
		Auditor:        auditor,
		PerUser:        perUser,
		ClientStatus:   clientStatus,
		RevokeClient:   sessionStore.RevokeClient,
		AdminKeyCheck: func(_ context.Context, rawKey string) bool {
			return adminKeys.Verify(rawKey)
		},
	})

	return &testEnv{handler: handler, rawKey: rawKey, clientID: "client-1", sessionStore: sessionStore}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRegisterListInvokeEndToEnd(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	regRec := doJSON(t, env.handler, http.MethodPost, "/v1/sessions/register", map[string]string{
		"preshared_key": env.rawKey, "friendly_name": "laptop", "host_tool": "claude-desktop",
	}, nil)
	require.Equal(t, http.StatusOK, regRec.Code)

	var regEnv struct {
		OK   bool `json:"ok"`
		Data struct {
			SessionToken string `json:"session_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(regRec.Body.Bytes(), &regEnv))
	require.True(t, regEnv.OK)
	require.NotEmpty(t, regEnv.Data.SessionToken)

	listRec := doJSON(t, env.handler, http.MethodGet, "/v1/tools", nil, map[string]string{"X-Session-Token": regEnv.Data.SessionToken})
	require.Equal(t, http.StatusOK, listRec.Code)
	assert.Contains(t, listRec.Body.String(), "fs.read_file")

	invokeRec := doJSON(t, env.handler, http.MethodPost, "/v1/tools/invoke", map[string]any{"tool": "fs.read_file"},
		map[string]string{"X-Session-Token": regEnv.Data.SessionToken})
	require.Equal(t, http.StatusOK, invokeRec.Code)
	assert.Contains(t, invokeRec.Body.String(), "done")
}

func TestToolsRequiresSessionToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/tools", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRouteRejectsWrongKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/admin/health/mcps", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminTerminateClientRevokesAndReturnsOK(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/admin/clients/client-1/terminate?user_id=user-1", nil,
		map[string]string{"Authorization": "Bearer " + testAdminKey})
	require.Equal(t, http.StatusOK, rec.Code)

	c, err := env.sessionStore.GetClient(context.Background(), env.clientID)
	require.NoError(t, err)
	assert.Equal(t, session.ClientRevoked, c.Status)
}

func TestRegisterRejectsMissingPresharedKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/sessions/register", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
