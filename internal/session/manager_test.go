package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/memstore"
	"github.com/mcpambassador/server/internal/ratelimit"
	"github.com/mcpambassador/server/internal/session"
)

func newTestManager(t *testing.T) (*session.Manager, *memstore.Session) {
	t.Helper()
	store := memstore.NewSession()
	secrets, err := session.LoadSecret(t.TempDir())
	require.NoError(t, err)
	mgr := session.NewManager(store, store, secrets, ratelimit.New(), 0)
	return mgr, store
}

func TestRegisterIssuesNewSessionForValidKey(t *testing.T) {
	t.Parallel()

	mgr, store := newTestManager(t)
	rawKey := "amb_pk_AAAAAAAAbbbbbbbbCCCCCCCCddddddddEEEEEEEEffffffff"
	prefix, ok := session.ParsePresharedKey(rawKey)
	require.True(t, ok)

	store.PutClient(session.Client{
		ClientID:  "client-1",
		UserID:    "user-1",
		ProfileID: "profile-1",
		KeyPrefix: prefix,
		KeyHash:   session.HashKey(rawKey, []byte("salt")),
		Status:    session.ClientActive,
	})

	result, err := mgr.Register(context.Background(), rawKey, "my-host", "claude-desktop", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.NotEmpty(t, result.SessionToken)
	assert.Equal(t, "profile-1", result.ProfileID)

	verified, err := mgr.Verify(context.Background(), result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, verified.SessionID)
	assert.Equal(t, "user-1", verified.UserID)
}

func TestRegisterRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t)
	_, err := mgr.Register(context.Background(), "amb_pk_AAAAAAAAbbbbbbbbCCCCCCCCddddddddEEEEEEEEffffffff", "host", "tool", "10.0.0.1")
	assert.Error(t, err)
}

func TestRegisterRejectsMalformedKey(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t)
	_, err := mgr.Register(context.Background(), "not-a-valid-key", "host", "tool", "10.0.0.1")
	assert.Error(t, err)
}

func TestRegisterRejectsSuspendedClient(t *testing.T) {
	t.Parallel()

	mgr, store := newTestManager(t)
	rawKey := "amb_pk_AAAAAAAAbbbbbbbbCCCCCCCCddddddddEEEEEEEEffffffff"
	prefix, _ := session.ParsePresharedKey(rawKey)

	store.PutClient(session.Client{
		ClientID: "client-1", UserID: "user-1", ProfileID: "profile-1",
		KeyPrefix: prefix, KeyHash: session.HashKey(rawKey, []byte("salt")),
		Status: session.ClientSuspended,
	})

	_, err := mgr.Register(context.Background(), rawKey, "host", "tool", "10.0.0.1")
	assert.Error(t, err)
}

func TestRegisterReusesActiveSessionSameProfile(t *testing.T) {
	t.Parallel()

	mgr, store := newTestManager(t)
	rawKey := "amb_pk_AAAAAAAAbbbbbbbbCCCCCCCCddddddddEEEEEEEEffffffff"
	prefix, _ := session.ParsePresharedKey(rawKey)

	store.PutClient(session.Client{
		ClientID: "client-1", UserID: "user-1", ProfileID: "profile-1",
		KeyPrefix: prefix, KeyHash: session.HashKey(rawKey, []byte("salt")),
		Status: session.ClientActive,
	})

	first, err := mgr.Register(context.Background(), rawKey, "host", "tool", "10.0.0.1")
	require.NoError(t, err)

	second, err := mgr.Register(context.Background(), rawKey, "host", "tool", "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.SessionToken, second.SessionToken)
}

func TestRegisterReuseWithProfileMismatchConflicts(t *testing.T) {
	t.Parallel()

	mgr, store := newTestManager(t)
	rawKey := "amb_pk_AAAAAAAAbbbbbbbbCCCCCCCCddddddddEEEEEEEEffffffff"
	prefix, _ := session.ParsePresharedKey(rawKey)

	client := session.Client{
		ClientID: "client-1", UserID: "user-1", ProfileID: "profile-original",
		KeyPrefix: prefix, KeyHash: session.HashKey(rawKey, []byte("salt")),
		Status: session.ClientActive,
	}
	store.PutClient(client)

	_, err := mgr.Register(context.Background(), rawKey, "host", "tool", "10.0.0.1")
	require.NoError(t, err)

	// The operator reassigns the client to a different profile while its
	// session is still live; re-registration must conflict without leaking
	// either profile id.
	client.ProfileID = "profile-reassigned"
	store.PutClient(client)

	_, err = mgr.Register(context.Background(), rawKey, "host", "tool", "10.0.0.1")
	require.Error(t, err)
	assert.True(t, ambassadorerrors.IsConflict(err))
	assert.NotContains(t, err.Error(), "profile-original")
	assert.NotContains(t, err.Error(), "profile-reassigned")
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	mgr, store := newTestManager(t)
	rawKey := "amb_pk_AAAAAAAAbbbbbbbbCCCCCCCCddddddddEEEEEEEEffffffff"
	prefix, _ := session.ParsePresharedKey(rawKey)

	store.PutClient(session.Client{
		ClientID: "client-1", UserID: "user-1", ProfileID: "profile-1",
		KeyPrefix: prefix, KeyHash: session.HashKey(rawKey, []byte("salt")),
		Status: session.ClientActive,
	})

	result, err := mgr.Register(context.Background(), rawKey, "host", "tool", "10.0.0.1")
	require.NoError(t, err)

	_, err = mgr.Verify(context.Background(), result.SessionToken+"tamper")
	assert.Error(t, err)
}
