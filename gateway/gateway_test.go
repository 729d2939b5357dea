package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/saasbridge/gateway/server"
	"github.com/saasbridge/gateway/sessions"
	"github.com/saasbridge/gateway/upstream"
)

type fakeClientSession struct {
	sessionID   string
	notifChan   chan mcp.JSONRPCNotification
	initialized bool
}

func newFakeClientSession(id string) *fakeClientSession {
	return &fakeClientSession{sessionID: id, notifChan: make(chan mcp.JSONRPCNotification, 8)}
}

func (f *fakeClientSession) SessionID() string { return f.sessionID }
func (f *fakeClientSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return f.notifChan
}
func (f *fakeClientSession) Initialize()       { f.initialized = true }
func (f *fakeClientSession) Initialized() bool { return f.initialized }

func testIdentity(email string) *upstream.Identity {
	return &upstream.Identity{
		AccessToken: "access-" + email,
		ExpiresAt:   time.Now().Add(time.Hour),
		Email:       email,
		SubjectID:   "subject-" + email,
	}
}

func identityContext(identity *upstream.Identity) context.Context {
	return server.ContextWithIdentity(context.Background(), identity)
}

func TestSessionHooksTrackRegistry(t *testing.T) {
	registry := sessions.NewRegistry(zerolog.Nop())
	g := New("test-gateway", registry, zerolog.Nop())

	session := newFakeClientSession("transport-1")
	identity := testIdentity("dev@example.com")

	g.onRegisterSession(identityContext(identity), session)
	require.Equal(t, 1, registry.Len())

	resolved, ok := registry.Resolve("transport-1")
	require.True(t, ok)
	require.Equal(t, "dev@example.com", resolved.Email)

	g.onUnregisterSession(context.Background(), session)
	require.Equal(t, 0, registry.Len())
}

func TestRegisterWithoutIdentityIsIgnored(t *testing.T) {
	registry := sessions.NewRegistry(zerolog.Nop())
	g := New("test-gateway", registry, zerolog.Nop())

	g.onRegisterSession(context.Background(), newFakeClientSession("transport-1"))
	require.Equal(t, 0, registry.Len())
}

func TestWhoAmIResolvesRegisteredIdentity(t *testing.T) {
	registry := sessions.NewRegistry(zerolog.Nop())
	g := New("test-gateway", registry, zerolog.Nop())

	session := newFakeClientSession("transport-1")
	identity := testIdentity("dev@example.com")
	g.onRegisterSession(identityContext(identity), session)

	ctx := g.mcp.WithContext(identityContext(identity), session)
	result, err := g.handleWhoAmI(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, result.IsError)

	structured, ok := result.StructuredContent.(whoAmIResult)
	require.True(t, ok)
	require.Equal(t, "dev@example.com", structured.Email)
	require.Equal(t, "subject-dev@example.com", structured.SubjectID)
}

func TestWhoAmIWithoutIdentityErrors(t *testing.T) {
	registry := sessions.NewRegistry(zerolog.Nop())
	g := New("test-gateway", registry, zerolog.Nop())

	result, err := g.handleWhoAmI(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestRefreshedIdentityUpdatesRegistry(t *testing.T) {
	registry := sessions.NewRegistry(zerolog.Nop())
	g := New("test-gateway", registry, zerolog.Nop())

	session := newFakeClientSession("transport-1")
	original := testIdentity("dev@example.com")
	g.onRegisterSession(identityContext(original), session)

	refreshed := testIdentity("dev@example.com")
	refreshed.AccessToken = "rotated-access"

	ctx := g.mcp.WithContext(identityContext(refreshed), session)
	got, ok := g.currentIdentity(ctx)
	require.True(t, ok)
	require.Equal(t, "rotated-access", got.AccessToken)

	stored, ok := registry.Resolve("transport-1")
	require.True(t, ok)
	require.Equal(t, "rotated-access", stored.AccessToken)
}

func TestCloseAllUnregistersSessions(t *testing.T) {
	registry := sessions.NewRegistry(zerolog.Nop())
	g := New("test-gateway", registry, zerolog.Nop())

	for _, id := range []string{"transport-1", "transport-2", "transport-3"} {
		g.onRegisterSession(identityContext(testIdentity(id+"@example.com")), newFakeClientSession(id))
	}
	require.Equal(t, 3, registry.Len())

	registry.CloseAll()
	require.Equal(t, 0, registry.Len())
}

var _ mcpserver.ClientSession = (*fakeClientSession)(nil)
