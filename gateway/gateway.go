// Package gateway exposes the streaming tool-calling endpoint. Each live
// connection is tracked in the session registry together with the
// identity it authenticated as, so tool handlers can answer "who is
// calling" without reaching back to the HTTP layer.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/saasbridge/gateway/server"
	"github.com/saasbridge/gateway/sessions"
	"github.com/saasbridge/gateway/upstream"
)

const serverVersion = "1.0.0"

type Gateway struct {
	mcp        *mcpserver.MCPServer
	streamable *mcpserver.StreamableHTTPServer
	registry   *sessions.Registry
	log        zerolog.Logger
}

func New(name string, registry *sessions.Registry, log zerolog.Logger) *Gateway {
	g := &Gateway{registry: registry, log: log}

	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(g.onRegisterSession)
	hooks.AddOnUnregisterSession(g.onUnregisterSession)

	g.mcp = mcpserver.NewMCPServer(
		name,
		serverVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithHooks(hooks),
	)
	g.mcp.AddTool(whoAmITool(), g.handleWhoAmI)
	g.mcp.AddTool(connectionInfoTool(), g.handleConnectionInfo)

	g.streamable = mcpserver.NewStreamableHTTPServer(g.mcp)
	return g
}

// Handler returns the streaming endpoint. It carries no authentication of
// its own and must be mounted behind bearer protection.
func (g *Gateway) Handler() http.Handler {
	return g.streamable
}

// Shutdown closes every live connection and stops the transport. Closing
// sessions first lets each one be unregistered through the normal hook
// path before the listener goes away.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.registry.CloseAll()
	return g.streamable.Shutdown(ctx)
}

// onRegisterSession binds a new streaming connection to the identity that
// authenticated the underlying HTTP request. The identity is resolved once
// here and stays fixed for the life of the connection.
func (g *Gateway) onRegisterSession(ctx context.Context, session mcpserver.ClientSession) {
	identity, ok := server.IdentityFromContext(ctx)
	if !ok {
		g.log.Warn().Str("transportSessionId", session.SessionID()).Msg("streaming session registered without identity")
		return
	}

	sessionID := session.SessionID()
	g.registry.Register(sessionID, identity, func() error {
		g.mcp.UnregisterSession(context.Background(), sessionID)
		return nil
	})
	g.log.Info().Str("transportSessionId", sessionID).Str("email", identity.Email).Msg("streaming session connected")
}

func (g *Gateway) onUnregisterSession(_ context.Context, session mcpserver.ClientSession) {
	g.registry.Unregister(session.SessionID())
	g.log.Info().Str("transportSessionId", session.SessionID()).Msg("streaming session disconnected")
}

// currentIdentity resolves the caller's identity for a tool invocation.
// The registry holds the identity bound at connect time; the request
// context carries the one the bearer middleware saw, which is newer when
// a refresh happened on this request, in which case the registry entry is
// brought up to date for future calls.
func (g *Gateway) currentIdentity(ctx context.Context) (*upstream.Identity, bool) {
	ctxIdentity, ctxOK := server.IdentityFromContext(ctx)

	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return ctxIdentity, ctxOK
	}

	registered, ok := g.registry.Resolve(session.SessionID())
	if !ok {
		return ctxIdentity, ctxOK
	}
	if ctxOK && ctxIdentity.AccessToken != registered.AccessToken {
		g.registry.UpdateIdentity(session.SessionID(), ctxIdentity)
		return ctxIdentity, true
	}
	return registered, true
}

type whoAmIResult struct {
	Email             string `json:"email"`
	SubjectID         string `json:"subjectId"`
	UpstreamExpiresAt string `json:"upstreamExpiresAt"`
}

func whoAmITool() mcp.Tool {
	return mcp.NewTool(
		"whoami",
		mcp.WithDescription("Returns the identity of the authenticated user for this connection"),
		mcp.WithOutputSchema[whoAmIResult](),
	)
}

func (g *Gateway) handleWhoAmI(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identity, ok := g.currentIdentity(ctx)
	if !ok {
		return mcp.NewToolResultError("no authenticated identity for this connection"), nil
	}
	result := whoAmIResult{
		Email:             identity.Email,
		SubjectID:         identity.SubjectID,
		UpstreamExpiresAt: identity.ExpiresAt.Format(time.RFC3339),
	}
	return mcp.NewToolResultStructured(result, "authenticated as "+identity.Email), nil
}

type connectionInfoResult struct {
	SessionID      string `json:"sessionId"`
	ConnectedAt    string `json:"connectedAt"`
	ActiveSessions int    `json:"activeSessions"`
}

func connectionInfoTool() mcp.Tool {
	return mcp.NewTool(
		"connection_info",
		mcp.WithDescription("Returns details about the current streaming connection"),
		mcp.WithOutputSchema[connectionInfoResult](),
	)
}

func (g *Gateway) handleConnectionInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return mcp.NewToolResultError("no streaming session on this call"), nil
	}

	result := connectionInfoResult{
		SessionID:      session.SessionID(),
		ActiveSessions: g.registry.Len(),
	}
	g.registry.ForEachActive(func(ts *sessions.TransportSession) {
		if ts.SessionID == session.SessionID() {
			result.ConnectedAt = ts.ConnectedAt.Format(time.RFC3339)
		}
	})
	return mcp.NewToolResultStructured(result, "session "+session.SessionID()), nil
}
