package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/internal/catalog"
	"github.com/mcpambassador/server/internal/metrics"
	"github.com/mcpambassador/server/internal/router"
)

type toolsRoutes struct {
	resolver     *catalog.Resolver
	authz        *authz.Engine
	router       *router.Router
	clientStatus func(clientID string) authz.ClientStatus
	metrics      *metrics.Metrics
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SourceMCP   string `json:"source_mcp"`
}

// list implements GET /v1/tools.
func (t *toolsRoutes) list(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r)
	if sess == nil {
		writeError(w, ambassadorerrors.NewUnauthorizedError("missing session context", nil))
		return
	}

	resolved, err := t.resolver.Resolve(r.Context(), sess.ClientID, sess.ProfileID)
	if err != nil {
		writeError(w, err)
		return
	}

	names := make([]string, 0, len(resolved))
	bySourceName := make(map[string]catalog.ResolvedTool, len(resolved))
	for _, rt := range resolved {
		names = append(names, rt.Tool.Name)
		bySourceName[rt.Tool.Name] = rt
	}

	allowed, err := t.authz.ListAuthorized(r.Context(), authz.Session{
		ClientID:     sess.ClientID,
		ClientStatus: t.clientStatus(sess.ClientID),
		ProfileID:    sess.ProfileID,
	}, names)
	if err != nil {
		writeError(w, err)
		return
	}
	if t.metrics != nil {
		t.metrics.AuthzDecisions.WithLabelValues("permit").Add(float64(len(allowed)))
		t.metrics.AuthzDecisions.WithLabelValues("deny").Add(float64(len(names) - len(allowed)))
	}

	out := make([]toolSummary, 0, len(allowed))
	for _, name := range allowed {
		rt := bySourceName[name]
		out = append(out, toolSummary{Name: rt.Tool.Name, Description: rt.Tool.Description, SourceMCP: rt.SourceMCP})
	}

	writeOK(w, out)
}

type invokeRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// invoke implements POST /v1/tools/invoke.
func (t *toolsRoutes) invoke(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r)
	if sess == nil {
		writeError(w, ambassadorerrors.NewUnauthorizedError("missing session context", nil))
		return
	}

	var req invokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Tool == "" {
		writeError(w, ambassadorerrors.NewValidationError("tool is required", nil))
		return
	}

	resp, err := t.router.Invoke(r.Context(), router.SessionContext{
		SessionID:    sess.SessionID,
		UserID:       sess.UserID,
		ClientID:     sess.ClientID,
		ClientStatus: t.clientStatus(sess.ClientID),
		ProfileID:    sess.ProfileID,
		SourceIPHash: sourceIPHash(r),
	}, router.Invocation{Tool: req.Tool, Arguments: req.Arguments})
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, resp.Result)
}
