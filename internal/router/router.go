// Package router implements the Tool Router: the seam that
// resolves a client's allowed tool, routes the call to the right Backend
// Connection (shared or per-user), translates connection errors to the
// external taxonomy, and emits the audit event.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/internal/backendconn"
	"github.com/mcpambassador/server/internal/catalog"
	"github.com/mcpambassador/server/internal/metrics"
	"github.com/mcpambassador/server/internal/peruserpool"
	"github.com/mcpambassador/server/internal/sharedmanager"
)

// SessionContext carries the caller identity through authorization and
// invocation, threaded in from the Session Layer.
type SessionContext struct {
	SessionID    string
	UserID       string
	ClientID     string
	ClientStatus authz.ClientStatus
	ProfileID    string
	SourceIPHash string
}

// Invocation is a single tool call request.
type Invocation struct {
	Tool      string
	Arguments json.RawMessage
}

// Response is a successful tool call result.
type Response struct {
	Result backendconn.InvokeResult
}

// Router composes the Catalog Resolver, Authorization Engine, Shared
// Manager, Per-User Pool, and Audit Writer into one dispatch procedure.
type Router struct {
	resolver *catalog.Resolver
	authz    *authz.Engine
	shared   *sharedmanager.Manager
	perUser  *peruserpool.Pool
	auditor  *audit.Writer
	metrics  *metrics.Metrics
}

// New constructs a Router. m may be nil, in which case invocations run
// without Prometheus counters or OTel spans (e.g. in unit tests).
func New(resolver *catalog.Resolver, authzEngine *authz.Engine, shared *sharedmanager.Manager, perUser *peruserpool.Pool, auditor *audit.Writer, m *metrics.Metrics) *Router {
	return &Router{resolver: resolver, authz: authzEngine, shared: shared, perUser: perUser, auditor: auditor, metrics: m}
}

// Invoke resolves, authorizes, dispatches, and audits one tool call,
// wrapped with a tracing span and Prometheus counters keyed by
// downstream backend and outcome.
func (r *Router) Invoke(ctx context.Context, sess SessionContext, inv Invocation) (*Response, error) {
	start := time.Now()
	mcpID := "unresolved"
	if r.metrics != nil {
		var span trace.Span
		ctx, span = r.metrics.StartInvokeSpan(ctx, inv.Tool, mcpID)
		defer span.End()
	}

	resp, resolvedMCPID, err := r.invoke(ctx, sess, inv)
	if resolvedMCPID != "" {
		mcpID = resolvedMCPID
	}

	if r.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		r.metrics.ToolInvocations.WithLabelValues(mcpID, outcome).Inc()
		r.metrics.InvokeLatency.WithLabelValues(mcpID).Observe(time.Since(start).Seconds())
	}
	return resp, err
}

// invoke performs the actual resolution/authorization/dispatch and
// additionally returns the resolved downstream mcp_id (possibly empty,
// if resolution never got that far) so Invoke can label its metrics.
func (r *Router) invoke(ctx context.Context, sess SessionContext, inv Invocation) (*Response, string, error) {
	resolved, err := r.resolver.Resolve(ctx, sess.ClientID, sess.ProfileID)
	if err != nil {
		return nil, "", ambassadorerrors.NewInternalError("failed to resolve catalog", err)
	}

	var target *catalog.ResolvedTool
	for i := range resolved {
		if resolved[i].Tool.Name == inv.Tool {
			target = &resolved[i]
			break
		}
	}
	if target == nil {
		notAllowed := ambassadorerrors.NewToolNotAllowedError(
			fmt.Sprintf("tool %q is not in the client's resolved catalog", inv.Tool), nil)
		r.emit(sess, inv, "", "deny", "", nil, notAllowed)
		return nil, "", notAllowed
	}

	decision, err := r.authz.Authorize(ctx, authz.Session{
		ClientID:     sess.ClientID,
		ClientStatus: sess.ClientStatus,
		ProfileID:    sess.ProfileID,
	}, inv.Tool)
	if err != nil {
		return nil, target.MCPID, ambassadorerrors.NewInternalError("authorization failed", err)
	}
	if decision.Decision != authz.DecisionPermit {
		authzErr := ambassadorerrors.NewForbiddenError(decision.Reason, nil)
		r.emit(sess, inv, target.MCPID, string(decision.Decision), decision.PolicyID, nil, authzErr)
		return nil, target.MCPID, authzErr
	}

	entry, err := r.entryFor(ctx, target.MCPID)
	if err != nil {
		r.emit(sess, inv, target.MCPID, string(decision.Decision), decision.PolicyID, nil, err)
		return nil, target.MCPID, err
	}

	conn, err := r.connectionFor(ctx, sess.UserID, entry)
	if err != nil {
		r.emit(sess, inv, target.MCPID, string(decision.Decision), decision.PolicyID, nil, err)
		return nil, target.MCPID, err
	}

	args, err := decodeArguments(inv.Arguments)
	if err != nil {
		r.emit(sess, inv, target.MCPID, string(decision.Decision), decision.PolicyID, nil, err)
		return nil, target.MCPID, err
	}

	result, invokeErr := conn.Invoke(ctx, inv.Tool, args)
	translated := translateConnErr(invokeErr)

	r.emit(sess, inv, target.MCPID, string(decision.Decision), decision.PolicyID, result, translated)

	if translated != nil {
		return nil, target.MCPID, translated
	}
	return &Response{Result: *result}, target.MCPID, nil
}

// entryFor loads the Catalog Entry for mcpID through the Resolver's
// backing EntryStore (Resolver.EntryByID).
func (r *Router) entryFor(ctx context.Context, mcpID string) (*catalog.Entry, error) {
	return r.resolver.EntryByID(ctx, mcpID)
}

func (r *Router) connectionFor(ctx context.Context, userID string, entry *catalog.Entry) (backendconn.Connection, error) {
	switch entry.IsolationMode {
	case catalog.IsolationShared:
		return r.shared.Get(entry.Name)
	case catalog.IsolationPerUser:
		return r.perUser.GetOrSpawn(ctx, userID, entry.MCPID)
	default:
		return nil, ambassadorerrors.NewInternalError(fmt.Sprintf("backend %q has unknown isolation mode %q", entry.Name, entry.IsolationMode), nil)
	}
}

// translateConnErr maps Backend Connection error kinds to the external
// taxonomy.
func translateConnErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case ambassadorerrors.IsProtocolError(err):
		return ambassadorerrors.NewPeerError("backend returned a malformed response", err)
	case ambassadorerrors.IsStartupError(err):
		return ambassadorerrors.NewPeerError("backend failed to start", err)
	case ambassadorerrors.IsResponseTooLarge(err):
		return ambassadorerrors.NewPeerError("backend response exceeded the size limit", err)
	case ambassadorerrors.IsOverloaded(err):
		return ambassadorerrors.NewCapacityExceededError("backend connection has too many outstanding requests", err)
	case ambassadorerrors.IsTimeout(err):
		return ambassadorerrors.NewTimeoutError("backend did not respond in time", err)
	case ambassadorerrors.IsCanceled(err):
		return ambassadorerrors.NewCanceledError("invocation was canceled", err)
	case ambassadorerrors.IsCredentialsMissing(err):
		return ambassadorerrors.NewCredentialsMissingError("no stored credentials for this backend", err)
	default:
		return ambassadorerrors.NewPeerError("backend invocation failed", err)
	}
}

func (r *Router) emit(sess SessionContext, inv Invocation, mcpID, decision, policyID string, result *backendconn.InvokeResult, err error) {
	severity := audit.SeverityInfo
	action := "tool_invoke"
	responseSummary := "ok"
	if err != nil {
		severity = audit.SeverityWarning
		responseSummary = err.Error()
	} else if result != nil && result.IsError {
		severity = audit.SeverityWarning
		responseSummary = "tool reported an error result"
	}

	r.auditor.Emit(audit.Event{
		EventID:         uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		EventType:       "tool_invocation",
		Severity:        severity,
		SessionID:       sess.SessionID,
		ClientID:        sess.ClientID,
		UserID:          sess.UserID,
		SourceIPHash:    sess.SourceIPHash,
		ToolName:        inv.Tool,
		DownstreamMCP:   mcpID,
		Action:          action,
		RequestSummary:  redactedArguments(inv.Arguments),
		ResponseSummary: responseSummary,
		AuthzDecision:   decision,
		AuthzPolicy:     policyID,
	})
}

// decodeArguments parses the invocation's raw JSON arguments into the map
// shape backendconn.Connection.Invoke expects. An empty payload is treated
// as no arguments.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, ambassadorerrors.NewValidationError("tool arguments must be a JSON object", err)
	}
	return args, nil
}

// redactedArguments avoids persisting raw tool arguments verbatim to the
// audit trail; only their shape (key names) is retained.
func redactedArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "<non-object arguments>"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return fmt.Sprintf("arguments with keys: %v", keys)
}
