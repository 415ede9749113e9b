package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/peruserpool"
	"github.com/mcpambassador/server/internal/reloader"
	"github.com/mcpambassador/server/internal/sharedmanager"
)

type adminRoutes struct {
	shared       *sharedmanager.Manager
	auditor      *audit.Writer
	reloader     *reloader.Reloader
	perUser      *peruserpool.Pool
	revokeClient func(clientID string) bool
}

// healthMCPs implements GET /v1/admin/health/mcps.
func (a *adminRoutes) healthMCPs(w http.ResponseWriter, r *http.Request) {
	writeOK(w, a.shared.Status(r.Context()))
}

// restartMCP implements POST /v1/admin/health/mcps/{name}/restart.
func (a *adminRoutes) restartMCP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.shared.Restart(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]string{"name": name, "status": "restarted"})
}

// auditEvents implements GET /v1/audit/events.
func (a *adminRoutes) auditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := audit.Query{
		ClientID:  q.Get("client_id"),
		UserID:    q.Get("user_id"),
		EventType: q.Get("event_type"),
		Severity:  audit.Severity(q.Get("severity")),
	}

	if start := q.Get("start_time"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			writeError(w, ambassadorerrors.NewValidationError("start_time must be RFC3339", err))
			return
		}
		query.StartTime = t
	}
	if end := q.Get("end_time"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			writeError(w, ambassadorerrors.NewValidationError("end_time must be RFC3339", err))
			return
		}
		query.EndTime = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			writeError(w, ambassadorerrors.NewValidationError("limit must be a positive integer", err))
			return
		}
		query.Limit = n
	}

	events, err := a.auditor.Query(query)
	if err != nil {
		writeError(w, err)
		return
	}

	writeOKPaged(w, events, "", false)
}

// terminateClient implements POST /v1/admin/clients/{clientID}/terminate.
// It revokes the client so the authorization lifecycle gate starts
// denying it immediately. When the user_id query parameter is set, it also
// stops every per-user backend instance of that user; without it, no
// instance is stopped. Session records are left unchanged.
func (a *adminRoutes) terminateClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	userID := r.URL.Query().Get("user_id")

	if !a.revokeClient(clientID) {
		writeError(w, ambassadorerrors.NewNotFoundError("client not found", nil))
		return
	}
	if userID != "" {
		a.perUser.TerminateForUser(r.Context(), userID)
	}
	writeOK(w, map[string]string{"client_id": clientID, "status": "revoked"})
}

// reloadCatalog implements POST /v1/admin/catalog/reload.
func (a *adminRoutes) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	result, err := a.reloader.Apply(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, result)
}
