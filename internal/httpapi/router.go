package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/internal/catalog"
	"github.com/mcpambassador/server/internal/metrics"
	"github.com/mcpambassador/server/internal/peruserpool"
	"github.com/mcpambassador/server/internal/reloader"
	"github.com/mcpambassador/server/internal/router"
	"github.com/mcpambassador/server/internal/session"
	"github.com/mcpambassador/server/internal/sharedmanager"
)

// Deps bundles every component the HTTP surface needs. It is assembled
// once at process startup by cmd/ambassadord.
type Deps struct {
	SessionManager *session.Manager
	Resolver       *catalog.Resolver
	Authz          *authz.Engine
	Router         *router.Router
	Shared         *sharedmanager.Manager
	Auditor        *audit.Writer
	Reloader       *reloader.Reloader
	Metrics        *metrics.Metrics
	PerUser        *peruserpool.Pool

	// ClientStatus resolves a client's current lifecycle status for
	// authorization's lifecycle gate. Backed by whatever durable client
	// store the deployment uses.
	ClientStatus func(clientID string) authz.ClientStatus

	// RevokeClient marks a client revoked. Backed by the same client
	// store ClientStatus reads from.
	RevokeClient func(clientID string) bool

	// AdminKeyCheck verifies a raw admin key against the configured admin
	// key store. Supplied by the caller; cmd/ambassadord backs it with
	// memstore.AdminKeys.
	AdminKeyCheck func(ctx context.Context, rawKey string) bool
}

// NewRouter builds the chi router for the ambassador's HTTP surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	sessions := &sessionsRoutes{manager: d.SessionManager, metrics: d.Metrics}
	tools := &toolsRoutes{resolver: d.Resolver, authz: d.Authz, router: d.Router, clientStatus: d.ClientStatus, metrics: d.Metrics}
	admin := &adminRoutes{shared: d.Shared, auditor: d.Auditor, reloader: d.Reloader, perUser: d.PerUser, revokeClient: d.RevokeClient}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions/register", sessions.register)

		r.Group(func(r chi.Router) {
			r.Use(requireSession(d.SessionManager))
			r.Get("/tools", tools.list)
			r.Post("/tools/invoke", tools.invoke)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin(d.AdminKeyCheck))
			r.Get("/admin/health/mcps", admin.healthMCPs)
			r.Post("/admin/health/mcps/{name}/restart", admin.restartMCP)
			r.Get("/audit/events", admin.auditEvents)
			r.Post("/admin/catalog/reload", admin.reloadCatalog)
			r.Post("/admin/clients/{clientID}/terminate", admin.terminateClient)
		})
	})

	return r
}
