package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpambassador/server/internal/ambassadorlog"
	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/internal/backendconn"
	"github.com/mcpambassador/server/internal/catalog"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/httpapi"
	"github.com/mcpambassador/server/internal/memstore"
	"github.com/mcpambassador/server/internal/metrics"
	"github.com/mcpambassador/server/internal/peruserpool"
	"github.com/mcpambassador/server/internal/ratelimit"
	"github.com/mcpambassador/server/internal/reloader"
	"github.com/mcpambassador/server/internal/router"
	"github.com/mcpambassador/server/internal/session"
	"github.com/mcpambassador/server/internal/sharedmanager"
	"github.com/mcpambassador/server/internal/vault"
)

// ambassadorServer holds every long-lived component wired together at
// startup before control is handed to the HTTP layer.
type ambassadorServer struct {
	cfg *config.Config

	catalogStore *memstore.Catalog
	sessionStore *memstore.Session
	credStore    *memstore.Credentials
	adminKeys    *memstore.AdminKeys
	vault        *vault.Vault

	resolver *catalog.Resolver
	authz    *authz.Engine
	shared   *sharedmanager.Manager
	perUser  *peruserpool.Pool
	auditor  *audit.Writer
	sessions *session.Manager
	router   *router.Router
	reloader *reloader.Reloader
	metrics  *metrics.Metrics

	handler http.Handler
}

// buildServer constructs every component from cfg, wires them together,
// and returns a server ready for seedCatalog/startShared/serve.
func buildServer(_ context.Context, configPath string) (*ambassadorServer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	auditor, err := audit.New(cfg.Audit.Dir, cfg.Audit.RetentionDays)
	if err != nil {
		return nil, err
	}

	secrets, err := session.LoadSecret(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	catalogStore := memstore.NewCatalog()
	sessionStore := memstore.NewSession()
	credStore := memstore.NewCredentials()
	adminKeys := memstore.NewAdminKeys()
	for _, h := range cfg.Admin.KeyHashes {
		adminKeys.Put(h)
	}
	masterKey, err := vault.LoadMasterKey(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cryptVault := vault.New(masterKey)

	resolver := catalog.NewResolver(catalogStore, catalogStore, catalogStore)
	authzEngine := authz.NewEngine(resolver)

	shared := sharedmanager.NewManager(func(def sharedmanager.BackendDef) (backendconn.Connection, error) {
		return backendconn.NewConnection(def.Name, def.Transport, def.Config, nil)
	})

	perUser := peruserpool.New(peruserpool.Limits{
		MaxPerUser: cfg.PerUser.MaxPerUser,
		MaxTotal:   cfg.PerUser.MaxTotal,
		IdleAfter:  cfg.PerUser.IdleAfter,
	}, credStore.Lookup(cryptVault), func(def peruserpool.BackendDef, creds map[string]string) (backendconn.Connection, error) {
		return backendconn.NewConnection(def.Name, def.Transport, def.Config, creds)
	})

	limiter := ratelimit.New()
	sessions := session.NewManager(sessionStore, sessionStore, secrets, limiter, cfg.Session.TTL)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	tr := router.New(resolver, authzEngine, shared, perUser, auditor, m)

	rl := reloader.New(catalogSource{store: catalogStore}, shared, perUser)

	srv := &ambassadorServer{
		cfg:          cfg,
		catalogStore: catalogStore,
		sessionStore: sessionStore,
		credStore:    credStore,
		adminKeys:    adminKeys,
		vault:        cryptVault,
		resolver:     resolver,
		authz:        authzEngine,
		shared:       shared,
		perUser:      perUser,
		auditor:      auditor,
		sessions:     sessions,
		router:       tr,
		reloader:     rl,
		metrics:      m,
	}

	apiRouter := httpapi.NewRouter(httpapi.Deps{
		SessionManager: sessions,
		Resolver:       resolver,
		Authz:          authzEngine,
		Router:         tr,
		Shared:         shared,
		Auditor:        auditor,
		Reloader:       rl,
		Metrics:        m,
		PerUser:        perUser,
		ClientStatus:   srv.clientStatus,
		RevokeClient:   sessionStore.RevokeClient,
		AdminKeyCheck:  srv.adminKeyCheck,
	})

	mux := http.NewServeMux()
	mux.Handle("/", apiRouter)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv.handler = mux

	return srv, nil
}

// clientStatus resolves a client's current lifecycle status for the
// authorization lifecycle gate. The Client entity's store of
// record is an external collaborator; this in-memory session store
// doubles as it for a single-process deployment.
func (s *ambassadorServer) clientStatus(clientID string) authz.ClientStatus {
	c, err := s.sessionStore.GetClient(context.Background(), clientID)
	if err != nil || c == nil {
		return authz.ClientRevoked
	}
	switch c.Status {
	case session.ClientSuspended:
		return authz.ClientSuspended
	case session.ClientRevoked:
		return authz.ClientRevoked
	default:
		return authz.ClientActive
	}
}

// adminKeyCheck verifies a raw admin key against the provisioned Argon2id
// hashes. Deny-by-default: a disabled admin surface, or an enabled one
// with no provisioned hashes, rejects every request.
func (s *ambassadorServer) adminKeyCheck(_ context.Context, rawKey string) bool {
	if !s.cfg.Admin.Enabled {
		return false
	}
	return s.adminKeys.Verify(rawKey)
}

// seedCatalog loads a YAML backend definitions file and registers each
// entry into the in-memory catalog store, ready for startShared/reload.
func (s *ambassadorServer) seedCatalog(_ context.Context, path string) error {
	entries, err := config.LoadBackendDefs(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.catalogStore.PutEntry(e)
	}
	return nil
}

// startShared starts a Backend Connection for every published shared
// backend, and registers every published per-user backend's definition
// with the pool so it can be lazily spawned on first use.
func (s *ambassadorServer) startShared(ctx context.Context) error {
	for _, e := range s.catalogStore.AllEntries() {
		if e.Status != catalog.EntryPublished {
			continue
		}
		switch e.IsolationMode {
		case catalog.IsolationShared:
			if err := s.shared.Add(ctx, sharedmanager.BackendDef{
				Name:      e.Name,
				Transport: backendconn.Transport(e.Transport),
				Config:    e.Config,
			}); err != nil {
				ambassadorlog.Errorw("failed to start shared backend", "name", e.Name, "error", err)
			}
		case catalog.IsolationPerUser:
			s.perUser.RegisterBackend(peruserpool.BackendDef{
				MCPID:     e.MCPID,
				Name:      e.Name,
				Transport: backendconn.Transport(e.Transport),
				Config:    e.Config,
			})
		}
	}
	return nil
}

// startReloadLoop periodically applies the catalog reloader on the
// configured interval, reconciling drift between desired and running
// state.
func (s *ambassadorServer) startReloadLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.DefaultCatalogReloadInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.metrics.PerUserInstances.Set(float64(len(s.perUser.Status())))

				result, err := s.reloader.Apply(ctx)
				outcome := "ok"
				if err != nil {
					outcome = "error"
					ambassadorlog.Warnw("periodic catalog reload failed", "error", err)
				} else if len(result.Errors) > 0 {
					outcome = "partial"
					ambassadorlog.Warnw("periodic catalog reload completed with errors", "errors", result.Errors)
				}
				s.metrics.ReloadApplies.WithLabelValues(outcome).Inc()
			}
		}
	}()
}

// catalogSource adapts memstore.Catalog to reloader.CatalogSource.
type catalogSource struct {
	store *memstore.Catalog
}

func (c catalogSource) DesiredEntries(_ context.Context) ([]reloader.DesiredEntry, error) {
	entries := c.store.AllEntries()
	out := make([]reloader.DesiredEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status != catalog.EntryPublished {
			continue
		}
		out = append(out, reloader.DesiredEntry{
			MCPID:         e.MCPID,
			Name:          e.Name,
			Transport:     backendconn.Transport(e.Transport),
			Config:        e.Config,
			IsolationMode: e.IsolationMode,
		})
	}
	return out, nil
}
