// Package reloader implements the Catalog Reloader: diffing the
// desired catalog against what is currently running and applying that
// diff atomically from the caller's perspective, with partial-failure
// tolerance inside.
package reloader

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/ambassadorlog"
	"github.com/mcpambassador/server/internal/backendconn"
	"github.com/mcpambassador/server/internal/catalog"
	"github.com/mcpambassador/server/internal/peruserpool"
	"github.com/mcpambassador/server/internal/sharedmanager"
)

// DesiredEntry is one backend as currently configured (the "desired"
// side of the diff).
type DesiredEntry struct {
	MCPID         string
	Name          string
	Transport     backendconn.Transport
	Config        json.RawMessage
	IsolationMode catalog.IsolationMode
}

// CatalogSource supplies the desired catalog as of now.
type CatalogSource interface {
	DesiredEntries(ctx context.Context) ([]DesiredEntry, error)
}

// Diff is the side-effect-free Preview result, per backend group.
type Diff struct {
	ToAdd     []DesiredEntry
	ToRemove  []string
	ToUpdate  []DesiredEntry
	Unchanged []string
}

// GroupedDiff separates the diff by isolation mode, since shared and
// per-user backends are reconciled against different running stores.
type GroupedDiff struct {
	Shared  Diff
	PerUser Diff
}

// ApplyError records one component's failure during Apply without
// aborting the rest.
type ApplyError struct {
	Name    string `json:"name"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

// ApplyResult is returned from Apply.
type ApplyResult struct {
	Added   []string     `json:"added"`
	Removed []string     `json:"removed"`
	Updated []string     `json:"updated"`
	Errors  []ApplyError `json:"errors,omitempty"`

	mu sync.Mutex
}

func (r *ApplyResult) record(action, name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.Errors = append(r.Errors, ApplyError{Name: name, Action: action, Message: err.Error()})
		return
	}
	switch action {
	case "add":
		r.Added = append(r.Added, name)
	case "update":
		r.Updated = append(r.Updated, name)
	case "remove":
		r.Removed = append(r.Removed, name)
	}
}

// Reloader drives Preview/Apply. A single process-wide instance holds the
// apply-in-progress flag.
type Reloader struct {
	source  CatalogSource
	shared  *sharedmanager.Manager
	perUser *peruserpool.Pool

	applying atomic.Bool
}

// New constructs a Reloader over the given desired-catalog source and
// running stores.
func New(source CatalogSource, shared *sharedmanager.Manager, perUser *peruserpool.Pool) *Reloader {
	return &Reloader{source: source, shared: shared, perUser: perUser}
}

// Preview computes the diff without applying it.
func (r *Reloader) Preview(ctx context.Context) (*GroupedDiff, error) {
	desired, err := r.source.DesiredEntries(ctx)
	if err != nil {
		return nil, ambassadorerrors.NewInternalError("failed to load desired catalog", err)
	}

	desiredShared := make(map[string]DesiredEntry)
	desiredPerUser := make(map[string]DesiredEntry)
	for _, e := range desired {
		if e.IsolationMode == catalog.IsolationPerUser {
			desiredPerUser[e.MCPID] = e
		} else {
			desiredShared[e.Name] = e
		}
	}

	runningShared := r.shared.Fingerprints()
	runningPerUser := r.perUser.FingerprintDefs(func(transport backendconn.Transport, name string, config []byte) string {
		return sharedmanager.Fingerprint(sharedmanager.BackendDef{Name: name, Transport: transport, Config: config})
	})

	return &GroupedDiff{
		Shared:  diffGroup(desiredShared, runningShared),
		PerUser: diffGroup(desiredPerUser, runningPerUser),
	}, nil
}

func diffGroup(desired map[string]DesiredEntry, running map[string]string) Diff {
	var d Diff
	for key, entry := range desired {
		runningFP, isRunning := running[key]
		desiredFP := sharedmanager.Fingerprint(sharedmanager.BackendDef{
			Name:      entry.Name,
			Transport: entry.Transport,
			Config:    entry.Config,
		})
		if !isRunning {
			d.ToAdd = append(d.ToAdd, entry)
			continue
		}
		if runningFP != desiredFP {
			d.ToUpdate = append(d.ToUpdate, entry)
		} else {
			d.Unchanged = append(d.Unchanged, key)
		}
	}
	for key := range running {
		if _, ok := desired[key]; !ok {
			d.ToRemove = append(d.ToRemove, key)
		}
	}
	return d
}

// Apply reconciles running state to the desired catalog. A concurrent
// Apply call fails with ReloadConflict.
func (r *Reloader) Apply(ctx context.Context) (*ApplyResult, error) {
	if !r.applying.CompareAndSwap(false, true) {
		return nil, ambassadorerrors.NewReloadConflictError("a catalog reload is already in progress", nil)
	}
	defer r.applying.Store(false)

	diff, err := r.Preview(ctx)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{}

	// Starting a backend can block for its full startup timeout, so adds
	// and updates fan out; each records its own success or failure without
	// aborting the rest.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(applyConcurrency)
	for _, e := range diff.Shared.ToAdd {
		g.Go(func() error {
			r.applyShared(gctx, e, result, "add")
			return nil
		})
	}
	for _, e := range diff.Shared.ToUpdate {
		g.Go(func() error {
			r.applyShared(gctx, e, result, "update")
			return nil
		})
	}
	_ = g.Wait()

	for _, name := range diff.Shared.ToRemove {
		err := r.shared.Remove(ctx, name)
		result.record("remove", name, err)
	}

	for _, e := range diff.PerUser.ToAdd {
		r.applyPerUserUpsert(e, result, "add")
	}
	for _, e := range diff.PerUser.ToUpdate {
		r.applyPerUserUpsert(e, result, "update")
	}
	// Per-user removal is handled lazily: the pool drops the definition so
	// no new instances can spawn, and running instances are terminated by
	// the caller's next InvalidateCredentials/TerminateForUser call or the
	// idle reaper.
	for _, mcpID := range diff.PerUser.ToRemove {
		r.perUser.UnregisterBackend(mcpID)
		result.record("remove", mcpID, nil)
		ambassadorlog.Infow("per-user backend definition removed; obsolete instances terminate lazily", "mcp_id", mcpID)
	}

	return result, nil
}

// applyConcurrency bounds how many backend starts run at once during an
// apply.
const applyConcurrency = 4

// applyShared starts the new connection then (for updates) stops the old
// one; sharedmanager.Add performs both in that order so the name stays
// addressable for inflight queries.
func (r *Reloader) applyShared(ctx context.Context, e DesiredEntry, result *ApplyResult, action string) {
	err := r.shared.Add(ctx, sharedmanager.BackendDef{Name: e.Name, Transport: e.Transport, Config: e.Config})
	result.record(action, e.Name, err)
}

func (r *Reloader) applyPerUserUpsert(e DesiredEntry, result *ApplyResult, action string) {
	r.perUser.RegisterBackend(peruserpool.BackendDef{
		MCPID:     e.MCPID,
		Name:      e.Name,
		Transport: e.Transport,
		Config:    e.Config,
	})
	result.record(action, e.MCPID, nil)
}
