package catalog

import (
	"context"
	"fmt"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/globmatch"
)

// Resolver computes a client's effective tool set from subscriptions,
// profile, and backend publication state.
type Resolver struct {
	profiles      ProfileStore
	subscriptions SubscriptionStore
	entries       EntryStore
}

// NewResolver builds a Resolver over the given stores.
func NewResolver(profiles ProfileStore, subscriptions SubscriptionStore, entries EntryStore) *Resolver {
	return &Resolver{profiles: profiles, subscriptions: subscriptions, entries: entries}
}

// FlattenProfile walks the inheritance chain breadth-first from
// profileID up to MaxProfileChainDepth, rejecting cycles, and flattens it:
// the child's allowed_tools override the parent's; denied_tools union
// across the whole chain.
func (r *Resolver) FlattenProfile(ctx context.Context, profileID string) (*FlattenedPolicy, error) {
	visited := make(map[string]bool)
	var allowed []string
	haveAllowed := false
	deniedSet := make(map[string]bool)
	var deniedOrder []string

	current := profileID
	depth := 0
	for current != "" {
		if visited[current] {
			return nil, ambassadorerrors.NewValidationError(
				fmt.Sprintf("profile inheritance cycle detected at %q", current), nil)
		}
		if depth > MaxProfileChainDepth {
			return nil, ambassadorerrors.NewValidationError("profile inheritance chain exceeds maximum depth", nil)
		}
		visited[current] = true

		profile, err := r.profiles.GetProfile(ctx, current)
		if err != nil {
			return nil, err
		}

		// Child (closer to profileID, visited first) overrides parent for
		// allowed_tools: only the first (most-derived) non-empty set wins.
		if !haveAllowed && len(profile.AllowedTools) > 0 {
			allowed = profile.AllowedTools
			haveAllowed = true
		}
		for _, d := range profile.DeniedTools {
			if !deniedSet[d] {
				deniedSet[d] = true
				deniedOrder = append(deniedOrder, d)
			}
		}

		current = profile.InheritedFrom
		depth++
	}

	return &FlattenedPolicy{ProfileID: profileID, AllowedTools: allowed, DeniedTools: deniedOrder}, nil
}

// EntryByID exposes the backing EntryStore lookup so callers that already
// hold a Resolver (e.g. the Tool Router) don't need a second reference to
// the same EntryStore.
func (r *Resolver) EntryByID(ctx context.Context, mcpID string) (*Entry, error) {
	return r.entries.GetEntry(ctx, mcpID)
}

// Resolve computes clientID's effective tool set. Denial
// is intentionally NOT applied here; it is enforced at authorize time so
// reasons can be reported.
func (r *Resolver) Resolve(ctx context.Context, clientID, profileID string) ([]ResolvedTool, error) {
	policy, err := r.FlattenProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	subs, err := r.subscriptions.ActiveSubscriptions(ctx, clientID)
	if err != nil {
		return nil, err
	}

	var out []ResolvedTool
	for _, sub := range subs {
		if sub.Status != SubscriptionActive {
			continue
		}
		entry, err := r.entries.GetEntry(ctx, sub.MCPID)
		if err != nil {
			continue // backend no longer exists; skip rather than fail the whole resolution
		}
		if entry.Status != EntryPublished {
			continue
		}

		tools := entry.ToolCatalog
		if len(sub.SelectedTools) > 0 {
			selected := toSet(sub.SelectedTools)
			tools = filterTools(tools, func(t ToolDescriptor) bool { return selected[t.Name] })
		}
		if len(policy.AllowedTools) > 0 {
			tools = filterTools(tools, func(t ToolDescriptor) bool {
				matched, _ := globmatch.MatchAny(policy.AllowedTools, t.Name)
				return matched
			})
		}

		for _, t := range tools {
			out = append(out, ResolvedTool{Tool: t, SourceMCP: entry.Name, MCPID: entry.MCPID})
		}
	}

	return out, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

func filterTools(tools []ToolDescriptor, keep func(ToolDescriptor) bool) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}
