// Package memstore provides in-memory implementations of every store
// interface in the ambassador, for tests and local/single-process runs.
// None of these types are safe replacements for a durable external store
// in production (durable persistence belongs to an external store); they
// exist so the
// rest of the module has something concrete to run against.
package memstore

import (
	"context"
	"sync"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/catalog"
)

// Catalog is an in-memory ProfileStore, SubscriptionStore, and EntryStore.
type Catalog struct {
	mu            sync.RWMutex
	profiles      map[string]catalog.Profile
	subscriptions map[string][]catalog.Subscription
	entries       map[string]catalog.Entry
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		profiles:      make(map[string]catalog.Profile),
		subscriptions: make(map[string][]catalog.Subscription),
		entries:       make(map[string]catalog.Entry),
	}
}

// PutProfile inserts or replaces a profile.
func (c *Catalog) PutProfile(p catalog.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.ProfileID] = p
}

// GetProfile implements catalog.ProfileStore.
func (c *Catalog) GetProfile(_ context.Context, profileID string) (*catalog.Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[profileID]
	if !ok {
		return nil, ambassadorerrors.NewNotFoundError("profile not found: "+profileID, nil)
	}
	return &p, nil
}

// PutSubscription inserts or replaces a subscription for its client.
func (c *Catalog) PutSubscription(s catalog.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.subscriptions[s.ClientID]
	for i, existing := range list {
		if existing.SubscriptionID == s.SubscriptionID {
			list[i] = s
			c.subscriptions[s.ClientID] = list
			return
		}
	}
	c.subscriptions[s.ClientID] = append(list, s)
}

// ActiveSubscriptions implements catalog.SubscriptionStore.
func (c *Catalog) ActiveSubscriptions(_ context.Context, clientID string) ([]catalog.Subscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []catalog.Subscription
	for _, s := range c.subscriptions[clientID] {
		if s.Status == catalog.SubscriptionActive {
			out = append(out, s)
		}
	}
	return out, nil
}

// PutEntry inserts or replaces a catalog entry.
func (c *Catalog) PutEntry(e catalog.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.MCPID] = e
}

// GetEntry implements catalog.EntryStore.
func (c *Catalog) GetEntry(_ context.Context, mcpID string) (*catalog.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[mcpID]
	if !ok {
		return nil, ambassadorerrors.NewNotFoundError("backend entry not found: "+mcpID, nil)
	}
	return &e, nil
}

// AllEntries returns every registered entry, for the reloader's
// desired-catalog source.
func (c *Catalog) AllEntries() []catalog.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}
