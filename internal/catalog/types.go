// Package catalog holds the Backend Catalog Entry, Profile, and
// Subscription entities plus the Catalog Resolver that
// computes a client's effective tool set.
package catalog

import "encoding/json"

// IsolationMode selects whether a backend is shared across all users or
// spawned per-user with that user's credentials.
type IsolationMode string

const (
	IsolationShared  IsolationMode = "shared"
	IsolationPerUser IsolationMode = "per_user"
)

// EntryStatus is a Backend Catalog Entry's publication state.
type EntryStatus string

const (
	EntryDraft     EntryStatus = "draft"
	EntryPublished EntryStatus = "published"
)

// SubscriptionStatus is a Subscription's lifecycle state.
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionPaused  SubscriptionStatus = "paused"
	SubscriptionRemoved SubscriptionStatus = "removed"
)

// ToolDescriptor mirrors backendconn.ToolDescriptor to keep this package
// free of a dependency on the connection layer; the router translates
// between the two at the seam.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Entry is a Backend Catalog Entry.
type Entry struct {
	MCPID                   string
	Name                    string
	Transport               string
	Config                  json.RawMessage
	IsolationMode           IsolationMode
	RequiresUserCredentials bool
	Status                  EntryStatus
	ToolCatalog             []ToolDescriptor
}

// Profile is a named allow/deny glob policy set, optionally inheriting a
// parent.
type Profile struct {
	ProfileID     string
	Name          string
	AllowedTools  []string
	DeniedTools   []string
	InheritedFrom string // empty if root
}

// Subscription binds a client to a backend's selected tools.
type Subscription struct {
	SubscriptionID string
	ClientID       string
	MCPID          string
	SelectedTools  []string
	Status         SubscriptionStatus
}

// ResolvedTool is one tool surviving catalog resolution, tagged with its
// source backend name.
type ResolvedTool struct {
	Tool      ToolDescriptor
	SourceMCP string
	MCPID     string
}

// FlattenedPolicy is the result of walking a profile's inheritance chain:
// the child's allowed_tools override the parent's entirely, while
// denied_tools accumulate as a union across the whole chain.
type FlattenedPolicy struct {
	ProfileID    string
	AllowedTools []string
	DeniedTools  []string
}
