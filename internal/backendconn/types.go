// Package backendconn implements a single live channel to one MCP backend,
// stdio subprocess or HTTP endpoint.
// Wire framing and JSON-RPC request/response correlation are delegated to
// github.com/mark3labs/mcp-go/client; this package adds argv/env
// validation, resource caps, lifecycle state, timeouts, health, and a
// bounded stderr diagnostics ring on top of it.
package backendconn

import (
	"context"
	"encoding/json"
	"time"
)

// Transport identifies which wire variant a Connection uses.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// State is the connection lifecycle state:
// Idle -> Starting -> Running -> Stopping -> Stopped, with Running -> Failed
// on a fatal peer error.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Resource caps shared by both connection variants. Inbound wire framing
// limits are owned by the mcp-go client; this package enforces its own
// caps at the request-admission and response-content level.
const (
	MaxPendingRequests     = 100
	MaxResponseBodyBytes   = 10 * 1 << 20 // 10 MiB aggregate content
	MaxResponseItems       = 100
	MaxStderrRingEntries   = 50
	MaxConsecutiveFailures = 3
	DefaultRequestTimeout  = 30 * time.Second
	DefaultStopGrace       = 5 * time.Second
)

// ToolDescriptor is one entry of a backend's advertised tool catalog.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ContentItem is one element of a tool invocation's content array.
type ContentItem struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InvokeResult is the outcome of invoking a tool on a backend.
type InvokeResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}

// HealthStatus is the result of a health probe.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	ToolCount int       `json:"tool_count"`
	Error     string    `json:"error,omitempty"`
}

// HealthDetail is structured diagnostics for admin observability. Fields
// that could contain credentials (env values, resolved URLs) are never
// populated here; only redacted forms are. The child process id is not
// reported: the mcp-go stdio client owns the subprocess and does not
// expose its handle.
type HealthDetail struct {
	Transport        Transport `json:"transport"`
	State            string    `json:"state"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	CachedToolCount  int       `json:"cached_tool_count"`
	PendingRequests  int       `json:"pending_requests,omitempty"`
	ConsecutiveFails int       `json:"consecutive_failures,omitempty"`
	RedactedURL      string    `json:"redacted_url,omitempty"`
}

// Connection is the shared contract for both the stdio and HTTP variants.
type Connection interface {
	// Start establishes the peer, calls initialize then tools/list, and
	// transitions to Running. Fails with a *ambassadorerrors.Error of type
	// TypeStartupError if the peer cannot be reached within the configured
	// timeout.
	Start(ctx context.Context) error

	// Invoke calls a tool and returns its result, or a typed error
	// (Timeout, ProtocolError, PeerError, ResponseTooLarge, Overloaded).
	Invoke(ctx context.Context, tool string, args map[string]any) (*InvokeResult, error)

	// RefreshTools repopulates the tool cache and returns it.
	RefreshTools(ctx context.Context) ([]ToolDescriptor, error)

	// Tools returns the last cached tool list without a round trip.
	Tools() []ToolDescriptor

	// HealthCheck reports current health. A Running connection is probed
	// with an MCP ping round trip to the peer; any other state is reported
	// unhealthy without contacting the peer.
	HealthCheck(ctx context.Context) HealthStatus

	// HealthDetail returns structured, credential-redacted diagnostics.
	HealthDetail() HealthDetail

	// State returns the current lifecycle state.
	State() State

	// Stop releases the connection by closing its mcp-go client (for stdio,
	// this ends the spawned process). Neither variant applies a grace
	// period or a forced kill of its own; DefaultStopGrace is not used.
	Stop(ctx context.Context) error
}
