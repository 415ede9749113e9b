// Package audit implements the Audit Writer: a single buffered
// JSONL writer per process, daily-rotated, with retention pruning and a
// date-scoped query API.
package audit

import "time"

// Severity classifies an Event's importance.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is the Audit Event entity: append-only, grouped by
// timestamp.date() at flush time.
type Event struct {
	EventID         string         `json:"event_id"`
	Timestamp       time.Time      `json:"timestamp"`
	EventType       string         `json:"event_type"`
	Severity        Severity       `json:"severity"`
	SessionID       string         `json:"session_id,omitempty"`
	ClientID        string         `json:"client_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	SourceIPHash    string         `json:"source_ip_hash,omitempty"`
	ToolName        string         `json:"tool_name,omitempty"`
	DownstreamMCP   string         `json:"downstream_mcp,omitempty"`
	Action          string         `json:"action"`
	RequestSummary  string         `json:"request_summary,omitempty"`
	ResponseSummary string         `json:"response_summary,omitempty"`
	AuthzDecision   string         `json:"authz_decision,omitempty"`
	AuthzPolicy     string         `json:"authz_policy,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Query describes a bounded audit search.
type Query struct {
	StartTime time.Time
	EndTime   time.Time
	ClientID  string
	UserID    string
	EventType string
	Severity  Severity
	Limit     int
}

const defaultQueryLimit = 1000
