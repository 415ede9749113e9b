// Package authz implements the deny-wins glob authorization engine:
// lifecycle gates, then deny, then allow, then default deny, evaluated
// over a client's flattened profile policy.
package authz

import (
	"context"
	"fmt"

	"github.com/mcpambassador/server/internal/catalog"
	"github.com/mcpambassador/server/internal/globmatch"
)

// Decision is the outcome of one authorize call.
type Decision string

const (
	DecisionPermit Decision = "permit"
	DecisionDeny   Decision = "deny"
)

// ClientStatus mirrors the subset of Client.status relevant to lifecycle
// gating.
type ClientStatus string

const (
	ClientActive    ClientStatus = "active"
	ClientSuspended ClientStatus = "suspended"
	ClientRevoked   ClientStatus = "revoked"
)

// SystemLifecyclePolicyID is the fixed policy_id reported for lifecycle
// gate denials.
const SystemLifecyclePolicyID = "system_lifecycle"

// Session is the subset of session context authorize needs.
type Session struct {
	ClientID     string
	ClientStatus ClientStatus
	ProfileID    string
}

// Result is the outcome of authorize, including the reason and the policy
// that produced it.
type Result struct {
	Decision Decision
	Reason   string
	PolicyID string
}

// Engine evaluates authorize/listAuthorized over a profile-inheritance
// chain resolved by the Catalog Resolver's flattening logic.
type Engine struct {
	resolver *catalog.Resolver
}

// NewEngine builds an Engine. resolver supplies FlattenProfile so both
// components share one profile-chain-walking implementation.
func NewEngine(resolver *catalog.Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// Authorize evaluates the four rules in order: lifecycle gate, deny,
// allow, default deny. First match wins.
func (e *Engine) Authorize(ctx context.Context, session Session, tool string) (Result, error) {
	if session.ClientStatus == ClientSuspended || session.ClientStatus == ClientRevoked {
		return Result{
			Decision: DecisionDeny,
			Reason:   fmt.Sprintf("client %s", session.ClientStatus),
			PolicyID: SystemLifecyclePolicyID,
		}, nil
	}

	policy, err := e.resolver.FlattenProfile(ctx, session.ProfileID)
	if err != nil {
		return Result{}, err
	}

	if matched, pattern := globmatch.MatchAny(policy.DeniedTools, tool); matched {
		return Result{
			Decision: DecisionDeny,
			Reason:   fmt.Sprintf("matched denied pattern %q", pattern),
			PolicyID: session.ProfileID,
		}, nil
	}

	if matched, pattern := globmatch.MatchAny(policy.AllowedTools, tool); matched {
		return Result{
			Decision: DecisionPermit,
			Reason:   fmt.Sprintf("matched allowed pattern %q", pattern),
			PolicyID: session.ProfileID,
		}, nil
	}

	return Result{
		Decision: DecisionDeny,
		Reason:   "default deny",
		PolicyID: session.ProfileID,
	}, nil
}

// ListAuthorized applies Authorize pointwise, keeping only permitted tools.
// A suspended/revoked client yields an empty list.
func (e *Engine) ListAuthorized(ctx context.Context, session Session, tools []string) ([]string, error) {
	if session.ClientStatus == ClientSuspended || session.ClientStatus == ClientRevoked {
		return nil, nil
	}

	policy, err := e.resolver.FlattenProfile(ctx, session.ProfileID)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if matched, _ := globmatch.MatchAny(policy.DeniedTools, t); matched {
			continue
		}
		if matched, _ := globmatch.MatchAny(policy.AllowedTools, t); matched {
			out = append(out, t)
		}
	}
	return out, nil
}
