package backendconn

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
)

// allowedParentEnv is the whitelisted set of parent-process environment
// variables propagated to a spawned backend.
var allowedParentEnv = map[string]bool{
	"PATH": true, "HOME": true, "NODE_ENV": true, "LANG": true,
	"TZ": true, "TERM": true, "USER": true, "SHELL": true,
}

// blockedConfigEnv is the set of config-supplied env var names rejected
// outright, regardless of value.
var blockedConfigEnv = map[string]bool{
	"PATH": true, "LD_PRELOAD": true, "LD_LIBRARY_PATH": true,
	"NODE_OPTIONS": true, "NODE_PATH": true,
	"DYLD_INSERT_LIBRARIES": true, "DYLD_LIBRARY_PATH": true,
}

// shellMetacharacters rejects argv[0] containing shell metacharacters; the
// backend is always spawned directly via exec, never through a shell, but
// operator-supplied commands are still screened defensively.
var shellMetacharacters = regexp.MustCompile(`[;&|<>$` + "`" + `\\\n]`)

// StdioConfig configures a stdio-transport backend.
type StdioConfig struct {
	Name           string
	Argv           []string
	Env            map[string]string
	StartTimeout   time.Duration
	RequestTimeout time.Duration
}

// StdioConnection is the stdio-transport Connection variant: one spawned
// child process speaking MCP over stdin/stdout, via a
// github.com/mark3labs/mcp-go/client.Client (the same library the
// ambassador's backend-connection code is grounded on). The wire framing,
// request/response correlation, and JSON-RPC encoding are all owned by
// that client; this type adds argv/env validation, resource caps, lifecycle
// state, and the stderr diagnostics ring on top.
type StdioConnection struct {
	cfg StdioConfig

	mu        sync.Mutex // serializes Start/Stop (not Invoke)
	state     atomic.Int32
	startedAt time.Time

	client *mcpclient.Client
	gate   *requestGate
	stderr *stderrRing

	toolsMu sync.RWMutex
	tools   []ToolDescriptor
}

// NewStdioConnection constructs a stdio connection. Start must be called
// before Invoke.
func NewStdioConnection(cfg StdioConfig) (*StdioConnection, error) {
	if len(cfg.Argv) == 0 {
		return nil, ambassadorerrors.NewValidationError("argv must not be empty", nil)
	}
	if shellMetacharacters.MatchString(cfg.Argv[0]) {
		return nil, ambassadorerrors.NewValidationError("command must not contain shell metacharacters", nil)
	}
	for name := range cfg.Env {
		if blockedConfigEnv[name] {
			return nil, ambassadorerrors.NewValidationError(fmt.Sprintf("env var %q is not permitted", name), nil)
		}
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = DefaultRequestTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &StdioConnection{
		cfg:    cfg,
		gate:   newRequestGate(),
		stderr: newStderrRing(),
	}, nil
}

func (c *StdioConnection) buildEnv() []string {
	env := make([]string, 0, len(allowedParentEnv)+len(c.cfg.Env))
	for _, kv := range os.Environ() {
		name, _, found := strings.Cut(kv, "=")
		if found && allowedParentEnv[name] {
			env = append(env, kv)
		}
	}
	for name, value := range c.cfg.Env {
		env = append(env, name+"="+value)
	}
	return env
}

// Start spawns the child via mcp-go's stdio client, then performs
// initialize and tools/list.
func (c *StdioConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Start is legal from Idle and from Stopped (restart after Stop, which
	// the supervisor also uses to recover a Failed connection).
	if st := State(c.state.Load()); st != StateIdle && st != StateStopped {
		return ambassadorerrors.NewInternalError(fmt.Sprintf("connection cannot start from state %s", st), nil)
	}
	c.state.Store(int32(StateStarting))

	startCtx, cancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()

	cl, err := mcpclient.NewStdioMCPClient(c.cfg.Argv[0], c.buildEnv(), c.cfg.Argv[1:]...)
	if err != nil {
		c.state.Store(int32(StateFailed))
		return ambassadorerrors.NewStartupError("failed to start backend process", err)
	}

	if err := cl.Start(startCtx); err != nil {
		c.state.Store(int32(StateFailed))
		c.noteFailure(err)
		_ = cl.Close()
		return ambassadorerrors.NewStartupError("failed to start backend process", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "mcp-ambassador", Version: "1"}

	if _, err := cl.Initialize(startCtx, initReq); err != nil {
		c.state.Store(int32(StateFailed))
		c.noteFailure(err)
		_ = cl.Close()
		return ambassadorerrors.NewStartupError("initialize failed", err)
	}

	c.client = cl

	if _, err := c.RefreshTools(startCtx); err != nil {
		c.state.Store(int32(StateFailed))
		_ = cl.Close()
		return ambassadorerrors.NewStartupError("tools/list failed", err)
	}

	c.startedAt = time.Now()
	c.state.Store(int32(StateRunning))
	return nil
}

// noteFailure feeds a redacted diagnostic into the stderr ring. mcp-go owns
// the child process directly and does not expose its raw stderr stream, so
// the ring carries library/peer error text instead of raw subprocess bytes;
// it is still redacted and bounded the same way for operator inspection.
func (c *StdioConnection) noteFailure(err error) {
	if err != nil {
		c.stderr.push(err.Error())
	}
}

// Invoke calls tools/call for the named tool.
func (c *StdioConnection) Invoke(ctx context.Context, tool string, args map[string]any) (*InvokeResult, error) {
	if State(c.state.Load()) != StateRunning {
		return nil, ambassadorerrors.NewPeerError("connection is not running", nil)
	}
	if err := c.gate.acquire(); err != nil {
		return nil, err
	}
	defer c.gate.release()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := c.client.CallTool(callCtx, req)
	if err != nil {
		c.noteFailure(err)
		if callCtx.Err() != nil {
			return nil, ambassadorerrors.NewTimeoutError(fmt.Sprintf("tools/call timed out after %s", c.cfg.RequestTimeout), err)
		}
		return nil, ambassadorerrors.NewPeerError("tools/call failed", err)
	}

	result := convertCallToolResult(resp)
	if err := validateResultSize(result); err != nil {
		return nil, err
	}
	return result, nil
}

func validateResultSize(result *InvokeResult) error {
	if len(result.Content) > MaxResponseItems {
		return ambassadorerrors.NewResponseTooLargeError(
			fmt.Sprintf("response has %d items, limit is %d", len(result.Content), MaxResponseItems), nil)
	}
	total := 0
	for _, item := range result.Content {
		size := len(item.Text) + len(item.Data)
		if size > MaxResponseBodyBytes {
			return ambassadorerrors.NewResponseTooLargeError("response item exceeds maximum size", nil)
		}
		total += size
	}
	if total > MaxResponseBodyBytes {
		return ambassadorerrors.NewResponseTooLargeError("response content exceeds maximum total size", nil)
	}
	return nil
}

// RefreshTools repopulates the tool cache via tools/list.
func (c *StdioConnection) RefreshTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, ambassadorerrors.NewProtocolError("tools/list failed", err)
	}
	tools := convertTools(resp.Tools)
	c.toolsMu.Lock()
	c.tools = tools
	c.toolsMu.Unlock()
	return tools, nil
}

func (c *StdioConnection) Tools() []ToolDescriptor {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *StdioConnection) HealthCheck(ctx context.Context) HealthStatus {
	st := State(c.state.Load())
	healthy := st == StateRunning
	if healthy {
		if err := c.client.Ping(ctx); err != nil {
			healthy = false
		}
	}
	status := HealthStatus{
		Healthy:   healthy,
		LastCheck: time.Now(),
		ToolCount: len(c.Tools()),
	}
	if !healthy {
		status.Error = fmt.Sprintf("state is %s", st)
	}
	return status
}

func (c *StdioConnection) HealthDetail() HealthDetail {
	detail := HealthDetail{
		Transport:       TransportStdio,
		State:           State(c.state.Load()).String(),
		CachedToolCount: len(c.Tools()),
		PendingRequests: c.gate.len(),
	}
	if !c.startedAt.IsZero() {
		detail.UptimeSeconds = time.Since(c.startedAt).Seconds()
	}
	return detail
}

func (c *StdioConnection) State() State {
	return State(c.state.Load())
}

// StderrTail returns the redacted, bounded diagnostic history for operator
// inspection.
func (c *StdioConnection) StderrTail() []string {
	return c.stderr.snapshot()
}

// Stop closes the backend client, which terminates the spawned process.
func (c *StdioConnection) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if State(c.state.Load()) == StateStopped {
		return nil
	}
	c.state.Store(int32(StateStopping))

	if c.client != nil {
		_ = c.client.Close()
	}

	c.state.Store(int32(StateStopped))
	return nil
}
