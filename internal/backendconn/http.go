package backendconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
)

// envPlaceholder matches ${NAME} placeholders in an HTTP backend's URL
// template, resolved from the process environment at dial time.
var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// resolveTemplate substitutes ${ENV_VAR} placeholders from the process
// environment. The template itself (with placeholders intact) is what
// diagnostics and errors present; only the resolved form is used to dial.
func resolveTemplate(template string) string {
	return envPlaceholder.ReplaceAllStringFunc(template, func(m string) string {
		name := envPlaceholder.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

// HTTPConfig configures an HTTP (MCP Streamable HTTP) transport backend.
type HTTPConfig struct {
	Name           string
	URLTemplate    string
	Headers        map[string]string
	RequestTimeout time.Duration
	StartTimeout   time.Duration
}

// failureTrackingTransport wraps the http.Client handed to mcp-go's
// Streamable HTTP client, observing every round trip to drive the
// consecutive-failure counter and the MaxConsecutiveFailures -> Failed
// transition. mcp-go owns request construction and response
// parsing; this is the seam left for the ambassador to watch outcomes.
type failureTrackingTransport struct {
	base http.RoundTripper
	conn *HTTPConnection
}

func (t *failureTrackingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.conn.recordFailure()
		return resp, err
	}
	if resp.StatusCode >= 400 {
		t.conn.recordFailure()
		return resp, err
	}
	t.conn.consecFailures.Store(0)
	return resp, err
}

// HTTPConnection is the HTTP-transport Connection variant, backed by
// github.com/mark3labs/mcp-go/client's Streamable HTTP client.
type HTTPConnection struct {
	cfg  HTTPConfig
	gate *requestGate

	client     *mcpclient.Client
	httpClient *http.Client

	mu             sync.Mutex // serializes Start/Stop
	state          atomic.Int32
	startedAt      time.Time
	consecFailures atomic.Int32

	toolsMu sync.RWMutex
	tools   []ToolDescriptor
}

// NewHTTPConnection constructs an HTTP connection. TLS verification is
// always enabled; there is no configuration knob to disable it.
func NewHTTPConnection(cfg HTTPConfig) (*HTTPConnection, error) {
	if cfg.URLTemplate == "" {
		return nil, ambassadorerrors.NewValidationError("url template must not be empty", nil)
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = DefaultRequestTimeout
	}

	conn := &HTTPConnection{cfg: cfg, gate: newRequestGate()}
	conn.httpClient = &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &failureTrackingTransport{
			base: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: false, MinVersion: tls.VersionTLS12},
			},
			conn: conn,
		},
	}
	return conn, nil
}

// RedactedURL returns the template with placeholders intact, never the
// resolved URL; this is the only form ever surfaced in diagnostics or
// errors.
func (c *HTTPConnection) RedactedURL() string {
	return c.cfg.URLTemplate
}

func (c *HTTPConnection) resolvedURL() string {
	return resolveTemplate(c.cfg.URLTemplate)
}

func (c *HTTPConnection) recordFailure() {
	n := c.consecFailures.Add(1)
	if n >= MaxConsecutiveFailures {
		c.state.Store(int32(StateFailed))
	}
}

func (c *HTTPConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Start is legal from Idle and from Stopped (restart after Stop, which
	// the supervisor also uses to recover a Failed connection).
	if st := State(c.state.Load()); st != StateIdle && st != StateStopped {
		return ambassadorerrors.NewInternalError(fmt.Sprintf("connection cannot start from state %s", st), nil)
	}
	c.state.Store(int32(StateStarting))
	c.consecFailures.Store(0)

	startCtx, cancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()

	opts := []transport.StreamableHTTPCOption{transport.WithHTTPBasicClient(c.httpClient)}
	if len(c.cfg.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(c.cfg.Headers))
	}

	cl, err := mcpclient.NewStreamableHttpClient(c.resolvedURL(), opts...)
	if err != nil {
		c.state.Store(int32(StateFailed))
		return ambassadorerrors.NewStartupError("failed to build backend client", err)
	}

	if err := cl.Start(startCtx); err != nil {
		c.state.Store(int32(StateFailed))
		_ = cl.Close()
		return ambassadorerrors.NewStartupError("failed to connect to backend", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "mcp-ambassador", Version: "1"}

	if _, err := cl.Initialize(startCtx, initReq); err != nil {
		c.state.Store(int32(StateFailed))
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

func (c *HTTPConnection) Invoke(ctx context.Context, tool string, args map[string]any) (*InvokeResult, error) {
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

func (c *HTTPConnection) RefreshTools(ctx context.Context) ([]ToolDescriptor, error) {
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

func (c *HTTPConnection) Tools() []ToolDescriptor {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *HTTPConnection) HealthCheck(ctx context.Context) HealthStatus {
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

func (c *HTTPConnection) HealthDetail() HealthDetail {
	detail := HealthDetail{
		Transport:        TransportHTTP,
		State:            State(c.state.Load()).String(),
		CachedToolCount:  len(c.Tools()),
		PendingRequests:  c.gate.len(),
		ConsecutiveFails: int(c.consecFailures.Load()),
		RedactedURL:      c.RedactedURL(),
	}
	if !c.startedAt.IsZero() {
		detail.UptimeSeconds = time.Since(c.startedAt).Seconds()
	}
	return detail
}

func (c *HTTPConnection) State() State {
	return State(c.state.Load())
}

func (c *HTTPConnection) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Store(int32(StateStopping))
	if c.client != nil {
		_ = c.client.Close()
	}
	c.httpClient.CloseIdleConnections()
	c.state.Store(int32(StateStopped))
	return nil
}
