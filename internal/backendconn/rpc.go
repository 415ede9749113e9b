package backendconn

import (
	"sync/atomic"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
)

// requestGate bounds the number of in-flight requests a connection admits
// concurrently, preserving the MaxPendingRequests resource cap now that
// github.com/mark3labs/mcp-go/client owns JSON-RPC id correlation and
// message framing internally.
type requestGate struct {
	inFlight atomic.Int32
	limit    int32
}

func newRequestGate() *requestGate {
	return &requestGate{limit: MaxPendingRequests}
}

// acquire admits one more in-flight request, or returns an Overloaded error
// if the connection is already at capacity.
func (g *requestGate) acquire() error {
	if g.inFlight.Add(1) > g.limit {
		g.inFlight.Add(-1)
		return ambassadorerrors.NewOverloadedError("too many pending requests", nil)
	}
	return nil
}

// release returns one admitted slot.
func (g *requestGate) release() {
	g.inFlight.Add(-1)
}

// len reports the current number of in-flight requests.
func (g *requestGate) len() int {
	return int(g.inFlight.Load())
}
