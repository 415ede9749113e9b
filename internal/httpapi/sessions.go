package httpapi

import (
	"net"
	"net/http"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/metrics"
	"github.com/mcpambassador/server/internal/session"
)

type sessionsRoutes struct {
	manager *session.Manager
	metrics *metrics.Metrics
}

type registerRequest struct {
	PresharedKey string `json:"preshared_key"`
	FriendlyName string `json:"friendly_name"`
	HostTool     string `json:"host_tool"`
}

type registerResponse struct {
	SessionID    string `json:"session_id"`
	SessionToken string `json:"session_token,omitempty"`
	ProfileID    string `json:"profile_id"`
	ConnectionID string `json:"connection_id"`
	ExpiresAt    string `json:"expires_at"`
}

// register implements POST /v1/sessions/register.
func (s *sessionsRoutes) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PresharedKey == "" {
		writeError(w, ambassadorerrors.NewValidationError("preshared_key is required", nil))
		return
	}

	result, err := s.manager.Register(r.Context(), req.PresharedKey, req.FriendlyName, req.HostTool, sourceIP(r))
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.SessionsRegistered.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, registerResponse{
		SessionID:    result.SessionID,
		SessionToken: result.SessionToken,
		ProfileID:    result.ProfileID,
		ConnectionID: result.ConnectionID,
		ExpiresAt:    result.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
