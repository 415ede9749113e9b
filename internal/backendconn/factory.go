package backendconn

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
)

// StdioBackendConfig is the on-disk shape of a stdio backend's Config
// blob.
type StdioBackendConfig struct {
	Argv             []string          `json:"argv"`
	Env              map[string]string `json:"env"`
	StartTimeoutMS   int               `json:"start_timeout_ms"`
	RequestTimeoutMS int               `json:"request_timeout_ms"`
}

// HTTPBackendConfig is the on-disk shape of an HTTP backend's Config
// blob. URLTemplate may reference `${ENV_VAR}` placeholders resolved at
// connect time.
type HTTPBackendConfig struct {
	URLTemplate      string            `json:"url_template"`
	Headers          map[string]string `json:"headers"`
	StartTimeoutMS   int               `json:"start_timeout_ms"`
	RequestTimeoutMS int               `json:"request_timeout_ms"`
}

// NewConnection builds a not-yet-started Connection from a raw config
// blob and transport, applying per-user credential overlay when creds is
// non-nil (merged into the backend's env or headers, depending on
// transport, with credential values taking priority).
func NewConnection(name string, transport Transport, config []byte, creds map[string]string) (Connection, error) {
	switch transport {
	case TransportStdio:
		var cfg StdioBackendConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, ambassadorerrors.NewValidationError(fmt.Sprintf("backend %q has an invalid stdio config", name), err)
		}
		env := mergeStrings(cfg.Env, creds)
		return NewStdioConnection(StdioConfig{
			Name:           name,
			Argv:           cfg.Argv,
			Env:            env,
			StartTimeout:   millisOrDefault(cfg.StartTimeoutMS, DefaultRequestTimeout),
			RequestTimeout: millisOrDefault(cfg.RequestTimeoutMS, DefaultRequestTimeout),
		})

	case TransportHTTP:
		var cfg HTTPBackendConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, ambassadorerrors.NewValidationError(fmt.Sprintf("backend %q has an invalid http config", name), err)
		}
		headers := mergeStrings(cfg.Headers, creds)
		return NewHTTPConnection(HTTPConfig{
			Name:           name,
			URLTemplate:    cfg.URLTemplate,
			Headers:        headers,
			StartTimeout:   millisOrDefault(cfg.StartTimeoutMS, DefaultRequestTimeout),
			RequestTimeout: millisOrDefault(cfg.RequestTimeoutMS, DefaultRequestTimeout),
		})

	default:
		return nil, ambassadorerrors.NewValidationError(fmt.Sprintf("backend %q has unknown transport %q", name, transport), nil)
	}
}

func mergeStrings(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func millisOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
