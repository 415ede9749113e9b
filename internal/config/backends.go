package config

import (
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/backendconn"
	"github.com/mcpambassador/server/internal/catalog"
)

// BackendDefFile is the on-disk shape of one backend definition, as
// authored by an operator. Config is kept as a raw YAML-decoded map so it
// can be re-encoded to the JSON the rest of the module expects without
// needing a schema per transport.
type BackendDefFile struct {
	MCPID                   string         `yaml:"mcp_id"`
	Name                    string         `yaml:"name"`
	Transport               string         `yaml:"transport"`
	Config                  map[string]any `yaml:"config"`
	IsolationMode           string         `yaml:"isolation_mode"`
	RequiresUserCredentials bool           `yaml:"requires_user_credentials"`
	Status                  string         `yaml:"status"`
}

// LoadBackendDefs reads a YAML file of backend definitions (a top-level
// "backends:" list) and converts each into a catalog.Entry ready to seed
// memstore.Catalog or a durable equivalent.
func LoadBackendDefs(path string) ([]catalog.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ambassadorerrors.NewValidationError("failed to read backend definitions file", err)
	}

	var doc struct {
		Backends []BackendDefFile `yaml:"backends"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, ambassadorerrors.NewValidationError("failed to parse backend definitions file", err)
	}

	entries := make([]catalog.Entry, 0, len(doc.Backends))
	for _, b := range doc.Backends {
		entry, err := b.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (b BackendDefFile) toEntry() (catalog.Entry, error) {
	configJSON, err := json.Marshal(b.Config)
	if err != nil {
		return catalog.Entry{}, ambassadorerrors.NewValidationError("backend "+b.Name+" has an unencodable config block", err)
	}

	transport := backendconn.Transport(b.Transport)
	if transport != backendconn.TransportStdio && transport != backendconn.TransportHTTP {
		return catalog.Entry{}, ambassadorerrors.NewValidationError("backend "+b.Name+" has an unknown transport "+b.Transport, nil)
	}

	isolation := catalog.IsolationShared
	if b.IsolationMode == string(catalog.IsolationPerUser) {
		isolation = catalog.IsolationPerUser
	}

	status := catalog.EntryDraft
	if b.Status == string(catalog.EntryPublished) {
		status = catalog.EntryPublished
	}

	return catalog.Entry{
		MCPID:                   b.MCPID,
		Name:                    b.Name,
		Transport:               string(transport),
		Config:                  configJSON,
		IsolationMode:           isolation,
		RequiresUserCredentials: b.RequiresUserCredentials,
		Status:                  status,
	}, nil
}
