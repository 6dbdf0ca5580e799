// Package config is the read-only configuration provider: the substance catalog and the
// site/operator identity drafts are uploaded under.
package config

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
	"github.com/ConnectForLife/vxnaid-sub000/internal/util"
)

// Environment variables read by IdentityFromEnv.
const (
	EnvSiteUUID     = "VXNAID_SITE_UUID"
	EnvOperatorUUID = "VXNAID_OPERATOR_UUID"
)

//go:embed default_catalog.json
var defaultCatalog []byte

// Provider supplies configuration to the engines and the upload pipeline.
type Provider interface {
	Catalog(ctx context.Context) (models.Catalog, error)
	Identity() (models.Identity, error)
}

// FileProvider loads the catalog from a JSON file once and caches it. Without a path the
// built-in catalog is used.
type FileProvider struct {
	path string

	loadOnce sync.Once
	catalog  models.Catalog
	loadErr  error

	mu       sync.RWMutex
	identity models.Identity
}

var _ Provider = (*FileProvider)(nil)

// NewFileProvider creates a provider for the catalog at path with the given identity.
func NewFileProvider(path string, identity models.Identity) *FileProvider {
	return &FileProvider{path: path, identity: identity}
}

// IdentityFromEnv reads the site and operator uuids from the environment.
func IdentityFromEnv() models.Identity {
	return models.Identity{
		SiteUUID:     util.GetenvDefault(EnvSiteUUID, ""),
		OperatorUUID: util.GetenvDefault(EnvOperatorUUID, ""),
	}
}

// Catalog returns the cached catalog, loading it on first use.
func (p *FileProvider) Catalog(ctx context.Context) (models.Catalog, error) {
	p.loadOnce.Do(func() {
		p.catalog, p.loadErr = p.load()
	})
	if p.loadErr != nil {
		return models.Catalog{}, p.loadErr
	}
	return p.catalog, nil
}

func (p *FileProvider) load() (models.Catalog, error) {
	data := defaultCatalog
	source := "built-in"
	if p.path != "" {
		b, err := os.ReadFile(p.path)
		if err != nil {
			return models.Catalog{}, fmt.Errorf("read catalog %s: %w", p.path, err)
		}
		data, source = b, p.path
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return models.Catalog{}, fmt.Errorf("catalog %s: %w", source, err)
	}
	slog.Info("FileProvider.load: catalog loaded", "source", source, "substances", len(c.Substances), "groups", len(c.Groups))
	return c, nil
}

// Identity returns the configured identity. Missing halves fail with ErrMissingIdentity.
func (p *FileProvider) Identity() (models.Identity, error) {
	p.mu.RLock()
	id := p.identity
	p.mu.RUnlock()
	if err := id.Validate(); err != nil {
		return id, err
	}
	return id, nil
}

// SetOperator records the operator who signed in on this device.
func (p *FileProvider) SetOperator(operatorUUID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity.OperatorUUID = operatorUUID
	slog.Info("FileProvider.SetOperator: operator changed", "operatorUUID", operatorUUID)
}

// ParseCatalog decodes and checks a catalog document.
func ParseCatalog(data []byte) (models.Catalog, error) {
	var c models.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode: %w", err)
	}
	seen := make(map[string]bool, len(c.Substances))
	for _, s := range c.Substances {
		if s.ConceptName == "" {
			return c, fmt.Errorf("substance without concept name")
		}
		if seen[s.ConceptName] {
			return c, fmt.Errorf("duplicate substance %q", s.ConceptName)
		}
		if s.WeeksAfterBirthLowWindow < 0 || s.WeeksAfterBirthUpWindow < 0 {
			return c, fmt.Errorf("substance %q has a negative window", s.ConceptName)
		}
		seen[s.ConceptName] = true
	}
	for _, g := range c.Groups {
		for _, o := range g.Options {
			if !seen[o] {
				slog.Warn("ParseCatalog: group option is not a configured substance", "group", g.Name, "option", o)
			}
		}
	}
	return c, nil
}
