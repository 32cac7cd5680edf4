// Package pages keeps the set of pages created during a generation run and
// writes it out as a manifest for the renderer.
package pages

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"github.com/Bitlatte/contentpages/internal/metrics"
	"github.com/Bitlatte/contentpages/internal/model"
)

// Registry is an append-only set of route descriptors keyed by path.
type Registry struct {
	mu      sync.RWMutex
	pages   []model.RouteDescriptor
	byPath  map[string]struct{}
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewRegistry creates an empty page registry. m may be nil.
func NewRegistry(logger zerolog.Logger, m *metrics.Collector) *Registry {
	return &Registry{
		byPath:  make(map[string]struct{}),
		logger:  logger.With().Str("component", "pages").Logger(),
		metrics: m,
	}
}

// CreatePage registers d. A descriptor whose path is already registered is
// dropped with a warning; the first one wins.
func (r *Registry) CreatePage(d model.RouteDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byPath[d.Path]; dup {
		r.logger.Warn().Str("path", d.Path).Msg("page path already registered, descriptor rejected")
		r.metrics.ObserveRejectedPage()
		return
	}
	r.byPath[d.Path] = struct{}{}
	r.pages = append(r.pages, d)
	r.logger.Debug().Str("path", d.Path).Str("template", d.Template).Msg("page created")
}

// Pages returns the registered pages in creation order.
func (r *Registry) Pages() []model.RouteDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.RouteDescriptor(nil), r.pages...)
}

// Len returns the number of registered pages.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pages)
}

// Manifest is the on-disk form of a page set.
type Manifest struct {
	Pages []model.RouteDescriptor `yaml:"pages"`
}

// WriteManifest writes the registered pages to path as YAML, creating the
// parent directory when needed.
func (r *Registry) WriteManifest(path string) error {
	data, err := yaml.Marshal(Manifest{Pages: r.Pages()})
	if err != nil {
		return fmt.Errorf("encode page manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for manifest '%s': %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest '%s': %w", path, err)
	}
	r.logger.Info().Str("file", path).Int("pages", r.Len()).Msg("page manifest written")
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("error reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("error unmarshalling manifest %s: %w", path, err)
	}
	return m, nil
}
