// Package schema collects type declarations from site hooks and compiles
// them, together with the shapes inferred from the node store, into the
// queryable content schema.
//
// A Registry starts Open. Hooks declare fallback types and extensions, then
// the build calls Close exactly once, which compiles the schema. Every
// declaration after that fails with ErrRegistryClosed.
package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Bitlatte/contentpages/internal/metrics"
	"github.com/Bitlatte/contentpages/internal/nodestore"
)

// Registry accepts declarations while open and compiles them on Close.
type Registry struct {
	mu      sync.Mutex
	closed  bool
	logger  zerolog.Logger
	metrics *metrics.Collector

	fallbacks  map[string]*TypeDeclaration
	extensions map[string]*TypeDeclaration
}

// NewRegistry returns an open registry. m may be nil.
func NewRegistry(logger zerolog.Logger, m *metrics.Collector) *Registry {
	return &Registry{
		logger:     logger.With().Str("component", "schema").Logger(),
		metrics:    m,
		fallbacks:  make(map[string]*TypeDeclaration),
		extensions: make(map[string]*TypeDeclaration),
	}
}

// DeclareFallbackType registers the shape of name for builds in which no
// record of that type exists.
func (r *Registry) DeclareFallbackType(name string, fields ...FieldDeclaration) error {
	return r.CreateTypeDeclarations(TypeDeclaration{
		Name:   name,
		Kind:   KindFallback,
		Fields: fields,
	})
}

// CreateTypes parses a type-language document and registers every object
// type in it as a fallback declaration.
func (r *Registry) CreateTypes(sdl string) error {
	decls, err := parseSDL(sdl)
	if err != nil {
		return err
	}
	return r.CreateTypeDeclarations(decls...)
}

// ExtendType attaches fieldName of type targetType to typeName. resolve may
// be nil, in which case the field reads the record field of the same name.
func (r *Registry) ExtendType(typeName, fieldName, targetType string, resolve NodeResolver, opts ...ExtendOption) error {
	o := extendOptions{infer: true}
	for _, opt := range opts {
		opt(&o)
	}
	return r.CreateTypeDeclarations(TypeDeclaration{
		Name:  typeName,
		Kind:  KindExtension,
		Infer: o.infer,
		Fields: []FieldDeclaration{{
			Name:    fieldName,
			Type:    TypeRef{Name: targetType},
			Resolve: resolve,
		}},
	})
}

// CreateTypeDeclarations registers compiled declarations. Declarations for
// the same name and kind are merged; a field declared twice is an error.
// Nothing is registered if any declaration is rejected.
func (r *Registry) CreateTypeDeclarations(decls ...TypeDeclaration) error {
	for _, d := range decls {
		if err := d.validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	// merge into copies first so a late failure leaves the registry untouched
	staged := map[DeclarationKind]map[string]*TypeDeclaration{
		KindFallback:  make(map[string]*TypeDeclaration),
		KindExtension: make(map[string]*TypeDeclaration),
	}
	for _, d := range decls {
		target := r.fallbacks
		if d.Kind == KindExtension {
			target = r.extensions
		}

		cur, ok := staged[d.Kind][d.Name]
		if !ok {
			if existing, found := target[d.Name]; found {
				cp := *existing
				cp.Fields = append([]FieldDeclaration(nil), existing.Fields...)
				cur = &cp
			} else {
				cur = &TypeDeclaration{Name: d.Name, Kind: d.Kind, Infer: true}
			}
			staged[d.Kind][d.Name] = cur
		}

		for _, f := range d.Fields {
			for _, have := range cur.Fields {
				if have.Name == f.Name {
					return fmt.Errorf("%s.%s: %w", d.Name, f.Name, ErrDuplicateField)
				}
			}
			cur.Fields = append(cur.Fields, f)
		}
		if d.Kind == KindExtension {
			cur.Infer = cur.Infer && d.Infer
		}
	}

	for name, d := range staged[KindFallback] {
		r.fallbacks[name] = d
	}
	for name, d := range staged[KindExtension] {
		r.extensions[name] = d
	}

	for _, d := range decls {
		r.logger.Debug().
			Str("type", d.Name).
			Stringer("kind", d.Kind).
			Int("fields", len(d.Fields)).
			Msg("type declared")
	}
	return nil
}

// Close compiles the schema over store and closes the registry. It can be
// called once; the registry stays closed even if compilation fails.
func (r *Registry) Close(ctx context.Context, store nodestore.Reader) (*Schema, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	r.closed = true
	fallbacks := r.fallbacks
	extensions := r.extensions
	r.mu.Unlock()

	c := &compiler{
		store:      store,
		logger:     r.logger,
		metrics:    r.metrics,
		fallbacks:  fallbacks,
		extensions: extensions,
	}
	s, err := c.compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	r.logger.Info().Int("types", len(s.types)).Msg("schema compiled")
	return s, nil
}
