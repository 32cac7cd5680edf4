package site

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Bitlatte/contentpages/internal/config"
	"github.com/Bitlatte/contentpages/internal/metrics"
	"github.com/Bitlatte/contentpages/internal/nodestore"
	"github.com/Bitlatte/contentpages/internal/pages"
	"github.com/Bitlatte/contentpages/internal/pipeline"
	"github.com/Bitlatte/contentpages/internal/query"
	"github.com/Bitlatte/contentpages/internal/routes"
	"github.com/Bitlatte/contentpages/internal/schema"
	"github.com/Bitlatte/contentpages/internal/source"
)

// Build is the state of one finished generation run. Readers pin it with
// Acquire so Close waits until they are done with the store.
type Build struct {
	Store    nodestore.Store
	Schema   *schema.Schema
	Executor *query.Executor
	Pages    *pages.Registry
	Entries  int

	mu     sync.RWMutex
	closed bool
}

// Acquire pins b against Close until release is called. ok is false when b
// has already been closed.
func (b *Build) Acquire() (release func(), ok bool) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, false
	}
	return b.mu.RUnlock, true
}

// Close waits for every Acquire to be released, then releases the node
// store. Closing twice is a no-op.
func (b *Build) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if c, ok := b.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// OpenStore creates an empty node store for a run. An existing SQLite file
// is replaced, every run starts from scratch.
func OpenStore(cfg config.StoreConfig) (nodestore.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return nodestore.NewMemoryStore(), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create directory for node store '%s': %w", path, err)
			}
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return nil, fmt.Errorf("failed to remove node store '%s': %w", p, err)
				}
			}
		}
		return nodestore.OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Run performs a full generation run: load content, declare types, compile
// the schema, create pages for every collection and write the manifest.
// Any failure aborts the run.
func Run(ctx context.Context, cfg config.Config, logger zerolog.Logger, m *metrics.Collector) (*Build, error) {
	start := time.Now()

	store, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	b := &Build{
		Store: store,
		Pages: pages.NewRegistry(logger, m),
	}
	registry := schema.NewRegistry(logger, m)

	steps := []pipeline.Step{
		{Name: "source", Run: func(ctx context.Context) error {
			n, err := source.NewLoader(cfg.ContentDir, logger).Load(ctx, store)
			b.Entries = n
			if err != nil {
				return err
			}
			nodes, err := store.Count(ctx)
			if err != nil {
				return err
			}
			logger.Debug().Int("entries", n).Int("nodes", nodes).Msg("node store filled")
			return nil
		}},
		{Name: "schema", Run: func(ctx context.Context) error {
			if err := SourceNodes(registry, cfg.Collections); err != nil {
				return err
			}
			s, err := registry.Close(ctx, store)
			if err != nil {
				return err
			}
			b.Schema = s
			logger.Debug().Strs("types", s.Types()).Msg("schema compiled")
			b.Executor = query.NewExecutor(s, logger, m)
			return nil
		}},
		{Name: "pages", Run: func(ctx context.Context) error {
			d := routes.NewDeriver(b.Executor, b.Pages, cfg.Root, logger, m)
			return CreatePages(ctx, d, cfg.Collections)
		}},
	}
	if cfg.ManifestFile != "" {
		steps = append(steps, pipeline.Step{Name: "manifest", Run: func(context.Context) error {
			return b.Pages.WriteManifest(cfg.ManifestFile)
		}})
	}

	if err := pipeline.Run(ctx, logger, steps...); err != nil {
		b.Close()
		return nil, err
	}

	m.ObserveBuild(time.Since(start).Seconds())
	logger.Info().
		Int("entries", b.Entries).
		Int("pages", b.Pages.Len()).
		Dur("took", time.Since(start)).
		Msg("build completed")
	return b, nil
}
