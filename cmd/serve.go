package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Bitlatte/contentpages/internal/config"
	"github.com/Bitlatte/contentpages/internal/metrics"
	"github.com/Bitlatte/contentpages/internal/query"
	"github.com/Bitlatte/contentpages/internal/site"
)

var serverPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Builds, then serves the query endpoint and page list while watching content",
	Long: `The serve command performs an initial build, then starts a local server
exposing the content schema at /___graphql and the created pages at /__pages.
It watches the content directory and runs a complete new build on changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m := metrics.New()
		port := appConfig.Serve.Port
		if cmd.Flags().Changed("port") {
			port = serverPort
		}

		live := newLiveSite(appConfig, func(ctx context.Context, cfg config.Config) (*site.Build, error) {
			return site.Run(ctx, cfg, logger, m)
		})
		logger.Info().Msg("performing initial build")
		if err := live.rebuild(ctx); err != nil {
			return fmt.Errorf("initial build failed: %w", err)
		}
		defer live.close()

		rebuild := func() {
			logger.Info().Msg("rebuilding site due to changes")
			if err := live.rebuild(ctx); err != nil {
				logger.Error().Err(err).Msg("rebuild failed, keeping previous build")
			}
		}

		watcher, err := watchContent(ctx, appConfig.ContentDir, rebuild)
		if err != nil {
			return err
		}
		defer watcher.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newDevRouter(live.current.Load, m),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		logger.Info().Str("addr", srv.Addr).Msgf("query endpoint on http://localhost%s/___graphql", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	},
}

// liveSite holds the build the dev server answers from. Rebuilds run one at
// a time; a replaced build is closed once no request uses it anymore.
type liveSite struct {
	mu      sync.Mutex
	cfg     config.Config
	run     func(context.Context, config.Config) (*site.Build, error)
	gen     int
	current atomic.Pointer[site.Build]
}

func newLiveSite(cfg config.Config, run func(context.Context, config.Config) (*site.Build, error)) *liveSite {
	return &liveSite{cfg: cfg, run: run}
}

func (l *liveSite) rebuild(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := l.run(ctx, storeSlot(l.cfg, l.gen))
	if err != nil {
		return err
	}
	l.gen++
	if old := l.current.Swap(b); old != nil {
		old.Close()
	}
	return nil
}

func (l *liveSite) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b := l.current.Swap(nil); b != nil {
		b.Close()
	}
}

// storeSlot alternates SQLite files between consecutive builds so a new
// build never replaces the database the live one still reads.
func storeSlot(cfg config.Config, gen int) config.Config {
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path == "" || cfg.Store.Path == ":memory:" || gen%2 == 0 {
		return cfg
	}
	ext := filepath.Ext(cfg.Store.Path)
	cfg.Store.Path = strings.TrimSuffix(cfg.Store.Path, ext) + ".next" + ext
	return cfg
}

// watchContent watches dir and its subdirectories and calls rebuild,
// debounced, after changes.
func watchContent(ctx context.Context, dir string, rebuild func()) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("error walking content for watching")
			return nil
		}
		if d.IsDir() {
			if watchErr := watcher.Add(path); watchErr != nil {
				logger.Warn().Err(watchErr).Str("path", path).Msg("failed to watch directory")
			}
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		var buildTimer *time.Timer
		debounce := 500 * time.Millisecond

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
					continue
				}
				logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("change detected")

				if event.Has(fsnotify.Create) && isDir(event.Name) {
					if err := watcher.Add(event.Name); err != nil {
						logger.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
					}
				}

				if buildTimer != nil {
					buildTimer.Stop()
				}
				buildTimer = time.AfterFunc(debounce, rebuild)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("watcher error")
			}
		}
	}()
	return watcher, nil
}

type queryRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
	Path      string                 `json:"path"`
}

type queryError struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

type queryResponse struct {
	Data   map[string]interface{} `json:"data"`
	Errors []queryError           `json:"errors,omitempty"`
}

// newDevRouter serves the build returned by current.
func newDevRouter(current func() *site.Build, m *metrics.Collector) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/__pages", func(w http.ResponseWriter, r *http.Request) {
		withBuild(w, current, func(b *site.Build) {
			writeJSON(w, http.StatusOK, b.Pages.Pages())
		})
	})

	graphqlHandler := func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if r.Method == http.MethodPost {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, queryResponse{Errors: []queryError{{Message: "invalid request body: " + err.Error()}}})
				return
			}
		} else {
			req.Query = r.URL.Query().Get("query")
			req.Path = r.URL.Query().Get("path")
		}
		if req.Query == "" {
			writeJSON(w, http.StatusBadRequest, queryResponse{Errors: []queryError{{Message: "missing query"}}})
			return
		}

		withBuild(w, current, func(b *site.Build) {
			res := b.Executor.Graphql(r.Context(), req.Query,
				query.WithPath(req.Path),
				query.WithVariables(req.Variables),
			)
			resp := queryResponse{Data: res.Data}
			for _, e := range res.Errors {
				resp.Errors = append(resp.Errors, queryError{Message: e.Message, Path: e.Path})
			}
			writeJSON(w, http.StatusOK, resp)
		})
	}
	r.Get("/___graphql", graphqlHandler)
	r.Post("/___graphql", graphqlHandler)

	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return r
}

// withBuild runs fn with the live build pinned. A build closed between
// loading and pinning has already been replaced, so the load is retried.
func withBuild(w http.ResponseWriter, current func() *site.Build, fn func(b *site.Build)) {
	for i := 0; i < 3; i++ {
		b := current()
		if b == nil {
			break
		}
		release, ok := b.Acquire()
		if !ok {
			continue
		}
		defer release()
		fn(b)
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, queryResponse{Errors: []queryError{{Message: "no build available"}}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func isDir(path string) bool {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fileInfo.IsDir()
}

func init() {
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8000, "Port to serve on")
	rootCmd.AddCommand(serveCmd)
}
