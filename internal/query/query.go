// Package query executes query documents against the compiled content schema.
// It is the only way page generation reads content.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog"

	"github.com/Bitlatte/contentpages/internal/metrics"
	"github.com/Bitlatte/contentpages/internal/schema"
)

// Error is one error reported by a query, either a document error (syntax,
// unknown field) or a failure of a field resolver.
type Error struct {
	Message string
	Path    []interface{}
}

func (e *Error) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Path))
	for _, p := range e.Path {
		parts = append(parts, fmt.Sprint(p))
	}
	return fmt.Sprintf("%s (at %s)", e.Message, strings.Join(parts, "."))
}

// Result is the outcome of a query. Data may be partially filled when
// Errors is not empty.
type Result struct {
	Data   map[string]interface{}
	Errors []*Error
}

// HasErrors reports whether the query produced any error.
func (r *Result) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// Option tunes a single query.
type Option func(*options)

type options struct {
	path      string
	variables map[string]interface{}
}

// WithPath sets the page path the query runs for; resolvers pass it on to
// the node store.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithVariables sets the query variables.
func WithVariables(vars map[string]interface{}) Option {
	return func(o *options) { o.variables = vars }
}

// Executor runs queries against one compiled schema.
type Executor struct {
	schema  *schema.Schema
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewExecutor creates an executor. m may be nil.
func NewExecutor(s *schema.Schema, logger zerolog.Logger, m *metrics.Collector) *Executor {
	return &Executor{
		schema:  s,
		logger:  logger.With().Str("component", "query").Logger(),
		metrics: m,
	}
}

// Graphql executes document. It never returns nil; failures are reported in
// Result.Errors.
func (e *Executor) Graphql(ctx context.Context, document string, opts ...Option) *Result {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.path != "" {
		ctx = schema.WithRequestPath(ctx, o.path)
	}

	res := graphql.Do(graphql.Params{
		Schema:         e.schema.GraphQL(),
		RequestString:  document,
		VariableValues: o.variables,
		Context:        ctx,
	})

	out := &Result{}
	if data, ok := res.Data.(map[string]interface{}); ok {
		out.Data = data
	}
	for _, fe := range res.Errors {
		out.Errors = append(out.Errors, &Error{Message: fe.Message, Path: fe.Path})
	}

	e.metrics.ObserveQuery(out.HasErrors())
	if out.HasErrors() {
		e.logger.Debug().Int("errors", len(out.Errors)).Str("path", o.path).Msg("query failed")
	}
	return out
}
