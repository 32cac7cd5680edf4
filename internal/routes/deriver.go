// Package routes turns query results into page route descriptors.
package routes

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/rs/zerolog"

	"github.com/Bitlatte/contentpages/internal/metrics"
	"github.com/Bitlatte/contentpages/internal/model"
	"github.com/Bitlatte/contentpages/internal/pipeline"
	"github.com/Bitlatte/contentpages/internal/query"
)

// QueryLimit caps the records fetched per collection. Records beyond it are
// left out of the run without an error.
const QueryLimit = 1000

// Querier runs a query document.
type Querier interface {
	Graphql(ctx context.Context, document string, opts ...query.Option) *query.Result
}

// PageCreator receives route descriptors. It gives no confirmation.
type PageCreator interface {
	CreatePage(d model.RouteDescriptor)
}

// Collection is a queryable collection that gets one page per record.
type Collection struct {
	Name       string // root query field, e.g. allContentfulProduct
	PathPrefix string
	Template   string // relative to the site root
}

// NodeType is the record type listed by the collection's root field, or ""
// when Name is not an "all<Type>" field.
func (c Collection) NodeType() string {
	t := strings.TrimPrefix(c.Name, "all")
	if t == c.Name || t == "" {
		return ""
	}
	return t
}

// QueryError is returned when the collection query reported errors. No
// route of the collection is emitted in that case.
type QueryError struct {
	Collection string
	Errors     []*query.Error
}

func (e *QueryError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("query %s failed: %s", e.Collection, strings.Join(msgs, "; "))
}

func (e *QueryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, err)
	}
	return errs
}

// Deriver derives routes for collections and submits them to a page creator.
type Deriver struct {
	querier Querier
	pages   PageCreator
	root    string
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewDeriver creates a deriver resolving templates against root. m may be nil.
func NewDeriver(q Querier, pages PageCreator, root string, logger zerolog.Logger, m *metrics.Collector) *Deriver {
	return &Deriver{
		querier: q,
		pages:   pages,
		root:    root,
		logger:  logger.With().Str("component", "routes").Logger(),
		metrics: m,
	}
}

// CollectionQuery is the query issued for a collection: ids only, capped at
// QueryLimit.
func CollectionQuery(collection string) string {
	return fmt.Sprintf(`
      {
        %s(limit: %d) {
          edges {
            node {
              id
            }
          }
        }
      }
    `, collection, QueryLimit)
}

// DeriveRoutes queries c and creates one page per returned record, in
// result order, with path "{prefix}/{id}/" and the record id as context.
// The emitted descriptors are returned as well.
func (d *Deriver) DeriveRoutes(ctx context.Context, c Collection) ([]model.RouteDescriptor, error) {
	template, err := d.templatePath(c.Template)
	if err != nil {
		return nil, err
	}

	result := d.querier.Graphql(ctx, CollectionQuery(c.Name))
	if result.HasErrors() {
		return nil, &QueryError{Collection: c.Name, Errors: result.Errors}
	}

	ids, err := nodeIDs(result.Data, c.Name)
	if err != nil {
		return nil, fmt.Errorf("read %s result: %w", c.Name, err)
	}
	d.logger.Debug().Str("collection", c.Name).Int("count", len(ids)).Int("limit", QueryLimit).Msg("collection queried")

	prefix := strings.TrimSuffix(c.PathPrefix, "/")
	routes := make([]model.RouteDescriptor, 0, len(ids))
	for _, id := range ids {
		desc := model.RouteDescriptor{
			Path:     fmt.Sprintf("%s/%s/", prefix, id),
			Template: template,
			Context: map[string]interface{}{
				"id": id,
			},
		}
		d.pages.CreatePage(desc)
		d.metrics.ObservePage(c.Name)
		routes = append(routes, desc)
	}

	d.logger.Info().Str("collection", c.Name).Int("pages", len(routes)).Msg("pages created")
	return routes, nil
}

// DeriveAll derives the collections one after another and stops at the
// first failure; later collections are not queried.
func (d *Deriver) DeriveAll(ctx context.Context, collections ...Collection) error {
	steps := make([]pipeline.Step, 0, len(collections))
	for _, c := range collections {
		c := c
		steps = append(steps, pipeline.Step{
			Name: "pages:" + c.Name,
			Run: func(ctx context.Context) error {
				_, err := d.DeriveRoutes(ctx, c)
				return err
			},
		})
	}
	return pipeline.Run(ctx, d.logger, steps...)
}

// templatePath resolves rel against the site root and converts it to
// forward slashes.
func (d *Deriver) templatePath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("template path is empty")
	}
	p := filepath.FromSlash(rel)
	if !filepath.IsAbs(p) {
		p = filepath.Join(d.root, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve template %s: %w", rel, err)
	}
	return filepath.ToSlash(abs), nil
}

// nodeIDs pulls edges[*].node.id of the collection out of a query result.
func nodeIDs(data map[string]interface{}, collection string) ([]string, error) {
	if data == nil {
		return nil, fmt.Errorf("no data")
	}
	v, err := jsonpath.Get(fmt.Sprintf("$.%s.edges[*].node.id", collection), data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []string{}, nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result shape %T", v)
	}
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		id, ok := r.(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("record without id in %s", collection)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
