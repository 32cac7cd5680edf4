// Package site holds the storefront's generation hooks: the schema
// declarations made before the schema is compiled, and the page creation
// that runs once content is in the store.
package site

import (
	"context"
	"fmt"

	"github.com/Bitlatte/contentpages/internal/config"
	"github.com/Bitlatte/contentpages/internal/model"
	"github.com/Bitlatte/contentpages/internal/nodestore"
	"github.com/Bitlatte/contentpages/internal/routes"
	"github.com/Bitlatte/contentpages/internal/schema"
)

const MarkdownRemarkType = "MarkdownRemark"

// markdownRemarkSDL keeps queries on MarkdownRemark valid when no Markdown
// node exists.
const markdownRemarkSDL = `
  type MarkdownRemark implements Node {
    html: String
  }
`

// markdownTextNodeTypes are the long-text node types exposing their rendered
// Markdown child as childMarkdownRemark.
var markdownTextNodeTypes = []string{
	"contentfulProductProductDescriptionTextNode",
}

// SourceNodes makes the site's type declarations on an open registry. Every
// collection type gets an empty fallback so a collection without records
// still answers its query with no rows.
func SourceNodes(reg *schema.Registry, collections []config.CollectionConfig) error {
	if err := reg.CreateTypes(markdownRemarkSDL); err != nil {
		return err
	}
	for _, c := range Collections(collections) {
		if t := c.NodeType(); t != "" {
			if err := reg.DeclareFallbackType(t); err != nil {
				return fmt.Errorf("collection %s: %w", c.Name, err)
			}
		}
	}
	for _, typeName := range markdownTextNodeTypes {
		err := reg.ExtendType(typeName, "childMarkdownRemark", MarkdownRemarkType,
			ChildMarkdownRemark, schema.WithInfer(false))
		if err != nil {
			return err
		}
	}
	return nil
}

// ChildMarkdownRemark resolves the first MarkdownRemark child of source, or
// nil when it has none.
func ChildMarkdownRemark(ctx context.Context, source model.ContentRecord, _ map[string]interface{}, rc schema.ResolveContext) (*model.ContentRecord, error) {
	result, err := rc.Nodes.GetNodesByIds(ctx,
		nodestore.Selector{IDs: source.Children, Type: MarkdownRemarkType},
		nodestore.Options{Path: rc.Path},
	)
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		return &result[0], nil
	}
	return nil, nil
}

// Collections converts configured collections, falling back to the default
// product and category pages when none are configured.
func Collections(cfg []config.CollectionConfig) []routes.Collection {
	if len(cfg) == 0 {
		cfg = config.DefaultCollections()
	}
	out := make([]routes.Collection, 0, len(cfg))
	for _, c := range cfg {
		out = append(out, routes.Collection{Name: c.Name, PathPrefix: c.PathPrefix, Template: c.Template})
	}
	return out
}

// CreatePages creates a page for every record of each collection, products
// then categories unless configured otherwise, stopping at the first
// collection that fails.
func CreatePages(ctx context.Context, d *routes.Deriver, collections []config.CollectionConfig) error {
	return d.DeriveAll(ctx, Collections(collections)...)
}
