package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog"

	"github.com/Bitlatte/contentpages/internal/metrics"
	"github.com/Bitlatte/contentpages/internal/model"
	"github.com/Bitlatte/contentpages/internal/nodestore"
)

var scalars = map[string]*graphql.Scalar{
	"String":  graphql.String,
	"Int":     graphql.Int,
	"Float":   graphql.Float,
	"Boolean": graphql.Boolean,
	"ID":      graphql.ID,
}

func isScalar(name string) bool {
	_, ok := scalars[name]
	return ok
}

// Schema is the compiled, queryable content schema.
type Schema struct {
	schema graphql.Schema
	types  []string
}

// GraphQL returns the executable schema.
func (s *Schema) GraphQL() graphql.Schema {
	return s.schema
}

// Types returns the node type names of the schema, sorted.
func (s *Schema) Types() []string {
	return append([]string(nil), s.types...)
}

// HasType reports whether name is a node type of the schema.
func (s *Schema) HasType(name string) bool {
	i := sort.SearchStrings(s.types, name)
	return i < len(s.types) && s.types[i] == name
}

// CollectionField is the root field listing every record of nodeType.
func CollectionField(nodeType string) string {
	return "all" + upperFirst(nodeType)
}

// SingleField is the root field fetching one record of nodeType by id.
func SingleField(nodeType string) string {
	return lowerFirst(nodeType)
}

type compiler struct {
	store      nodestore.Reader
	logger     zerolog.Logger
	metrics    *metrics.Collector
	fallbacks  map[string]*TypeDeclaration
	extensions map[string]*TypeDeclaration

	fields  map[string][]fieldDef
	objects map[string]*graphql.Object
}

func (c *compiler) compile(ctx context.Context) (*Schema, error) {
	stored, err := c.store.Types(ctx)
	if err != nil {
		return nil, fmt.Errorf("list node types: %w", err)
	}
	hasRecords := make(map[string]bool, len(stored))
	for _, t := range stored {
		hasRecords[t] = true
	}

	names := map[string]struct{}{}
	for _, t := range stored {
		if validName(t) && !isScalar(t) && !isReserved(t) {
			names[t] = struct{}{}
		} else {
			c.logger.Warn().Str("type", t).Msg("node type is not a valid schema name, skipped")
		}
	}
	for name := range c.fallbacks {
		names[name] = struct{}{}
	}
	for name := range c.extensions {
		names[name] = struct{}{}
	}

	c.fields = make(map[string][]fieldDef, len(names))
	for name := range names {
		fields, err := c.typeFields(ctx, name, hasRecords[name])
		if err != nil {
			return nil, err
		}
		c.fields[name] = fields
	}

	// targets nobody produces still get an (empty) type so their fields
	// resolve to null instead of breaking the schema
	for _, fields := range c.fields {
		for _, f := range fields {
			if isScalar(f.ref.Name) {
				continue
			}
			if _, ok := c.fields[f.ref.Name]; !ok {
				c.logger.Debug().Str("type", f.ref.Name).Msg("referenced type has no records or declaration")
				c.fields[f.ref.Name] = nil
			}
		}
	}

	types := make([]string, 0, len(c.fields))
	for name := range c.fields {
		types = append(types, name)
	}
	sort.Strings(types)

	nodeInterface := graphql.NewInterface(graphql.InterfaceConfig{
		Name: "Node",
		Fields: graphql.Fields{
			"id": &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		},
		ResolveType: func(p graphql.ResolveTypeParams) *graphql.Object {
			rec, ok := asRecord(p.Value)
			if !ok {
				return nil
			}
			return c.objects[rec.Type]
		},
	})

	c.objects = make(map[string]*graphql.Object, len(types))
	for _, name := range types {
		name := name
		c.objects[name] = graphql.NewObject(graphql.ObjectConfig{
			Name:       name,
			Interfaces: []*graphql.Interface{nodeInterface},
			Fields: graphql.FieldsThunk(func() graphql.Fields {
				return c.objectFields(name)
			}),
		})
	}

	root := graphql.Fields{}
	allTypes := []graphql.Type{nodeInterface}
	for _, name := range types {
		obj := c.objects[name]
		allTypes = append(allTypes, obj)

		if _, taken := root[SingleField(name)]; !taken {
			root[SingleField(name)] = c.singleField(name, obj)
		}
		root[CollectionField(name)] = c.collectionField(name, obj)

		c.logger.Debug().
			Str("type", name).
			Int("fields", len(c.fields[name])).
			Bool("records", hasRecords[name]).
			Msg("type compiled")
	}

	query := graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: root})
	gql, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: query,
		Types: allTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}

	return &Schema{schema: gql, types: types}, nil
}

// typeFields merges inferred, fallback and extension fields of one type.
func (c *compiler) typeFields(ctx context.Context, name string, hasRecords bool) ([]fieldDef, error) {
	ext := c.extensions[name]
	infer := ext == nil || ext.Infer

	var fields []fieldDef
	switch {
	case hasRecords && infer:
		inferred, err := c.inferFields(ctx, name)
		if err != nil {
			return nil, err
		}
		fields = inferred
	case !hasRecords:
		if fb := c.fallbacks[name]; fb != nil {
			for _, f := range fb.Fields {
				fields = append(fields, declaredField(f))
			}
		}
	}

	if ext != nil {
		for _, f := range ext.Fields {
			fields = replaceField(fields, declaredField(f))
		}
	}
	return fields, nil
}

func declaredField(f FieldDeclaration) fieldDef {
	if f.Resolve != nil {
		return fieldDef{name: f.Name, ref: f.Type, source: sourceResolver, resolve: f.Resolve}
	}
	if isScalar(f.Type.Name) {
		return fieldDef{name: f.Name, ref: f.Type, source: sourceValue, key: f.Name}
	}
	return fieldDef{name: f.Name, ref: f.Type, source: sourceReference, key: f.Name + model.RefSuffix}
}

func replaceField(fields []fieldDef, f fieldDef) []fieldDef {
	for i := range fields {
		if fields[i].name == f.name {
			fields[i] = f
			return fields
		}
	}
	return append(fields, f)
}

func (c *compiler) outputType(ref TypeRef) graphql.Output {
	var t graphql.Output
	if s, ok := scalars[ref.Name]; ok {
		t = s
	} else {
		t = c.objects[ref.Name]
	}
	if ref.List {
		t = graphql.NewList(t)
	}
	if ref.NonNull {
		t = graphql.NewNonNull(t)
	}
	return t
}

func (c *compiler) objectFields(name string) graphql.Fields {
	fields := graphql.Fields{
		"id": &graphql.Field{
			Type: graphql.NewNonNull(graphql.ID),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				rec, ok := asRecord(p.Source)
				if !ok {
					return nil, nil
				}
				return rec.ID, nil
			},
		},
	}
	for _, f := range c.fields[name] {
		fields[f.name] = &graphql.Field{
			Type:    c.outputType(f.ref),
			Resolve: c.fieldResolver(f),
		}
	}
	return fields
}

func (c *compiler) fieldResolver(f fieldDef) graphql.FieldResolveFn {
	switch f.source {
	case sourceResolver:
		return func(p graphql.ResolveParams) (interface{}, error) {
			rec, ok := asRecord(p.Source)
			if !ok {
				return nil, nil
			}
			c.metrics.ObserveLookup(f.ref.Name)
			rc := ResolveContext{Nodes: c.store, Path: RequestPath(p.Context)}
			out, err := f.resolve(p.Context, rec, p.Args, rc)
			if err != nil {
				return nil, err
			}
			if out == nil {
				return nil, nil
			}
			return *out, nil
		}

	case sourceReference:
		return func(p graphql.ResolveParams) (interface{}, error) {
			rec, ok := asRecord(p.Source)
			if !ok {
				return nil, nil
			}
			v, ok := rec.Field(f.key)
			if !ok || v == nil {
				return nil, nil
			}
			c.metrics.ObserveLookup(f.ref.Name)
			nodes, err := c.store.GetNodesByIds(p.Context,
				nodestore.Selector{IDs: refIDs(v), Type: f.ref.Name},
				nodestore.Options{Path: RequestPath(p.Context)},
			)
			if err != nil {
				return nil, err
			}
			if f.ref.List {
				return nodes, nil
			}
			if len(nodes) == 0 {
				return nil, nil
			}
			return nodes[0], nil
		}

	default:
		return func(p graphql.ResolveParams) (interface{}, error) {
			rec, ok := asRecord(p.Source)
			if !ok {
				return nil, nil
			}
			v, _ := rec.Field(f.key)
			return v, nil
		}
	}
}

type connection struct {
	nodes []model.ContentRecord
	total int
}

type edge struct {
	node model.ContentRecord
}

func (c *compiler) singleField(name string, obj *graphql.Object) *graphql.Field {
	return &graphql.Field{
		Type: obj,
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{Type: graphql.String},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			id, _ := p.Args["id"].(string)
			if id == "" {
				all, err := c.store.GetAllNodes(p.Context, name)
				if err != nil || len(all) == 0 {
					return nil, err
				}
				return all[0], nil
			}
			nodes, err := c.store.GetNodesByIds(p.Context,
				nodestore.Selector{IDs: []string{id}, Type: name},
				nodestore.Options{Path: RequestPath(p.Context)},
			)
			if err != nil || len(nodes) == 0 {
				return nil, err
			}
			return nodes[0], nil
		},
	}
}

func (c *compiler) collectionField(name string, obj *graphql.Object) *graphql.Field {
	edgeType := graphql.NewObject(graphql.ObjectConfig{
		Name: upperFirst(name) + "Edge",
		Fields: graphql.Fields{
			"node": &graphql.Field{
				Type: graphql.NewNonNull(obj),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					e, _ := p.Source.(edge)
					return e.node, nil
				},
			},
		},
	})

	connType := graphql.NewObject(graphql.ObjectConfig{
		Name: upperFirst(name) + "Connection",
		Fields: graphql.Fields{
			"edges": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(edgeType))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					conn, _ := p.Source.(connection)
					edges := make([]edge, 0, len(conn.nodes))
					for _, n := range conn.nodes {
						edges = append(edges, edge{node: n})
					}
					return edges, nil
				},
			},
			"nodes": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(obj))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					conn, _ := p.Source.(connection)
					return conn.nodes, nil
				},
			},
			"totalCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					conn, _ := p.Source.(connection)
					return conn.total, nil
				},
			},
		},
	})

	return &graphql.Field{
		Type: graphql.NewNonNull(connType),
		Args: graphql.FieldConfigArgument{
			"limit": &graphql.ArgumentConfig{Type: graphql.Int},
			"skip":  &graphql.ArgumentConfig{Type: graphql.Int},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			all, err := c.store.GetAllNodes(p.Context, name)
			if err != nil {
				return nil, err
			}
			conn := connection{total: len(all)}

			nodes := all
			if skip, ok := p.Args["skip"].(int); ok && skip > 0 {
				if skip >= len(nodes) {
					nodes = nil
				} else {
					nodes = nodes[skip:]
				}
			}
			if limit, ok := p.Args["limit"].(int); ok && limit >= 0 && limit < len(nodes) {
				nodes = nodes[:limit]
			}
			conn.nodes = nodes
			return conn, nil
		},
	}
}

func asRecord(v interface{}) (model.ContentRecord, bool) {
	switch t := v.(type) {
	case model.ContentRecord:
		return t, true
	case *model.ContentRecord:
		if t == nil {
			return model.ContentRecord{}, false
		}
		return *t, true
	default:
		return model.ContentRecord{}, false
	}
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
