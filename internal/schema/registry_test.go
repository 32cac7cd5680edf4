package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Bitlatte/contentpages/internal/model"
	"github.com/Bitlatte/contentpages/internal/nodestore"
	"github.com/Bitlatte/contentpages/internal/query"
	"github.com/Bitlatte/contentpages/internal/schema"
)

func newStore(t *testing.T, recs ...model.ContentRecord) *nodestore.MemoryStore {
	t.Helper()
	s := nodestore.NewMemoryStore()
	for _, r := range recs {
		require.NoError(t, s.CreateNode(context.Background(), r))
	}
	return s
}

func compile(t *testing.T, reg *schema.Registry, store nodestore.Reader) *query.Executor {
	t.Helper()
	s, err := reg.Close(context.Background(), store)
	require.NoError(t, err)
	return query.NewExecutor(s, zerolog.Nop(), nil)
}

func firstMarkdown(ctx context.Context, source model.ContentRecord, _ map[string]interface{}, rc schema.ResolveContext) (*model.ContentRecord, error) {
	nodes, err := rc.Nodes.GetNodesByIds(ctx, nodestore.Selector{IDs: source.Children, Type: "MarkdownRemark"}, nodestore.Options{Path: rc.Path})
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return &nodes[0], nil
}

func TestRegistry_ClosedRejectsDeclarations(t *testing.T) {
	reg := schema.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, reg.DeclareFallbackType("ContentfulProduct"))

	_, err := reg.Close(context.Background(), newStore(t))
	require.NoError(t, err)

	require.ErrorIs(t, reg.DeclareFallbackType("MarkdownRemark"), schema.ErrRegistryClosed)
	require.ErrorIs(t, reg.CreateTypes(`type A implements Node { x: String }`), schema.ErrRegistryClosed)
	require.ErrorIs(t, reg.ExtendType("A", "b", "B", nil), schema.ErrRegistryClosed)

	_, err = reg.Close(context.Background(), newStore(t))
	require.ErrorIs(t, err, schema.ErrRegistryClosed)
}

func TestRegistry_DuplicateField(t *testing.T) {
	reg := schema.NewRegistry(zerolog.Nop(), nil)

	err := reg.DeclareFallbackType("MarkdownRemark",
		schema.FieldDeclaration{Name: "html", Type: schema.TypeRef{Name: "String"}},
		schema.FieldDeclaration{Name: "html", Type: schema.TypeRef{Name: "String"}},
	)
	require.ErrorIs(t, err, schema.ErrDuplicateField)

	require.NoError(t, reg.ExtendType("TextNode", "child", "MarkdownRemark", firstMarkdown))
	require.ErrorIs(t, reg.ExtendType("TextNode", "child", "MarkdownRemark", firstMarkdown), schema.ErrDuplicateField)
}

func TestRegistry_FailedBatchLeavesRegistryUntouched(t *testing.T) {
	reg := schema.NewRegistry(zerolog.Nop(), nil)

	err := reg.CreateTypes(`
		type A implements Node { x: String }
		type A implements Node { x: Int }
	`)
	require.ErrorIs(t, err, schema.ErrDuplicateField)

	// A was not registered by the failed call, so it can be declared now
	require.NoError(t, reg.CreateTypes(`type A implements Node { x: Int }`))
}

func TestRegistry_InvalidDeclarations(t *testing.T) {
	tests := []struct {
		name string
		run  func(*schema.Registry) error
	}{
		{"bad type name", func(r *schema.Registry) error { return r.DeclareFallbackType("my-type") }},
		{"scalar name", func(r *schema.Registry) error { return r.DeclareFallbackType("String") }},
		{"reserved name", func(r *schema.Registry) error { return r.DeclareFallbackType("Query") }},
		{"id field", func(r *schema.Registry) error {
			return r.DeclareFallbackType("A", schema.FieldDeclaration{Name: "id", Type: schema.TypeRef{Name: "ID"}})
		}},
		{"resolver on scalar", func(r *schema.Registry) error { return r.ExtendType("A", "b", "String", firstMarkdown) }},
		{"sdl syntax", func(r *schema.Registry) error { return r.CreateTypes(`type {`) }},
		{"sdl interface", func(r *schema.Registry) error { return r.CreateTypes(`type A implements Other { x: String }`) }},
		{"sdl enum", func(r *schema.Registry) error { return r.CreateTypes(`enum Color { RED }`) }},
		{"sdl nested list", func(r *schema.Registry) error { return r.CreateTypes(`type A { x: [[String]] }`) }},
		{"unknown kind", func(r *schema.Registry) error {
			return r.CreateTypeDeclarations(schema.TypeDeclaration{Name: "A"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := schema.NewRegistry(zerolog.Nop(), nil)
			err := tt.run(reg)
			require.ErrorIs(t, err, schema.ErrInvalidDeclaration)
		})
	}
}

func TestFallbackType_UsedWhenNoRecords(t *testing.T) {
	reg := schema.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, reg.CreateTypes(`
		# needed when there are no MarkdownRemark nodes
		type MarkdownRemark implements Node {
			html: String
		}
	`))

	exec := compile(t, reg, newStore(t))
	res := exec.Graphql(context.Background(), `{ allMarkdownRemark { totalCount edges { node { id html } } } }`)
	require.False(t, res.HasErrors(), "%v", res.Errors)

	conn := res.Data["allMarkdownRemark"].(map[string]interface{})
	require.Equal(t, 0, conn["totalCount"])
	require.Empty(t, conn["edges"])
}

func TestFallbackType_IgnoredWhenRecordsExist(t *testing.T) {
	reg := schema.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, reg.CreateTypes(`type MarkdownRemark implements Node { legacy: String }`))

	store := newStore(t, model.ContentRecord{ID: "m1", Type: "MarkdownRemark", Fields: map[string]interface{}{"html": "<p>x</p>"}})
	exec := compile(t, reg, store)

	res := exec.Graphql(context.Background(), `{ markdownRemark(id: "m1") { html } }`)
	require.False(t, res.HasErrors(), "%v", res.Errors)
	require.Equal(t, "<p>x</p>", res.Data["markdownRemark"].(map[string]interface{})["html"])

	res = exec.Graphql(context.Background(), `{ markdownRemark(id: "m1") { legacy } }`)
	require.True(t, res.HasErrors())
}

func TestInference(t *testing.T) {
	store := newStore(t,
		model.ContentRecord{ID: "c1", Type: "ContentfulCategory", Fields: map[string]interface{}{"title": "Chairs"}},
		model.ContentRecord{ID: "c2", Type: "ContentfulCategory", Fields: map[string]interface{}{"title": "Tables"}},
		model.ContentRecord{ID: "p1", Type: "ContentfulProduct", Fields: map[string]interface{}{
			"productName":      "Chair",
			"price":            42,
			"rating":           4.5,
			"inStock":          true,
			"tags":             []interface{}{"wood", "oak"},
			"categories___NODE": []interface{}{"c1", "c2"},
			"brand___NODE":     "missing",
			"hero-image":       "skipped",
		}},
	)
	exec := compile(t, schema.NewRegistry(zerolog.Nop(), nil), store)

	res := exec.Graphql(context.Background(), `{
		contentfulProduct(id: "p1") {
			id productName price rating inStock tags
			categories { id title }
		}
	}`)
	require.False(t, res.HasErrors(), "%v", res.Errors)

	p := res.Data["contentfulProduct"].(map[string]interface{})
	require.Equal(t, "p1", p["id"])
	require.Equal(t, "Chair", p["productName"])
	require.Equal(t, 42, p["price"])
	require.Equal(t, 4.5, p["rating"])
	require.Equal(t, true, p["inStock"])
	require.Equal(t, []interface{}{"wood", "oak"}, p["tags"])

	cats := p["categories"].([]interface{})
	require.Len(t, cats, 2)
	require.Equal(t, "Chairs", cats[0].(map[string]interface{})["title"])
	require.Equal(t, "Tables", cats[1].(map[string]interface{})["title"])

	// references without an existing target and invalid names are not inferred
	res = exec.Graphql(context.Background(), `{ contentfulProduct(id: "p1") { brand } }`)
	require.True(t, res.HasErrors())
}

func TestExtendType_ResolverChildren(t *testing.T) {
	const textType = "contentfulProductProductDescriptionTextNode"
	store := newStore(t,
		model.ContentRecord{ID: "t0", Type: textType, Fields: map[string]interface{}{"productDescription": "none"}},
		model.ContentRecord{ID: "t1", Type: textType, Children: []string{"m1"}},
		model.ContentRecord{ID: "t2", Type: textType, Children: []string{"x1", "m2", "m1"}},
		model.ContentRecord{ID: "x1", Type: "Other"},
		model.ContentRecord{ID: "m1", Type: "MarkdownRemark", Fields: map[string]interface{}{"html": "<p>one</p>"}},
		model.ContentRecord{ID: "m2", Type: "MarkdownRemark", Fields: map[string]interface{}{"html": "<p>two</p>"}},
	)

	reg := schema.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, reg.ExtendType(textType, "childMarkdownRemark", "MarkdownRemark", firstMarkdown, schema.WithInfer(false)))
	exec := compile(t, reg, store)

	tests := []struct {
		id   string
		want interface{}
	}{
		{"t0", nil},
		{"t1", "m1"},
		{"t2", "m2"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			res := exec.Graphql(context.Background(),
				`query($id: String) { contentfulProductProductDescriptionTextNode(id: $id) { childMarkdownRemark { id html } } }`,
				query.WithVariables(map[string]interface{}{"id": tt.id}),
			)
			require.False(t, res.HasErrors(), "%v", res.Errors)

			node := res.Data[textType].(map[string]interface{})
			if tt.want == nil {
				require.Nil(t, node["childMarkdownRemark"])
				return
			}
			child := node["childMarkdownRemark"].(map[string]interface{})
			require.Equal(t, tt.want, child["id"])
		})
	}

	// inference is off: the raw text field is not part of the type
	res := exec.Graphql(context.Background(), `{ contentfulProductProductDescriptionTextNode(id: "t0") { productDescription } }`)
	require.True(t, res.HasErrors())
}

func TestExtendType_TargetWithoutRecordsResolvesNull(t *testing.T) {
	store := newStore(t, model.ContentRecord{ID: "t1", Type: "TextNode", Children: []string{"m1"}})

	reg := schema.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, reg.ExtendType("TextNode", "childMarkdownRemark", "MarkdownRemark", firstMarkdown))
	exec := compile(t, reg, store)

	res := exec.Graphql(context.Background(), `{ textNode(id: "t1") { id childMarkdownRemark { id } } }`)
	require.False(t, res.HasErrors(), "%v", res.Errors)
	require.Nil(t, res.Data["textNode"].(map[string]interface{})["childMarkdownRemark"])
}

type failingStore struct {
	*nodestore.MemoryStore
}

var errStoreDown = errors.New("store down")

func (f failingStore) GetNodesByIds(context.Context, nodestore.Selector, nodestore.Options) ([]model.ContentRecord, error) {
	return nil, errStoreDown
}

func TestExtendType_LookupFailureIsQueryError(t *testing.T) {
	store := failingStore{newStore(t, model.ContentRecord{ID: "t1", Type: "TextNode", Children: []string{"m1"}})}

	reg := schema.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, reg.ExtendType("TextNode", "childMarkdownRemark", "MarkdownRemark", firstMarkdown))
	exec := compile(t, reg, store)

	res := exec.Graphql(context.Background(), `{ allTextNode { nodes { id childMarkdownRemark { id } } } }`)
	require.True(t, res.HasErrors())
	require.Contains(t, res.Errors[0].Message, "store down")
	require.NotEmpty(t, res.Errors[0].Path)
}

func TestResolveContext_CarriesPath(t *testing.T) {
	store := newStore(t, model.ContentRecord{ID: "t1", Type: "TextNode"})

	var seen string
	reg := schema.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, reg.ExtendType("TextNode", "child", "TextNode",
		func(_ context.Context, _ model.ContentRecord, _ map[string]interface{}, rc schema.ResolveContext) (*model.ContentRecord, error) {
			seen = rc.Path
			return nil, nil
		}))
	exec := compile(t, reg, store)

	res := exec.Graphql(context.Background(), `{ textNode(id: "t1") { child { id } } }`, query.WithPath("/products/p1/"))
	require.False(t, res.HasErrors(), "%v", res.Errors)
	require.Equal(t, "/products/p1/", seen)
}

func TestCollectionField_LimitAndSkip(t *testing.T) {
	var recs []model.ContentRecord
	for _, id := range []string{"a", "b", "c", "d"} {
		recs = append(recs, model.ContentRecord{ID: id, Type: "ContentfulProduct"})
	}
	exec := compile(t, schema.NewRegistry(zerolog.Nop(), nil), newStore(t, recs...))

	res := exec.Graphql(context.Background(), `{ allContentfulProduct(limit: 2, skip: 1) { totalCount nodes { id } } }`)
	require.False(t, res.HasErrors(), "%v", res.Errors)

	conn := res.Data["allContentfulProduct"].(map[string]interface{})
	require.Equal(t, 4, conn["totalCount"])
	nodes := conn["nodes"].([]interface{})
	require.Len(t, nodes, 2)
	require.Equal(t, "b", nodes[0].(map[string]interface{})["id"])
	require.Equal(t, "c", nodes[1].(map[string]interface{})["id"])
}

func TestSchema_TypesAndFieldNames(t *testing.T) {
	reg := schema.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, reg.DeclareFallbackType("MarkdownRemark", schema.FieldDeclaration{Name: "html", Type: schema.TypeRef{Name: "String"}}))

	s, err := reg.Close(context.Background(), newStore(t, model.ContentRecord{ID: "p1", Type: "ContentfulProduct"}))
	require.NoError(t, err)

	require.Equal(t, []string{"ContentfulProduct", "MarkdownRemark"}, s.Types())
	require.True(t, s.HasType("MarkdownRemark"))
	require.False(t, s.HasType("ContentfulCategory"))
	require.Equal(t, "allContentfulProduct", schema.CollectionField("ContentfulProduct"))
	require.Equal(t, "contentfulProduct", schema.SingleField("ContentfulProduct"))
	require.Equal(t, "[MarkdownRemark]!", schema.TypeRef{Name: "MarkdownRemark", List: true, NonNull: true}.String())
}

func TestFallbackType_WithoutFieldsListsNoRecords(t *testing.T) {
	reg := schema.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, reg.DeclareFallbackType("ContentfulCategory"))
	exec := compile(t, reg, newStore(t, model.ContentRecord{ID: "p1", Type: "ContentfulProduct"}))

	res := exec.Graphql(context.Background(), `{ allContentfulCategory(limit: 1000) { edges { node { id } } } }`)
	require.False(t, res.HasErrors(), "%v", res.Errors)
	require.Empty(t, res.Data["allContentfulCategory"].(map[string]interface{})["edges"])
}
