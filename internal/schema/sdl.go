package schema

import (
	"fmt"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// parseSDL turns a type-language document into fallback declarations.
// Only object type definitions are accepted, and the only interface a type
// may implement is Node, which every content type implements anyway.
func parseSDL(sdl string) ([]TypeDeclaration, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: sdl})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeclaration, err)
	}

	decls := make([]TypeDeclaration, 0, len(doc.Definitions))
	for _, def := range doc.Definitions {
		obj, ok := def.(*ast.ObjectDefinition)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported definition %s", ErrInvalidDeclaration, def.GetKind())
		}

		name := obj.Name.Value
		for _, iface := range obj.Interfaces {
			if iface.Name.Value != "Node" {
				return nil, fmt.Errorf("%w: %s implements unknown interface %s", ErrInvalidDeclaration, name, iface.Name.Value)
			}
		}

		decl := TypeDeclaration{Name: name, Kind: KindFallback}
		for _, f := range obj.Fields {
			// id comes from Node
			if f.Name.Value == "id" {
				continue
			}
			ref, err := typeRefFromAST(f.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, f.Name.Value, err)
			}
			decl.Fields = append(decl.Fields, FieldDeclaration{Name: f.Name.Value, Type: ref})
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// typeRefFromAST supports Named, [Named], Named!, [Named]! and the non-null
// element variants; element nullability is not tracked.
func typeRefFromAST(t ast.Type) (TypeRef, error) {
	var ref TypeRef
	if nn, ok := t.(*ast.NonNull); ok {
		ref.NonNull = true
		t = nn.Type
	}
	if l, ok := t.(*ast.List); ok {
		ref.List = true
		t = l.Type
		if nn, ok := t.(*ast.NonNull); ok {
			t = nn.Type
		}
	}
	named, ok := t.(*ast.Named)
	if !ok {
		return TypeRef{}, fmt.Errorf("%w: nested list types are not supported", ErrInvalidDeclaration)
	}
	ref.Name = named.Name.Value
	return ref, nil
}
