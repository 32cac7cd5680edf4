package schema

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/Bitlatte/contentpages/internal/model"
	"github.com/Bitlatte/contentpages/internal/nodestore"
)

var (
	// ErrRegistryClosed is returned for any declaration made after Close.
	ErrRegistryClosed = errors.New("schema registry is closed")
	// ErrDuplicateField is returned when a type declares a field name twice.
	ErrDuplicateField = errors.New("duplicate field")
	// ErrInvalidDeclaration is returned for malformed names, types or documents.
	ErrInvalidDeclaration = errors.New("invalid type declaration")
)

// DeclarationKind is the closed set of type declarations the registry accepts.
type DeclarationKind int

const (
	// KindFallback declares a shape that is only used when the store holds no
	// record of the type, so queries against it stay valid on empty content.
	KindFallback DeclarationKind = iota + 1
	// KindExtension attaches explicit (optionally resolved) fields to a type.
	KindExtension
)

func (k DeclarationKind) String() string {
	switch k {
	case KindFallback:
		return "fallback"
	case KindExtension:
		return "extension"
	default:
		return fmt.Sprintf("DeclarationKind(%d)", int(k))
	}
}

// TypeRef names the type of a field: a scalar (String, Int, Float, Boolean,
// ID) or a node type, optionally as a list and/or non-null.
type TypeRef struct {
	Name    string
	List    bool
	NonNull bool
}

func (r TypeRef) String() string {
	s := r.Name
	if r.List {
		s = "[" + s + "]"
	}
	if r.NonNull {
		s += "!"
	}
	return s
}

// ResolveContext is handed to every resolver call. Path is the page path
// the query runs for (empty outside page queries).
type ResolveContext struct {
	Nodes nodestore.Reader
	Path  string
}

// NodeResolver computes a field holding a single record. A nil record
// resolves to null. Errors surface as query errors on the field.
type NodeResolver func(ctx context.Context, source model.ContentRecord, args map[string]interface{}, rc ResolveContext) (*model.ContentRecord, error)

// FieldDeclaration is one explicit field of a TypeDeclaration. Fields
// without a resolver read the record field of the same name.
type FieldDeclaration struct {
	Name    string
	Type    TypeRef
	Resolve NodeResolver
}

// TypeDeclaration is a type contributed before the schema is compiled.
// Infer is only meaningful for KindExtension: false limits the type to its
// explicit fields.
type TypeDeclaration struct {
	Name   string
	Kind   DeclarationKind
	Fields []FieldDeclaration
	Infer  bool
}

var nameRE = regexp.MustCompile(`^[_a-zA-Z][_a-zA-Z0-9]*$`)

func validName(name string) bool {
	return nameRE.MatchString(name) && len(name) < 128
}

func isReserved(name string) bool {
	return name == "Query" || name == "Node"
}

func (d TypeDeclaration) validate() error {
	if !validName(d.Name) {
		return fmt.Errorf("%w: type name %q", ErrInvalidDeclaration, d.Name)
	}
	if isScalar(d.Name) || isReserved(d.Name) {
		return fmt.Errorf("%w: %q is a built-in type", ErrInvalidDeclaration, d.Name)
	}
	if d.Kind != KindFallback && d.Kind != KindExtension {
		return fmt.Errorf("%w: type %s has unknown kind %v", ErrInvalidDeclaration, d.Name, d.Kind)
	}

	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if !validName(f.Name) {
			return fmt.Errorf("%w: field name %q on %s", ErrInvalidDeclaration, f.Name, d.Name)
		}
		if f.Name == "id" {
			return fmt.Errorf("%w: field id on %s is reserved", ErrInvalidDeclaration, d.Name)
		}
		if !validName(f.Type.Name) || isReserved(f.Type.Name) {
			return fmt.Errorf("%w: field %s.%s has type %q", ErrInvalidDeclaration, d.Name, f.Name, f.Type.Name)
		}
		if f.Resolve != nil && (f.Type.List || isScalar(f.Type.Name)) {
			return fmt.Errorf("%w: resolved field %s.%s must target a single node type", ErrInvalidDeclaration, d.Name, f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%s.%s: %w", d.Name, f.Name, ErrDuplicateField)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// ExtendOption tunes ExtendType.
type ExtendOption func(*extendOptions)

type extendOptions struct {
	infer bool
}

// WithInfer switches shape inference for the extended type on or off.
// Inference is on by default.
func WithInfer(infer bool) ExtendOption {
	return func(o *extendOptions) { o.infer = infer }
}

type requestPathKey struct{}

// WithRequestPath attaches the page path of a query to ctx so resolvers can
// pass it on to the node store.
func WithRequestPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, requestPathKey{}, path)
}

// RequestPath returns the page path attached by WithRequestPath, if any.
func RequestPath(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	path, _ := ctx.Value(requestPathKey{}).(string)
	return path
}
