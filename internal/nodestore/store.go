// Package nodestore defines the content node store and its implementations.
//
// The store is filled once per generation run by a content source and is read
// by the schema compiler (to infer types) and by field resolvers (to follow
// child and reference ids). Nothing in the page generation path mutates it.
package nodestore

import (
	"context"
	"errors"

	"github.com/Bitlatte/contentpages/internal/model"
)

// ErrDuplicateNode is returned by CreateNode when the id is already taken.
var ErrDuplicateNode = errors.New("node already exists")

// Selector picks records by id, restricted to one type when Type is set.
type Selector struct {
	IDs  []string
	Type string
}

// Options carries request-scoped data for a lookup. Path is the page path the
// lookup is made for; stores may use it for bookkeeping but never for matching.
type Options struct {
	Path string
}

// Reader is the read side used by resolvers and the schema compiler.
type Reader interface {
	// GetNodesByIds returns the records matching the selector. An empty
	// result is not an error.
	GetNodesByIds(ctx context.Context, sel Selector, opts Options) ([]model.ContentRecord, error)

	// GetNode returns a single record and whether it exists.
	GetNode(ctx context.Context, id string) (model.ContentRecord, bool, error)

	// GetAllNodes returns every record of a type in insertion order.
	GetAllNodes(ctx context.Context, nodeType string) ([]model.ContentRecord, error)

	// Types returns the distinct record types, sorted.
	Types(ctx context.Context) ([]string, error)
}

// Store is a Reader that content sources can write to.
type Store interface {
	Reader

	// CreateNode adds a record. Ids are unique across all types.
	CreateNode(ctx context.Context, rec model.ContentRecord) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}
