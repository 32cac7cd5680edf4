package schema

import (
	"context"
	"fmt"
	"sort"

	"github.com/Bitlatte/contentpages/internal/model"
)

type fieldSource int

const (
	sourceValue fieldSource = iota
	sourceReference
	sourceResolver
)

// fieldDef is a field of the compiled schema.
type fieldDef struct {
	name    string
	ref     TypeRef
	source  fieldSource
	key     string // record field read by value and reference fields
	resolve NodeResolver
}

// inferFields derives the fields of nodeType from the records in the store.
// Field names are sorted; the first non-empty value of a field decides its
// type. Reference fields (key___NODE) take the type of the first record they
// point at and are dropped when none of their targets exist.
func (c *compiler) inferFields(ctx context.Context, nodeType string) ([]fieldDef, error) {
	records, err := c.store.GetAllNodes(ctx, nodeType)
	if err != nil {
		return nil, fmt.Errorf("load %s records: %w", nodeType, err)
	}

	keys := map[string]struct{}{}
	for _, rec := range records {
		for k := range rec.Fields {
			keys[k] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var fields []fieldDef
	for _, key := range sorted {
		if name, ok := model.IsRefField(key); ok {
			f, found, err := c.inferReference(ctx, records, key, name)
			if err != nil {
				return nil, err
			}
			if found {
				fields = append(fields, f)
			}
			continue
		}

		if key == "id" || !validName(key) {
			c.logger.Debug().Str("type", nodeType).Str("field", key).Msg("field skipped during inference")
			continue
		}

		ref, ok := inferValueType(records, key)
		if !ok {
			continue
		}
		fields = append(fields, fieldDef{name: key, ref: ref, source: sourceValue, key: key})
	}
	return fields, nil
}

func (c *compiler) inferReference(ctx context.Context, records []model.ContentRecord, key, name string) (fieldDef, bool, error) {
	if !validName(name) || name == "id" {
		return fieldDef{}, false, nil
	}

	list := false
	for _, rec := range records {
		v, ok := rec.Field(key)
		if !ok || v == nil {
			continue
		}
		ids := refIDs(v)
		if _, single := v.(string); !single {
			list = true
		}
		for _, id := range ids {
			target, found, err := c.store.GetNode(ctx, id)
			if err != nil {
				return fieldDef{}, false, fmt.Errorf("resolve reference %s: %w", key, err)
			}
			if found && validName(target.Type) && !isReserved(target.Type) && !isScalar(target.Type) {
				return fieldDef{
					name:   name,
					ref:    TypeRef{Name: target.Type, List: list},
					source: sourceReference,
					key:    key,
				}, true, nil
			}
		}
	}
	return fieldDef{}, false, nil
}

// refIDs reads a reference value: one id or a list of ids.
func refIDs(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []interface{}:
		ids := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		return nil
	}
}

func inferValueType(records []model.ContentRecord, key string) (TypeRef, bool) {
	for _, rec := range records {
		v, ok := rec.Field(key)
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case []interface{}:
			for _, e := range t {
				if name, ok := scalarOf(e); ok {
					return TypeRef{Name: name, List: true}, true
				}
			}
		case []string:
			if len(t) > 0 {
				return TypeRef{Name: "String", List: true}, true
			}
		default:
			if name, ok := scalarOf(v); ok {
				return TypeRef{Name: name}, true
			}
		}
	}
	return TypeRef{}, false
}

func scalarOf(v interface{}) (string, bool) {
	switch v.(type) {
	case string:
		return "String", true
	case bool:
		return "Boolean", true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return "Int", true
	case float32, float64:
		return "Float", true
	default:
		return "", false
	}
}
