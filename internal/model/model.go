package model

import "strings"

// RefSuffix marks a field whose value is the id (or ids) of other records.
const RefSuffix = "___NODE"

// ContentRecord is a single node of the content store (an entry, a text node,
// a rendered Markdown node...). Records are created by a content source and
// only ever read afterwards.
type ContentRecord struct {
	ID       string
	Type     string
	Parent   string
	Children []string
	Fields   map[string]interface{}
}

// Field returns the raw value of a field and whether it was set.
func (r ContentRecord) Field(name string) (interface{}, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// IsRefField reports whether key names a reference field and returns the
// field name without the reference suffix.
func IsRefField(key string) (string, bool) {
	if !strings.HasSuffix(key, RefSuffix) || key == RefSuffix {
		return "", false
	}
	return strings.TrimSuffix(key, RefSuffix), true
}

// RouteDescriptor describes one page to materialize.
type RouteDescriptor struct {
	Path     string                 `yaml:"path" json:"path"`
	Template string                 `yaml:"template" json:"template"`
	Context  map[string]interface{} `yaml:"context" json:"context"`
}
