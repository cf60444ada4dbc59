package entity

import (
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/beevik/etree"
)

// Dependency is a reference from one entity to another by type and name. For
// path-keyed types the name may be a full path.
type Dependency struct {
	Type Type   `json:"type"`
	Name string `json:"name"`
}

// BundleAnnotation marks an entity as the root of its own deployable bundle.
type BundleAnnotation struct {
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type Annotations struct {
	Bundle       *BundleAnnotation `json:"bundle,omitempty"`
	Shared       bool              `json:"shared,omitempty"`
	Redeployable bool              `json:"redeployable,omitempty"`
}

// Entity is a single gateway configuration entity.
type Entity struct {
	Type Type
	Name string
	Path string // set for path-keyed kinds only
	ID   string
	GUID string

	// FolderPath is the path of the parent folder, empty for the root folder.
	FolderPath string

	Properties   map[string]any
	Attributes   map[string]any
	Content      string // policy XML for policies and services
	Dependencies []Dependency

	Annotations

	// ParentEntityShared is set during resolution when the entity or any
	// entity that required it is shared.
	ParentEntityShared bool

	// Raw holds the resource element of an entity whose type is not
	// registered. It is emitted unchanged.
	Raw *etree.Element
}

// Key returns the identity of the entity within its type: the path for
// path-keyed kinds and the name otherwise.
func (e *Entity) Key() string {
	if e.Path != "" {
		return e.Path
	}
	return e.Name
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Properties = cloneMap(e.Properties)
	c.Attributes = cloneMap(e.Attributes)
	c.Dependencies = slices.Clone(e.Dependencies)
	if e.Bundle != nil {
		b := *e.Bundle
		b.Tags = slices.Clone(e.Bundle.Tags)
		c.Bundle = &b
	}
	if e.Raw != nil {
		c.Raw = e.Raw.Copy()
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		c := make([]any, len(v))
		for i := range v {
			c[i] = cloneValue(v[i])
		}
		return c
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}

// ExtractName returns the last segment of a slash separated path.
func ExtractName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ParentPath returns the folder path containing p, or "" when p is at the root.
func ParentPath(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// SortedKeys returns the keys of m in lexicographic order.
func SortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
