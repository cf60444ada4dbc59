// Package bundle implements the in-memory entity graph that gateway bundles
// are assembled from.
package bundle

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

var ErrDuplicateEntity = errors.New("duplicate entity")

type entityMap map[entity.Type]map[string]*entity.Entity

func (m entityMap) get(t entity.Type, key string) (*entity.Entity, bool) {
	e, ok := m[t][key]
	return e, ok
}

func (m entityMap) put(e *entity.Entity) {
	if m[e.Type] == nil {
		m[e.Type] = make(map[string]*entity.Entity)
	}
	m[e.Type][e.Key()] = e
}

// Bundle is a collection of entities keyed by type and key. Besides the
// entities themselves it carries side tables for unsupported and missing
// entities, the private key material referenced by key entries, and the
// dependency bundles consulted when a reference cannot be satisfied locally.
type Bundle struct {
	registry     *entity.Registry
	entities     entityMap
	unsupported  entityMap
	missing      entityMap
	privateKeys  map[string][]byte
	dependencies []*Bundle
}

func New(registry *entity.Registry) *Bundle {
	return &Bundle{
		registry:    registry,
		entities:    make(entityMap),
		unsupported: make(entityMap),
		missing:     make(entityMap),
		privateKeys: make(map[string][]byte),
	}
}

// NewScoped returns an empty bundle for a single scope. It shares the missing
// entity table, the private key files and the dependency bundles of b, which
// are read-only once loading is complete.
func (b *Bundle) NewScoped() *Bundle {
	return &Bundle{
		registry:     b.registry,
		entities:     make(entityMap),
		unsupported:  make(entityMap),
		missing:      b.missing,
		privateKeys:  b.privateKeys,
		dependencies: b.dependencies,
	}
}

func (b *Bundle) Registry() *entity.Registry {
	return b.registry
}

// Add inserts e. Entities of unregistered types go to the unsupported table.
// Adding a second entity with the same type and key is an error.
func (b *Bundle) Add(e *entity.Entity) error {
	if !b.registry.Registered(e.Type) {
		return b.AddUnsupported(e)
	}
	if _, ok := b.entities.get(e.Type, e.Key()); ok {
		return fmt.Errorf("%s %q: %w", e.Type, e.Key(), ErrDuplicateEntity)
	}
	b.entities.put(e)
	return nil
}

func (b *Bundle) AddUnsupported(e *entity.Entity) error {
	if _, ok := b.unsupported.get(e.Type, e.Key()); ok {
		return fmt.Errorf("%s %q: %w", e.Type, e.Key(), ErrDuplicateEntity)
	}
	b.unsupported.put(e)
	return nil
}

// AddMissing records an entity that is referenced but was excluded from the
// export. References to it resolve without it being emitted.
func (b *Bundle) AddMissing(e *entity.Entity) {
	b.missing.put(e)
}

func (b *Bundle) AddPrivateKeyFile(name string, data []byte) {
	b.privateKeys[name] = data
}

func (b *Bundle) PrivateKeyFile(name string) ([]byte, bool) {
	data, ok := b.privateKeys[name]
	return data, ok
}

func (b *Bundle) AddDependency(d *Bundle) {
	b.dependencies = append(b.dependencies, d)
}

func (b *Bundle) Dependencies() []*Bundle {
	return b.dependencies
}

func (b *Bundle) Get(t entity.Type, key string) (*entity.Entity, bool) {
	return b.entities.get(t, key)
}

func (b *Bundle) Has(t entity.Type, key string) bool {
	_, ok := b.entities.get(t, key)
	return ok
}

// Keys returns the keys of all entities of type t in sorted order.
func (b *Bundle) Keys(t entity.Type) []string {
	return entity.SortedKeys(b.entities[t])
}

// Entities returns all entities of type t sorted by key.
func (b *Bundle) Entities(t entity.Type) []*entity.Entity {
	keys := b.Keys(t)
	result := make([]*entity.Entity, len(keys))
	for i, k := range keys {
		result[i] = b.entities[t][k]
	}
	return result
}

// Unsupported returns the unsupported entities sorted by type and key.
func (b *Bundle) Unsupported() []*entity.Entity {
	var result []*entity.Entity
	types := make([]string, 0, len(b.unsupported))
	for t := range b.unsupported {
		types = append(types, string(t))
	}
	slices.Sort(types)
	for _, t := range types {
		m := b.unsupported[entity.Type(t)]
		for _, k := range entity.SortedKeys(m) {
			result = append(result, m[k])
		}
	}
	return result
}

func (b *Bundle) UnsupportedEntity(t entity.Type, name string) (*entity.Entity, bool) {
	return b.unsupported.get(t, name)
}

// Len returns the number of registered entities in the bundle.
func (b *Bundle) Len() int {
	n := 0
	for _, m := range b.entities {
		n += len(m)
	}
	return n
}

// Find looks up an entity of type t by reference. For path-keyed types the
// reference is matched against the path first and then against the name;
// when several entities share that name the one with the smallest path wins.
// Other types are matched by key and then by the name extracted from a path.
func (b *Bundle) Find(t entity.Type, ref string) (*entity.Entity, bool) {
	return find(b.entities[t], b.registry.PathKeyed(t), ref)
}

// FindPolicy looks up a policy by path or name.
func (b *Bundle) FindPolicy(ref string) (*entity.Entity, bool) {
	return b.Find(entity.TypePolicy, ref)
}

func find(m map[string]*entity.Entity, pathKeyed bool, ref string) (*entity.Entity, bool) {
	if e, ok := m[ref]; ok {
		return e, true
	}
	if !pathKeyed {
		e, ok := m[entity.ExtractName(ref)]
		return e, ok
	}
	if strings.Contains(ref, "/") {
		return nil, false
	}
	for _, k := range entity.SortedKeys(m) {
		if m[k].Name == ref {
			return m[k], true
		}
	}
	return nil, false
}

// Resolve resolves a dependency visible from b: entities in b first, then
// the missing entity table, then the dependency bundles. A dependency found
// in more than one dependency bundle is ambiguous. Dependencies of
// unregistered types are not resolved and yield a nil entity without error.
func (b *Bundle) Resolve(dep entity.Dependency) (*entity.Entity, error) {
	if !b.registry.Registered(dep.Type) {
		e, _ := b.unsupported.get(dep.Type, entity.ExtractName(dep.Name))
		return e, nil
	}
	if e, ok := b.Find(dep.Type, dep.Name); ok {
		return e, nil
	}
	if e, ok := find(b.missing[dep.Type], b.registry.PathKeyed(dep.Type), dep.Name); ok {
		return e, nil
	}

	var found []*entity.Entity
	for _, d := range b.dependencies {
		if e, ok := d.Find(dep.Type, dep.Name); ok {
			found = append(found, e)
		}
	}
	switch len(found) {
	case 0:
		return nil, gateway.NewBuildError(gateway.ErrEntityNotFound, "could not find %s %q", dep.Type, dep.Name)
	case 1:
		return found[0], nil
	default:
		return nil, gateway.NewBuildError(gateway.ErrAmbiguousReference, "found %s %q in %d dependency bundles", dep.Type, dep.Name, len(found))
	}
}
