package builder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

// BundleType selects which entities a build emits.
type BundleType int

const (
	// Deployment bundles carry every entity. Environment entities are only
	// referenced and must already exist on the target.
	Deployment BundleType = iota
	// Environment bundles carry environment entities only.
	Environment
)

var BundleTypeNames = map[BundleType][]string{
	Deployment:  {"deployment"},
	Environment: {"environment"},
}

func (t BundleType) String() string {
	if names, ok := BundleTypeNames[t]; ok {
		return names[0]
	}
	return fmt.Sprintf("BundleType(%d)", int(t))
}

func ParseBundleType(s string) (BundleType, error) {
	for t, names := range BundleTypeNames {
		if slices.Contains(names, strings.ToLower(s)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown bundle type %q", s)
}

// RootFolderID is the id of the gateway's root folder.
const RootFolderID = "0000000000000000ffffffffffffec76"

// Options configures how entities are rendered.
type Options struct {
	// DisableUniqueEnvironmentNaming keeps the original names of environment
	// entities in annotated bundles instead of prefixing the bundle name.
	DisableUniqueEnvironmentNaming bool
}

// Scope is the input of one build: the bundle to render and the mode.
type Scope struct {
	Bundle *bundle.Bundle
	Type   BundleType

	// Name is the artifact name of an annotated scope, empty for the whole
	// project.
	Name string
}

func (s *Scope) Annotated() bool {
	return s.Name != ""
}

// EntityBuilder renders the entities of one kind. Implementations read the
// scope and never modify it.
type EntityBuilder interface {
	Order() int
	Build(s *Scope) ([]*gateway.Item, error)
}

type Builder struct {
	kinds *entity.Registry
	opts  Options
}

func New(kinds *entity.Registry) *Builder {
	return &Builder{kinds: kinds}
}

func (b *Builder) WithOptions(opts Options) *Builder {
	b.opts = opts
	return b
}

// Builders returns the entity builders in the order they are consulted.
func (b *Builder) Builders() []EntityBuilder {
	var result []EntityBuilder
	for k := range b.kinds.Sorted() {
		result = append(result, b.builderFor(k))
	}
	result = append(result, unsupportedBuilder{})
	slices.SortStableFunc(result, func(x, y EntityBuilder) int {
		return x.Order() - y.Order()
	})
	return result
}

func (b *Builder) builderFor(k *entity.Kind) EntityBuilder {
	switch k.Type {
	case entity.TypeFolder:
		return &folderBuilder{kind: k}
	case entity.TypePolicy:
		return &policyBuilder{kind: k}
	case entity.TypeService:
		return &serviceBuilder{kind: k}
	case entity.TypeEncass:
		return &encassBuilder{kind: k}
	case entity.TypePrivateKey:
		return &privateKeyBuilder{kind: k}
	default:
		return &genericBuilder{kind: k, opts: b.opts}
	}
}

// Build runs every entity builder over the scope and returns the items in
// emission order.
func (b *Builder) Build(s *Scope) ([]*gateway.Item, error) {
	var items []*gateway.Item
	for _, eb := range b.Builders() {
		result, err := eb.Build(s)
		if err != nil {
			return nil, err
		}
		items = append(items, result...)
	}
	return items, nil
}

// mapping returns the mapping action and properties for an entity of kind k,
// and whether the entity is emitted at all in this scope.
func mapping(s *Scope, k *entity.Kind) (gateway.MappingAction, map[string]any, bool) {
	switch {
	case s.Type == Environment && !k.Environment:
		return "", nil, false
	case s.Type == Environment:
		return gateway.ActionNewOrUpdate, nil, true
	case k.Environment:
		return gateway.ActionNewOrExisting, map[string]any{gateway.MappingFailOnNew: true}, true
	default:
		return gateway.ActionNewOrUpdate, nil, true
	}
}

func entityError(e *entity.Entity, err error) error {
	return gateway.NewBuildError(err, "%s %q", e.Type, e.Key())
}

// folderID returns the id of the folder at path in the scope.
func folderID(s *Scope, path string) (string, error) {
	if path == "" {
		return RootFolderID, nil
	}
	if f, ok := s.Bundle.Get(entity.TypeFolder, path); ok {
		return f.ID, nil
	}
	return "", gateway.NewBuildError(gateway.ErrEntityNotFound, "could not find folder %q", path)
}
