package resolver_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/resolver"
)

var allTypes = []entity.Type{
	entity.TypeFolder,
	entity.TypePolicy,
	entity.TypeEncass,
	entity.TypeClusterProperty,
}

func folder(path string) *entity.Entity {
	return &entity.Entity{Type: entity.TypeFolder, Name: entity.ExtractName(path), Path: path, ID: "f-" + path, FolderPath: entity.ParentPath(path)}
}

func policy(path string, deps ...entity.Dependency) *entity.Entity {
	return &entity.Entity{
		Type:         entity.TypePolicy,
		Name:         entity.ExtractName(path),
		Path:         path,
		ID:           "p-" + path,
		FolderPath:   entity.ParentPath(path),
		Dependencies: deps,
	}
}

func encass(name, policyPath string) *entity.Entity {
	return &entity.Entity{
		Type:         entity.TypeEncass,
		Name:         name,
		ID:           "e-" + name,
		Attributes:   map[string]any{"policy": policyPath},
		Dependencies: []entity.Dependency{{Type: entity.TypePolicy, Name: policyPath}},
	}
}

func dep(t entity.Type, name string) entity.Dependency {
	return entity.Dependency{Type: t, Name: name}
}

func shared(e *entity.Entity) *entity.Entity {
	e.Shared = true
	return e
}

func newBundle(t *testing.T, es ...*entity.Entity) *bundle.Bundle {
	t.Helper()
	b := bundle.New(entity.DefaultRegistry())
	for _, e := range es {
		if err := b.Add(e); err != nil {
			t.Fatal(err)
		}
	}
	return b
}

func keys(b *bundle.Bundle) map[entity.Type][]string {
	result := map[entity.Type][]string{}
	for _, t := range allTypes {
		if ks := b.Keys(t); len(ks) > 0 {
			result[t] = ks
		}
	}
	return result
}

// exampleBundle: a/b/p1 uses encass e1, which is backed by the shared policy
// a/p2.
func exampleBundle(t *testing.T) *bundle.Bundle {
	return newBundle(t,
		folder("a"),
		folder("a/b"),
		policy("a/b/p1", dep(entity.TypeEncass, "e1")),
		encass("e1", "a/p2"),
		shared(policy("a/p2")),
		policy("a/unrelated"),
	)
}

func TestClosure(t *testing.T) {
	cases := []struct {
		note          string
		excludeShared bool
		exp           map[entity.Type][]string
	}{
		{
			note: "shared included",
			exp: map[entity.Type][]string{
				entity.TypeFolder: {"a", "a/b"},
				entity.TypePolicy: {"a/b/p1", "a/p2"},
				entity.TypeEncass: {"e1"},
			},
		},
		{
			note:          "shared excluded",
			excludeShared: true,
			exp: map[entity.Type][]string{
				entity.TypeFolder: {"a", "a/b"},
				entity.TypePolicy: {"a/b/p1"},
				entity.TypeEncass: {"e1"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			src := exampleBundle(t)
			root, _ := src.Get(entity.TypePolicy, "a/b/p1")

			scope, err := resolver.Closure(src, root, tc.excludeShared)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.exp, keys(scope)); diff != "" {
				t.Errorf("closure (-want,+got):\n%s", diff)
			}
		})
	}
}

func TestClosureDeterministic(t *testing.T) {
	src := exampleBundle(t)
	root, _ := src.Get(entity.TypePolicy, "a/b/p1")

	first, err := resolver.Closure(src, root, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := resolver.Closure(src, root, false)
	if err != nil {
		t.Fatal(err)
	}

	for _, typ := range allTypes {
		if diff := cmp.Diff(first.Entities(typ), second.Entities(typ)); diff != "" {
			t.Errorf("%s differs between runs (-first,+second):\n%s", typ, diff)
		}
	}
}

func TestClosureDedupAndCycles(t *testing.T) {
	// diamond p1 -> {p2, p3} -> p4, plus a cycle p4 -> p1
	src := newBundle(t,
		policy("p1", dep(entity.TypePolicy, "p2"), dep(entity.TypePolicy, "p3")),
		policy("p2", dep(entity.TypePolicy, "p4")),
		policy("p3", dep(entity.TypePolicy, "p4"), dep(entity.TypeClusterProperty, "prop")),
		policy("p4", dep(entity.TypePolicy, "p1"), dep(entity.TypeClusterProperty, "prop")),
		&entity.Entity{Type: entity.TypeClusterProperty, Name: "prop"},
	)
	root, _ := src.Get(entity.TypePolicy, "p1")

	scope, err := resolver.Closure(src, root, false)
	if err != nil {
		t.Fatal(err)
	}

	exp := map[entity.Type][]string{
		entity.TypePolicy:          {"p1", "p2", "p3", "p4"},
		entity.TypeClusterProperty: {"prop"},
	}
	if diff := cmp.Diff(exp, keys(scope)); diff != "" {
		t.Errorf("closure (-want,+got):\n%s", diff)
	}
}

func TestClosureDoesNotMutateSource(t *testing.T) {
	src := exampleBundle(t)
	root, _ := src.Get(entity.TypePolicy, "a/b/p1")
	before := keys(src)

	scope, err := resolver.Closure(src, root, false)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(before, keys(src)); diff != "" {
		t.Errorf("source changed (-before,+after):\n%s", diff)
	}

	p2, _ := src.Get(entity.TypePolicy, "a/p2")
	if p2.ParentEntityShared {
		t.Error("source entity was flagged")
	}
	scoped, _ := scope.Get(entity.TypePolicy, "a/p2")
	if scoped == p2 {
		t.Error("closure holds source pointer instead of a clone")
	}
}

func TestClosureParentEntityShared(t *testing.T) {
	src := newBundle(t,
		policy("root", dep(entity.TypePolicy, "lib"), dep(entity.TypeClusterProperty, "own")),
		shared(policy("lib", dep(entity.TypePolicy, "inner"), dep(entity.TypeClusterProperty, "libprop"))),
		policy("inner"),
		&entity.Entity{Type: entity.TypeClusterProperty, Name: "own"},
		&entity.Entity{Type: entity.TypeClusterProperty, Name: "libprop"},
	)
	root, _ := src.Get(entity.TypePolicy, "root")

	scope, err := resolver.Closure(src, root, false)
	if err != nil {
		t.Fatal(err)
	}

	flags := map[string]bool{}
	for _, typ := range allTypes {
		for _, e := range scope.Entities(typ) {
			flags[e.Key()] = e.ParentEntityShared
		}
	}
	exp := map[string]bool{
		"root":    false,
		"own":     false,
		"lib":     true,
		"inner":   true,
		"libprop": true,
	}
	if diff := cmp.Diff(exp, flags); diff != "" {
		t.Errorf("flags (-want,+got):\n%s", diff)
	}
}

func TestClosureSharedRoot(t *testing.T) {
	src := newBundle(t, shared(policy("root", dep(entity.TypeClusterProperty, "p"))), shared(&entity.Entity{Type: entity.TypeClusterProperty, Name: "p"}))
	root, _ := src.Get(entity.TypePolicy, "root")

	scope, err := resolver.Closure(src, root, true)
	if err != nil {
		t.Fatal(err)
	}
	exp := map[entity.Type][]string{entity.TypePolicy: {"root"}}
	if diff := cmp.Diff(exp, keys(scope)); diff != "" {
		t.Errorf("closure (-want,+got):\n%s", diff)
	}
}

func TestClosureUnsupported(t *testing.T) {
	src := newBundle(t,
		policy("root", dep("CUSTOM_THING", "some/path/thing"), dep("CUSTOM_THING", "absent")),
		&entity.Entity{Type: "CUSTOM_THING", Name: "thing"},
		&entity.Entity{Type: "CUSTOM_THING", Name: "other"},
	)
	root, _ := src.Get(entity.TypePolicy, "root")

	scope, err := resolver.Closure(src, root, false)
	if err != nil {
		t.Fatal(err)
	}

	var act []string
	for _, e := range scope.Unsupported() {
		act = append(act, e.Name)
	}
	if diff := cmp.Diff([]string{"thing"}, act); diff != "" {
		t.Errorf("unsupported (-want,+got):\n%s", diff)
	}
}
