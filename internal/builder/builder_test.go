package builder_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/google/go-cmp/cmp"

	"github.com/apim-gateway/gwbundle/internal/builder"
	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

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

func folder(path string) *entity.Entity {
	return &entity.Entity{Type: entity.TypeFolder, Name: entity.ExtractName(path), Path: path, ID: "f-" + path, FolderPath: entity.ParentPath(path)}
}

func policy(path, content string, deps ...entity.Dependency) *entity.Entity {
	return &entity.Entity{
		Type:         entity.TypePolicy,
		Name:         entity.ExtractName(path),
		Path:         path,
		ID:           "p-" + path,
		GUID:         "g-" + path,
		FolderPath:   entity.ParentPath(path),
		Content:      content,
		Dependencies: deps,
	}
}

func encass(name, policyPath string) *entity.Entity {
	return &entity.Entity{
		Type:         entity.TypeEncass,
		Name:         name,
		ID:           "e-" + name,
		GUID:         "eg-" + name,
		Attributes:   map[string]any{"policy": policyPath},
		Dependencies: []entity.Dependency{{Type: entity.TypePolicy, Name: policyPath}},
	}
}

func property(name string) *entity.Entity {
	return &entity.Entity{Type: entity.TypeClusterProperty, Name: name, ID: "cp-" + name, Attributes: map[string]any{"value": "v"}}
}

type summary struct {
	Type   entity.Type
	Name   string
	Action gateway.MappingAction
	Props  map[string]any
}

func summarize(items []*gateway.Item) []summary {
	var result []summary
	for _, it := range items {
		result = append(result, summary{Type: it.Type, Name: it.Name, Action: it.Action, Props: it.MappingProperties})
	}
	return result
}

var failOnNew = map[string]any{gateway.MappingFailOnNew: true}

func TestBuild(t *testing.T) {
	src := func(t *testing.T) *bundle.Bundle {
		return newBundle(t,
			folder("a"),
			policy("a/p1", "", entity.Dependency{Type: entity.TypeClusterProperty, Name: "prop"}),
			encass("e1", "a/p1"),
			property("prop"),
			&entity.Entity{Type: entity.TypePrivateKey, Name: "ssl", Attributes: map[string]any{"algorithm": "RSA"}},
			&entity.Entity{Type: "CUSTOM", Name: "thing", Raw: etree.NewElement("l7:Custom")},
		)
	}

	cases := []struct {
		note  string
		scope func(b *bundle.Bundle) *builder.Scope
		opts  builder.Options
		exp   []summary
	}{
		{
			note: "deployment",
			scope: func(b *bundle.Bundle) *builder.Scope {
				return &builder.Scope{Bundle: b, Type: builder.Deployment}
			},
			exp: []summary{
				{Type: entity.TypeFolder, Name: "Root Node", Action: gateway.ActionNewOrExisting, Props: failOnNew},
				{Type: entity.TypeFolder, Name: "a", Action: gateway.ActionNewOrExisting},
				{Type: entity.TypeClusterProperty, Name: "prop", Action: gateway.ActionNewOrExisting, Props: failOnNew},
				{Type: entity.TypePolicy, Name: "p1", Action: gateway.ActionNewOrUpdate},
				{Type: entity.TypeEncass, Name: "e1", Action: gateway.ActionNewOrUpdate},
				{Type: entity.TypePrivateKey, Name: "ssl", Action: gateway.ActionNewOrExisting, Props: failOnNew},
				{Type: "CUSTOM", Name: "thing", Action: gateway.ActionNewOrUpdate},
			},
		},
		{
			note: "environment",
			scope: func(b *bundle.Bundle) *builder.Scope {
				return &builder.Scope{Bundle: b, Type: builder.Environment}
			},
			exp: []summary{
				{Type: entity.TypeClusterProperty, Name: "prop", Action: gateway.ActionNewOrUpdate},
				{Type: entity.TypePrivateKey, Name: "ssl", Action: gateway.ActionNewOrUpdate},
			},
		},
		{
			note: "annotated environment with unique names",
			scope: func(b *bundle.Bundle) *builder.Scope {
				return &builder.Scope{Bundle: b, Type: builder.Environment, Name: "my-bundle"}
			},
			exp: []summary{
				{
					Type:   entity.TypeClusterProperty,
					Name:   "my-bundle-prop",
					Action: gateway.ActionNewOrUpdate,
					Props:  map[string]any{gateway.MappingMapBy: "name", gateway.MappingMapTo: "my-bundle-prop"},
				},
				{Type: entity.TypePrivateKey, Name: "ssl", Action: gateway.ActionNewOrUpdate},
			},
		},
		{
			note: "annotated environment without unique names",
			scope: func(b *bundle.Bundle) *builder.Scope {
				return &builder.Scope{Bundle: b, Type: builder.Environment, Name: "my-bundle"}
			},
			opts: builder.Options{DisableUniqueEnvironmentNaming: true},
			exp: []summary{
				{Type: entity.TypeClusterProperty, Name: "prop", Action: gateway.ActionNewOrUpdate},
				{Type: entity.TypePrivateKey, Name: "ssl", Action: gateway.ActionNewOrUpdate},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			items, err := builder.New(entity.DefaultRegistry()).WithOptions(tc.opts).Build(tc.scope(src(t)))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.exp, summarize(items)); diff != "" {
				t.Errorf("items (-want,+got):\n%s", diff)
			}
		})
	}
}

func TestBuildersOrder(t *testing.T) {
	var act []int
	for _, eb := range builder.New(entity.DefaultRegistry()).Builders() {
		act = append(act, eb.Order())
	}
	exp := []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, entity.UnsupportedOrder}
	if diff := cmp.Diff(exp, act); diff != "" {
		t.Errorf("orders (-want,+got):\n%s", diff)
	}
}

func TestBuildDoesNotMutateScope(t *testing.T) {
	b := newBundle(t, folder("a"), policy("a/p1", `<wsp:Policy><L7p:Include><L7p:PolicyGuid policyPath="a/p2"/></L7p:Include></wsp:Policy>`), policy("a/p2", ""))
	before := b.Entities(entity.TypePolicy)[0].Clone()

	if _, err := builder.New(entity.DefaultRegistry()).Build(&builder.Scope{Bundle: b}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before.Content, b.Entities(entity.TypePolicy)[0].Content); diff != "" {
		t.Errorf("content changed (-before,+after):\n%s", diff)
	}
}

func TestPolicyReferences(t *testing.T) {
	content := `<wsp:Policy>
  <L7p:Include>
    <L7p:PolicyGuid policyPath="lib/helper"/>
  </L7p:Include>
  <L7p:Encapsulated encassName="e1"/>
</wsp:Policy>`

	b := newBundle(t,
		folder("lib"),
		policy("main", content, entity.Dependency{Type: entity.TypePolicy, Name: "lib/helper"}, entity.Dependency{Type: entity.TypeEncass, Name: "e1"}),
		policy("lib/helper", ""),
		encass("e1", "lib/helper"),
	)

	items, err := builder.New(entity.DefaultRegistry()).Build(&builder.Scope{Bundle: b})
	if err != nil {
		t.Fatal(err)
	}

	var main *gateway.Item
	for _, it := range items {
		if it.Type == entity.TypePolicy && it.Key == "main" {
			main = it
		}
	}
	if main == nil {
		t.Fatal("policy main not emitted")
	}
	if id := main.Resource.SelectElement("l7:PolicyDetail").SelectAttrValue("folderId", ""); id != builder.RootFolderID {
		t.Errorf("expected root folder id, got %q", id)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(main.Resource.FindElement("//l7:Resource").Text()); err != nil {
		t.Fatal(err)
	}
	guid := doc.FindElement("//L7p:PolicyGuid")
	if guid.SelectAttr("policyPath") != nil || guid.SelectAttrValue("stringValue", "") != "g-lib/helper" {
		t.Errorf("include not rewritten: %v", guid.Attr)
	}
	enc := doc.FindElement("//L7p:Encapsulated")
	if enc.SelectAttr("encassName") != nil {
		t.Error("encassName not removed")
	}
	if v := enc.SelectElement("L7p:EncapsulatedAssertionConfigGuid").SelectAttrValue("stringValue", ""); v != "eg-e1" {
		t.Errorf("expected encass guid eg-e1, got %q", v)
	}
	if v := enc.SelectElement("L7p:EncapsulatedAssertionConfigName").SelectAttrValue("stringValue", ""); v != "e1" {
		t.Errorf("expected encass name e1, got %q", v)
	}
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		note     string
		entities []*entity.Entity
		exp      error
		msg      string
	}{
		{
			note:     "missing include target",
			entities: []*entity.Entity{policy("p", `<wsp:Policy><L7p:PolicyGuid policyPath="nope"/></wsp:Policy>`)},
			exp:      gateway.ErrEntityNotFound,
			msg:      `POLICY "p"`,
		},
		{
			note:     "missing dependency",
			entities: []*entity.Entity{policy("p", "", entity.Dependency{Type: entity.TypeClusterProperty, Name: "gone"})},
			exp:      gateway.ErrEntityNotFound,
			msg:      `could not find CLUSTER_PROPERTY "gone"`,
		},
		{
			note:     "missing folder",
			entities: []*entity.Entity{policy("a/p", "")},
			exp:      gateway.ErrEntityNotFound,
			msg:      `could not find folder "a"`,
		},
		{
			note:     "missing backing policy",
			entities: []*entity.Entity{encass("e", "absent")},
			exp:      gateway.ErrEntityNotFound,
			msg:      `ENCAPSULATED_ASSERTION "e"`,
		},
		{
			note:     "unsupported property value",
			entities: []*entity.Entity{{Type: entity.TypeClusterProperty, Name: "x", Properties: map[string]any{"f": 1.5}}},
			exp:      gateway.ErrUnsupportedValue,
			msg:      "float64",
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			_, err := builder.New(entity.DefaultRegistry()).Build(&builder.Scope{Bundle: newBundle(t, tc.entities...)})
			if !errors.Is(err, tc.exp) {
				t.Fatalf("expected %v, got %v", tc.exp, err)
			}
			var be *gateway.BuildError
			if !errors.As(err, &be) {
				t.Fatalf("expected BuildError, got %T", err)
			}
			if !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("expected %q in %q", tc.msg, err.Error())
			}
		})
	}
}

func TestResolveThroughDependencyBundles(t *testing.T) {
	dep := newBundle(t, property("shared-prop"))
	b := newBundle(t, policy("p", "", entity.Dependency{Type: entity.TypeClusterProperty, Name: "shared-prop"}))
	b.AddDependency(dep)

	items, err := builder.New(entity.DefaultRegistry()).Build(&builder.Scope{Bundle: b})
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if it.Type == entity.TypeClusterProperty {
			t.Errorf("dependency bundle entity emitted: %s", it.Name)
		}
	}

	b.AddDependency(newBundle(t, property("shared-prop")))
	_, err = builder.New(entity.DefaultRegistry()).Build(&builder.Scope{Bundle: b})
	if !errors.Is(err, gateway.ErrAmbiguousReference) {
		t.Fatalf("expected ErrAmbiguousReference, got %v", err)
	}
}

func TestPrivateKeyID(t *testing.T) {
	if id := builder.PrivateKeyID("", "ssl"); id != builder.DefaultKeystoreID+":ssl" {
		t.Errorf("unexpected id %q", id)
	}
	if id := builder.PrivateKeyID("ks", "ssl"); id != "ks:ssl" {
		t.Errorf("unexpected id %q", id)
	}
}

func TestParseBundleType(t *testing.T) {
	for _, tc := range []struct {
		in  string
		exp builder.BundleType
	}{
		{"deployment", builder.Deployment},
		{"ENVIRONMENT", builder.Environment},
	} {
		act, err := builder.ParseBundleType(tc.in)
		if err != nil {
			t.Fatal(err)
		}
		if act != tc.exp || act.String() != strings.ToLower(tc.in) {
			t.Errorf("%s: got %v", tc.in, act)
		}
	}
	if _, err := builder.ParseBundleType("other"); err == nil {
		t.Error("expected error")
	}
}
