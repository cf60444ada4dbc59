package gateway_test

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/google/go-cmp/cmp"

	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

func TestBuildBundle(t *testing.T) {
	folder := etree.NewElement("l7:Folder")
	folder.CreateAttr("id", "f1")

	items := []*gateway.Item{
		{Type: entity.TypeFolder, ID: "f1", Name: "a", Resource: folder, Action: gateway.ActionNewOrExisting},
		{Type: entity.TypeClusterProperty, ID: "c1", Name: "prop", Action: gateway.ActionNewOrExisting, MappingProperties: map[string]any{gateway.MappingFailOnNew: true}},
		{Type: entity.TypePolicy, ID: "p1", Name: "p1", Action: gateway.ActionNewOrUpdate},
	}

	root, err := gateway.BuildBundle(items)
	if err != nil {
		t.Fatal(err)
	}

	if root.FullTag() != gateway.ElemBundle {
		t.Fatalf("unexpected root %s", root.FullTag())
	}
	if ns := root.SelectAttrValue("xmlns:l7", ""); ns != gateway.Namespace {
		t.Fatalf("unexpected namespace %q", ns)
	}

	var ids []string
	for _, item := range root.SelectElement(gateway.ElemReferences).SelectElements(gateway.ElemItem) {
		ids = append(ids, gateway.ChildText(item, gateway.ElemID))
	}
	if diff := cmp.Diff([]string{"f1", "c1", "p1"}, ids); diff != "" {
		t.Errorf("references (-want,+got):\n%s", diff)
	}

	type mapping struct{ action, srcID, typ string }
	var mappings []mapping
	for _, m := range root.SelectElement(gateway.ElemMappings).SelectElements(gateway.ElemMapping) {
		mappings = append(mappings, mapping{
			action: m.SelectAttrValue(gateway.AttrAction, ""),
			srcID:  m.SelectAttrValue(gateway.AttrSrcID, ""),
			typ:    m.SelectAttrValue(gateway.AttrType, ""),
		})
	}
	exp := []mapping{
		{"NewOrExisting", "f1", "FOLDER"},
		{"NewOrExisting", "c1", "CLUSTER_PROPERTY"},
		{"NewOrUpdate", "p1", "POLICY"},
	}
	if diff := cmp.Diff(exp, mappings, cmp.AllowUnexported(mapping{})); diff != "" {
		t.Errorf("mappings (-want,+got):\n%s", diff)
	}

	props, err := gateway.DecodeProperties(root.SelectElement(gateway.ElemMappings).SelectElements(gateway.ElemMapping)[1].SelectElement(gateway.ElemProperties))
	if err != nil {
		t.Fatal(err)
	}
	if props[gateway.MappingFailOnNew] != true {
		t.Errorf("expected FailOnNew mapping property, got %v", props)
	}

	// building must not steal the resource from the item
	if folder.Parent() != nil {
		t.Error("resource element was reparented")
	}
}

func TestItemCopy(t *testing.T) {
	res := etree.NewElement("l7:Policy")
	item := &gateway.Item{
		Type:              entity.TypePolicy,
		Resource:          res,
		Action:            gateway.ActionNewOrUpdate,
		MappingProperties: map[string]any{"a": "b"},
	}

	c := item.Copy()
	c.Action = gateway.ActionDelete
	c.MappingProperties["a"] = "c"
	c.Resource.CreateAttr("id", "x")

	if item.Action != gateway.ActionNewOrUpdate || item.MappingProperties["a"] != "b" || res.SelectAttr("id") != nil {
		t.Fatal("copy shares state with original")
	}
}

func TestItemReference(t *testing.T) {
	cases := []struct {
		note string
		item gateway.Item
		exp  bool
	}{
		{note: "fail on new", item: gateway.Item{Action: gateway.ActionNewOrExisting, MappingProperties: map[string]any{gateway.MappingFailOnNew: true}}, exp: true},
		{note: "new or existing", item: gateway.Item{Action: gateway.ActionNewOrExisting}},
		{note: "update", item: gateway.Item{Action: gateway.ActionNewOrUpdate, MappingProperties: map[string]any{gateway.MappingFailOnNew: true}}},
	}
	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			if act := tc.item.Reference(); act != tc.exp {
				t.Errorf("expected %v, got %v", tc.exp, act)
			}
		})
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	root, err := gateway.BuildBundle([]*gateway.Item{{Type: entity.TypePolicy, ID: "p1", Name: "p & q", Action: gateway.ActionNewOrUpdate}})
	if err != nil {
		t.Fatal(err)
	}

	bs, err := gateway.Marshal(root)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := gateway.Unmarshal(bs)
	if err != nil {
		t.Fatal(err)
	}
	item := parsed.SelectElement(gateway.ElemReferences).SelectElement(gateway.ElemItem)
	if act := gateway.ChildText(item, gateway.ElemName); act != "p & q" {
		t.Errorf("unexpected name %q", act)
	}

	if _, err := gateway.Unmarshal([]byte("")); err == nil {
		t.Error("expected error for empty document")
	}
}
