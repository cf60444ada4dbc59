// Package gateway holds the wire vocabulary of gateway bundles: element names,
// mapping actions, the typed property codec and the bundle document itself.
package gateway

import (
	"maps"

	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/entity"
)

const Namespace = "http://ns.l7tech.com/2010/04/gateway-management"

const (
	ElemBundle       = "l7:Bundle"
	ElemReferences   = "l7:References"
	ElemItem         = "l7:Item"
	ElemName         = "l7:Name"
	ElemID           = "l7:Id"
	ElemType         = "l7:Type"
	ElemResource     = "l7:Resource"
	ElemMappings     = "l7:Mappings"
	ElemMapping      = "l7:Mapping"
	ElemProperties   = "l7:Properties"
	ElemProperty     = "l7:Property"
	ElemStringValue  = "l7:StringValue"
	ElemIntegerValue = "l7:IntegerValue"
	ElemLongValue    = "l7:LongValue"
	ElemBooleanValue = "l7:BooleanValue"

	AttrAction   = "action"
	AttrSrcID    = "srcId"
	AttrType     = "type"
	AttrKey      = "key"
	AttrID       = "id"
	AttrFolderID = "folderId"
	AttrGUID     = "guid"
)

// MappingAction tells the gateway how to apply an item.
type MappingAction string

const (
	ActionNewOrExisting   MappingAction = "NewOrExisting"
	ActionNewOrUpdate     MappingAction = "NewOrUpdate"
	ActionAlwaysCreateNew MappingAction = "AlwaysCreateNew"
	ActionDelete          MappingAction = "Delete"
	ActionIgnore          MappingAction = "Ignore"
)

const (
	MappingFailOnNew = "FailOnNew"
	MappingMapBy     = "MapBy"
	MappingMapTo     = "MapTo"
)

// Item is one entity rendered for the wire, together with its mapping.
type Item struct {
	Type entity.Type
	ID   string
	Name string

	// Key is the key of the source entity. It survives renaming and is used
	// to match items against a resolved closure.
	Key string

	Resource          *etree.Element
	Action            MappingAction
	MappingProperties map[string]any
}

// Reference reports whether the item only points at an entity that must
// already exist on the target.
func (i *Item) Reference() bool {
	failOnNew, _ := i.MappingProperties[MappingFailOnNew].(bool)
	return i.Action == ActionNewOrExisting && failOnNew
}

// Copy returns a deep copy of the item.
func (i *Item) Copy() *Item {
	c := *i
	if i.Resource != nil {
		c.Resource = i.Resource.Copy()
	}
	c.MappingProperties = maps.Clone(i.MappingProperties)
	return &c
}

func (i *Item) element() *etree.Element {
	el := etree.NewElement(ElemItem)
	el.CreateElement(ElemName).SetText(i.Name)
	el.CreateElement(ElemID).SetText(i.ID)
	el.CreateElement(ElemType).SetText(string(i.Type))
	if i.Resource != nil {
		el.CreateElement(ElemResource).AddChild(i.Resource.Copy())
	}
	return el
}

func (i *Item) mapping() (*etree.Element, error) {
	el := etree.NewElement(ElemMapping)
	el.CreateAttr(AttrAction, string(i.Action))
	el.CreateAttr(AttrSrcID, i.ID)
	el.CreateAttr(AttrType, string(i.Type))
	if len(i.MappingProperties) > 0 {
		props, err := EncodeProperties(i.MappingProperties)
		if err != nil {
			return nil, err
		}
		el.AddChild(props)
	}
	return el, nil
}

// BuildBundle renders items into an l7:Bundle element, preserving their order
// in both the references and the mappings.
func BuildBundle(items []*Item) (*etree.Element, error) {
	root := etree.NewElement(ElemBundle)
	root.CreateAttr("xmlns:l7", Namespace)

	references := root.CreateElement(ElemReferences)
	mappings := root.CreateElement(ElemMappings)
	for _, item := range items {
		references.AddChild(item.element())
		m, err := item.mapping()
		if err != nil {
			return nil, err
		}
		mappings.AddChild(m)
	}
	return root, nil
}

// Marshal serializes an element as a standalone indented XML document.
func Marshal(el *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(el.Copy())
	doc.Indent(2)
	return doc.WriteToBytes()
}

// Unmarshal parses an XML document and returns its root element.
func Unmarshal(bs []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(bs); err != nil {
		return nil, NewLoadError(err, "failed to parse document")
	}
	root := doc.Root()
	if root == nil {
		return nil, NewLoadError(nil, "document has no root element")
	}
	return root, nil
}

// ChildText returns the text of the named child of el, or "" if absent.
func ChildText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return c.Text()
	}
	return ""
}

// CreateText appends a child element holding text to parent.
func CreateText(parent *etree.Element, tag, text string) *etree.Element {
	c := parent.CreateElement(tag)
	c.SetText(text)
	return c
}
