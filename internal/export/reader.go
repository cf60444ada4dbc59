// Package export converts gateway bundles back into the declarative project
// layout: Reader parses a bundle document into an entity graph and Writer
// writes a graph as the files the loader reads.
package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/builder"
	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
	"github.com/apim-gateway/gwbundle/internal/logging"
)

type Reader struct {
	kinds *entity.Registry
	log   *logging.Logger
}

func NewReader(kinds *entity.Registry) *Reader {
	return &Reader{kinds: kinds, log: logging.NewNop()}
}

func (r *Reader) WithLogger(log *logging.Logger) *Reader {
	r.log = log
	return r
}

// ReadFile reads the bundle document stored at path.
func (r *Reader) ReadFile(path string) (*bundle.Bundle, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := r.Read(bs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// item is one l7:Item of a bundle document.
type item struct {
	Type     entity.Type
	ID       string
	Name     string
	Resource *etree.Element
}

// Read parses a bundle document. Policy documents are simplified back to
// path and name based references.
func (r *Reader) Read(data []byte) (*bundle.Bundle, error) {
	root, err := gateway.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if root.FullTag() != gateway.ElemBundle {
		return nil, gateway.NewLoadError(nil, "expected %s element, got %s", gateway.ElemBundle, root.FullTag())
	}

	var items []item
	if refs := root.SelectElement(gateway.ElemReferences); refs != nil {
		for _, el := range refs.SelectElements(gateway.ElemItem) {
			it := item{
				Type: entity.Type(gateway.ChildText(el, gateway.ElemType)),
				ID:   gateway.ChildText(el, gateway.ElemID),
				Name: gateway.ChildText(el, gateway.ElemName),
			}
			if res := el.SelectElement(gateway.ElemResource); res != nil && len(res.ChildElements()) > 0 {
				it.Resource = res.ChildElements()[0]
			}
			if it.Resource == nil {
				return nil, gateway.NewLoadError(nil, "%s %q has no resource", it.Type, it.Name)
			}
			items = append(items, it)
		}
	}

	folders, err := newFolderTree(items)
	if err != nil {
		return nil, err
	}

	folderEntities, err := folders.entities()
	if err != nil {
		return nil, err
	}
	b := bundle.New(r.kinds)
	for _, f := range folderEntities {
		if err := b.Add(f); err != nil {
			return nil, err
		}
	}

	paths := map[entity.Type]map[string]*entity.Entity{}
	for _, it := range items {
		if it.Type == entity.TypeFolder {
			continue
		}
		k, ok := r.kinds.Lookup(it.Type)
		if !ok {
			r.log.Debugf("keeping %s %q as unsupported entity", it.Type, it.Name)
			if err := b.AddUnsupported(&entity.Entity{Type: it.Type, Name: it.Name, ID: it.ID, Raw: it.Resource.Copy()}); err != nil {
				return nil, err
			}
			continue
		}
		if it.Resource.FullTag() != k.ResourceTag {
			return nil, gateway.NewLoadError(nil, "%s %q: expected %s resource, got %s", it.Type, it.Name, k.ResourceTag, it.Resource.FullTag())
		}

		e, err := r.entity(k, it, folders)
		if err != nil {
			return nil, err
		}
		if k.PathKeyed {
			if paths[k.Type] == nil {
				paths[k.Type] = map[string]*entity.Entity{}
			}
			if !uniquePath(paths[k.Type], e) {
				r.log.Warnf("ignoring repeated %s %q", e.Type, e.Key())
				continue
			}
		}
		if err := b.Add(e); err != nil {
			return nil, err
		}
	}

	if err := r.simplify(b); err != nil {
		return nil, err
	}
	return b, nil
}

// uniquePath gives e a path not used by another entity of the same kind by
// appending " (2)", " (3)", ... to its name. It returns false when the path is
// taken by an entity with the same id, which is the same entity repeated.
func uniquePath(seen map[string]*entity.Entity, e *entity.Entity) bool {
	base, name := e.Path, e.Name
	for n := 2; ; n++ {
		other, ok := seen[e.Path]
		if !ok {
			break
		}
		if other.ID == e.ID {
			return false
		}
		e.Name = fmt.Sprintf("%s (%d)", name, n)
		e.Path = base + fmt.Sprintf(" (%d)", n)
	}
	seen[e.Path] = e
	return true
}

func (r *Reader) entity(k *entity.Kind, it item, folders *folderTree) (*entity.Entity, error) {
	switch k.Type {
	case entity.TypePolicy:
		return readPolicy(it, folders)
	case entity.TypeService:
		return readService(it, folders)
	case entity.TypeEncass:
		return readEncass(it)
	case entity.TypePrivateKey:
		return readPrivateKey(it)
	default:
		return readGeneric(it)
	}
}

func readPolicy(it item, folders *folderTree) (*entity.Entity, error) {
	detail := it.Resource.SelectElement("l7:PolicyDetail")
	if detail == nil {
		return nil, gateway.NewLoadError(nil, "policy %q has no detail", it.Name)
	}
	e, err := folderable(it, detail, folders)
	if err != nil {
		return nil, err
	}
	e.GUID = it.Resource.SelectAttrValue(gateway.AttrGUID, detail.SelectAttrValue(gateway.AttrGUID, ""))
	if t := gateway.ChildText(detail, "l7:PolicyType"); t != "" && t != "Include" {
		e.Attributes = map[string]any{"policyType": t}
	}
	e.Content = policyResource(it.Resource)
	return e, nil
}

func readService(it item, folders *folderTree) (*entity.Entity, error) {
	detail := it.Resource.SelectElement("l7:ServiceDetail")
	if detail == nil {
		return nil, gateway.NewLoadError(nil, "service %q has no detail", it.Name)
	}
	e, err := folderable(it, detail, folders)
	if err != nil {
		return nil, err
	}
	attrs := map[string]any{}
	if http := detail.FindElement("l7:ServiceMappings/l7:HttpMapping"); http != nil {
		attrs["url"] = gateway.ChildText(http, "l7:UrlPattern")
		var verbs []any
		for _, v := range http.FindElements("l7:Verbs/l7:Verb") {
			verbs = append(verbs, v.Text())
		}
		if len(verbs) > 0 {
			attrs["httpMethods"] = verbs
		}
	}
	e.Attributes = attrs
	e.Content = policyResource(it.Resource)
	return e, nil
}

// folderable reads the identity, folder and properties held by the detail
// element of a policy or service.
func folderable(it item, detail *etree.Element, folders *folderTree) (*entity.Entity, error) {
	name := gateway.ChildText(detail, gateway.ElemName)
	if name == "" {
		name = it.Name
	}
	parent, err := folders.path(detail.SelectAttrValue(gateway.AttrFolderID, builder.RootFolderID))
	if err != nil {
		return nil, gateway.NewLoadError(err, "%s %q", it.Type, name)
	}
	props, err := gateway.DecodeProperties(detail.SelectElement(gateway.ElemProperties))
	if err != nil {
		return nil, gateway.NewLoadError(err, "%s %q", it.Type, name)
	}
	return &entity.Entity{
		Type:       it.Type,
		Name:       name,
		Path:       joinPath(parent, name),
		ID:         it.ID,
		FolderPath: parent,
		Properties: props,
	}, nil
}

func policyResource(el *etree.Element) string {
	if res := el.FindElement("l7:Resources/l7:ResourceSet[@tag='policy']/l7:Resource"); res != nil {
		return res.Text()
	}
	return ""
}

func readEncass(it item) (*entity.Entity, error) {
	props, err := gateway.DecodeProperties(it.Resource.SelectElement(gateway.ElemProperties))
	if err != nil {
		return nil, gateway.NewLoadError(err, "%s %q", it.Type, it.Name)
	}
	e := &entity.Entity{
		Type:       it.Type,
		Name:       nameOf(it),
		ID:         it.ID,
		GUID:       gateway.ChildText(it.Resource, "l7:Guid"),
		Properties: props,
	}

	attrs := map[string]any{}
	if ref := it.Resource.SelectElement("l7:PolicyReference"); ref != nil {
		// Replaced by the policy path once every policy is read.
		attrs[encassPolicyID] = ref.SelectAttrValue(gateway.AttrID, "")
	}
	var args []any
	for _, a := range it.Resource.FindElements("l7:EncapsulatedArguments/l7:EncapsulatedAssertionArgument") {
		args = append(args, map[string]any{
			"name":            gateway.ChildText(a, "l7:ArgumentName"),
			"type":            gateway.ChildText(a, "l7:ArgumentType"),
			"requireExplicit": gateway.ParseBool(gateway.ChildText(a, "l7:GuiPrompt")),
		})
	}
	if len(args) > 0 {
		attrs["arguments"] = args
	}
	var results []any
	for _, r := range it.Resource.FindElements("l7:EncapsulatedResults/l7:EncapsulatedAssertionResult") {
		results = append(results, map[string]any{
			"name": gateway.ChildText(r, "l7:ResultName"),
			"type": gateway.ChildText(r, "l7:ResultType"),
		})
	}
	if len(results) > 0 {
		attrs["results"] = results
	}
	e.Attributes = attrs
	return e, nil
}

const encassPolicyID = "policyId"

func readPrivateKey(it item) (*entity.Entity, error) {
	alias := it.Resource.SelectAttrValue("alias", "")
	if alias == "" {
		_, alias, _ = strings.Cut(it.ID, ":")
	}
	if alias == "" {
		return nil, gateway.NewLoadError(nil, "private key %q has no alias", it.ID)
	}
	props, err := gateway.DecodeProperties(it.Resource.SelectElement(gateway.ElemProperties))
	if err != nil {
		return nil, gateway.NewLoadError(err, "%s %q", it.Type, alias)
	}

	attrs := map[string]any{}
	if ks := it.Resource.SelectAttrValue("keystoreId", ""); ks != "" && ks != builder.DefaultKeystoreID {
		attrs["keystore"] = ks
	}
	if alg, ok := props["keyAlgorithm"].(string); ok {
		attrs["algorithm"] = alg
	}
	return &entity.Entity{Type: it.Type, Name: alias, ID: it.ID, Attributes: attrs}, nil
}

func readGeneric(it item) (*entity.Entity, error) {
	props, err := gateway.DecodeProperties(it.Resource.SelectElement(gateway.ElemProperties))
	if err != nil {
		return nil, gateway.NewLoadError(err, "%s %q", it.Type, it.Name)
	}
	attrs := gateway.DecodeAttributes(it.Resource, gateway.ElemName, gateway.ElemProperties)
	if len(attrs) == 0 {
		attrs = nil
	}
	return &entity.Entity{
		Type:       it.Type,
		Name:       nameOf(it),
		ID:         it.resourceID(),
		Properties: props,
		Attributes: attrs,
	}, nil
}

func nameOf(it item) string {
	if name := gateway.ChildText(it.Resource, gateway.ElemName); name != "" {
		return name
	}
	return it.Name
}

// resourceID returns the id of the item, falling back to the id attribute of
// its resource.
func (it item) resourceID() string {
	if it.ID != "" {
		return it.ID
	}
	return it.Resource.SelectAttrValue(gateway.AttrID, "")
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
