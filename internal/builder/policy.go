package builder

import (
	"fmt"
	"maps"

	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

const (
	policyGUIDPath = "//L7p:PolicyGuid[@policyPath]"
	encassPath     = "//L7p:Encapsulated[@encassName]"

	encassGUIDTag = "L7p:EncapsulatedAssertionConfigGuid"
	encassNameTag = "L7p:EncapsulatedAssertionConfigName"
)

type policyBuilder struct {
	kind *entity.Kind
}

func (b *policyBuilder) Order() int { return b.kind.Order }

func (b *policyBuilder) Build(s *Scope) ([]*gateway.Item, error) {
	return each(s, b.kind, func(e *entity.Entity) (*gateway.Item, error) {
		folderID, err := folderID(s, e.FolderPath)
		if err != nil {
			return nil, err
		}

		policy := etree.NewElement("l7:Policy")
		policy.CreateAttr(gateway.AttrID, e.ID)
		policy.CreateAttr(gateway.AttrGUID, e.GUID)

		detail := policy.CreateElement("l7:PolicyDetail")
		detail.CreateAttr(gateway.AttrID, e.ID)
		detail.CreateAttr(gateway.AttrGUID, e.GUID)
		detail.CreateAttr(gateway.AttrFolderID, folderID)
		gateway.CreateText(detail, gateway.ElemName, e.Name)
		policyType := "Include"
		if t, ok := e.Attributes["policyType"].(string); ok && t != "" {
			policyType = t
		}
		gateway.CreateText(detail, "l7:PolicyType", policyType)
		if err := appendProperties(detail, e.Properties); err != nil {
			return nil, err
		}

		if err := appendPolicyResource(s, policy, e); err != nil {
			return nil, err
		}
		return item(e, e.Name, policy), nil
	})
}

type serviceBuilder struct {
	kind *entity.Kind
}

func (b *serviceBuilder) Order() int { return b.kind.Order }

func (b *serviceBuilder) Build(s *Scope) ([]*gateway.Item, error) {
	return each(s, b.kind, func(e *entity.Entity) (*gateway.Item, error) {
		folderID, err := folderID(s, e.FolderPath)
		if err != nil {
			return nil, err
		}
		var attrs entity.ServiceAttributes
		if err := entity.DecodeAttributes(e, &attrs); err != nil {
			return nil, err
		}
		if attrs.URL == "" {
			return nil, fmt.Errorf("service has no url")
		}

		service := etree.NewElement("l7:Service")
		service.CreateAttr(gateway.AttrID, e.ID)

		detail := service.CreateElement("l7:ServiceDetail")
		detail.CreateAttr(gateway.AttrID, e.ID)
		detail.CreateAttr(gateway.AttrFolderID, folderID)
		gateway.CreateText(detail, gateway.ElemName, e.Name)
		gateway.CreateText(detail, "l7:Enabled", "true")

		mappings := detail.CreateElement("l7:ServiceMappings")
		http := mappings.CreateElement("l7:HttpMapping")
		gateway.CreateText(http, "l7:UrlPattern", attrs.URL)
		verbs := http.CreateElement("l7:Verbs")
		for _, v := range attrs.Verbs {
			gateway.CreateText(verbs, "l7:Verb", v)
		}
		if err := appendProperties(detail, e.Properties); err != nil {
			return nil, err
		}

		if err := appendPolicyResource(s, service, e); err != nil {
			return nil, err
		}
		return item(e, e.Name, service), nil
	})
}

// appendPolicyResource validates the dependencies of e and appends its
// policy document to parent with every reference rewritten to gateway ids.
func appendPolicyResource(s *Scope, parent *etree.Element, e *entity.Entity) error {
	if err := resolveDependencies(s, e); err != nil {
		return err
	}
	content, err := rewritePolicy(s, e.Content)
	if err != nil {
		return err
	}
	set := parent.CreateElement("l7:Resources").CreateElement("l7:ResourceSet")
	set.CreateAttr("tag", "policy")
	resource := set.CreateElement(gateway.ElemResource)
	resource.CreateAttr(gateway.AttrType, "policy")
	resource.SetText(content)
	return nil
}

func resolveDependencies(s *Scope, e *entity.Entity) error {
	for _, dep := range e.Dependencies {
		if _, err := s.Bundle.Resolve(dep); err != nil {
			return err
		}
	}
	return nil
}

// rewritePolicy replaces the path based include and encapsulated assertion
// references of a policy document with the guids of their targets.
func rewritePolicy(s *Scope, content string) (string, error) {
	if content == "" {
		return content, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(content); err != nil {
		return "", fmt.Errorf("invalid policy document: %w", err)
	}

	for _, el := range doc.FindElements(policyGUIDPath) {
		path := el.SelectAttrValue("policyPath", "")
		target, err := s.Bundle.Resolve(entity.Dependency{Type: entity.TypePolicy, Name: path})
		if err != nil {
			return "", err
		}
		el.RemoveAttr("policyPath")
		el.CreateAttr("stringValue", target.GUID)
	}

	for _, el := range doc.FindElements(encassPath) {
		name := el.SelectAttrValue("encassName", "")
		target, err := s.Bundle.Resolve(entity.Dependency{Type: entity.TypeEncass, Name: name})
		if err != nil {
			return "", err
		}
		el.RemoveAttr("encassName")
		el.CreateElement(encassGUIDTag).CreateAttr("stringValue", target.GUID)
		el.CreateElement(encassNameTag).CreateAttr("stringValue", target.Name)
	}

	return doc.WriteToString()
}

// each renders every entity of kind k in the scope, sorted by key, and applies
// the mapping of the scope to the results. Mapping properties set by render
// are kept.
func each(s *Scope, k *entity.Kind, render func(e *entity.Entity) (*gateway.Item, error)) ([]*gateway.Item, error) {
	action, props, ok := mapping(s, k)
	if !ok {
		return nil, nil
	}
	var items []*gateway.Item
	for _, e := range s.Bundle.Entities(k.Type) {
		it, err := render(e)
		if err != nil {
			return nil, entityError(e, err)
		}
		it.Action = action
		merged := maps.Clone(props)
		if len(it.MappingProperties) > 0 {
			if merged == nil {
				merged = make(map[string]any, len(it.MappingProperties))
			}
			maps.Copy(merged, it.MappingProperties)
		}
		it.MappingProperties = merged
		items = append(items, it)
	}
	return items, nil
}

func item(e *entity.Entity, name string, resource *etree.Element) *gateway.Item {
	return &gateway.Item{
		Type:     e.Type,
		ID:       e.ID,
		Name:     name,
		Key:      e.Key(),
		Resource: resource,
	}
}

func appendProperties(parent *etree.Element, props map[string]any) error {
	if len(props) == 0 {
		return nil
	}
	el, err := gateway.EncodeProperties(props)
	if err != nil {
		return err
	}
	parent.AddChild(el)
	return nil
}
