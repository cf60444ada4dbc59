package export

import (
	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
	"github.com/apim-gateway/gwbundle/internal/loader"
)

const (
	policyGUIDPath = "//L7p:PolicyGuid[@stringValue]"
	encassPath     = "//L7p:Encapsulated"

	encassGUIDTag = "L7p:EncapsulatedAssertionConfigGuid"
	encassNameTag = "L7p:EncapsulatedAssertionConfigName"
)

// simplify replaces the id based references of a read bundle with the path
// and name based ones the loader expects, and records them as dependencies.
func (r *Reader) simplify(b *bundle.Bundle) error {
	policiesByID := map[string]*entity.Entity{}
	policiesByGUID := map[string]*entity.Entity{}
	for _, p := range b.Entities(entity.TypePolicy) {
		policiesByID[p.ID] = p
		policiesByGUID[p.GUID] = p
	}

	encassByGUID := map[string]*entity.Entity{}
	for _, e := range b.Entities(entity.TypeEncass) {
		encassByGUID[e.GUID] = e
		id, _ := e.Attributes[encassPolicyID].(string)
		delete(e.Attributes, encassPolicyID)
		p, ok := policiesByID[id]
		if !ok {
			r.log.Warnf("could not find policy %s of encapsulated assertion %q", id, e.Name)
			continue
		}
		e.Attributes["policy"] = p.Path
		e.Dependencies = append(e.Dependencies, entity.Dependency{Type: entity.TypePolicy, Name: p.Path})
	}

	for _, t := range []entity.Type{entity.TypePolicy, entity.TypeService} {
		for _, e := range b.Entities(t) {
			if e.Content == "" {
				continue
			}
			content, err := r.simplifyPolicy(e, policiesByGUID, encassByGUID)
			if err != nil {
				return gateway.NewLoadError(err, "%s %q", e.Type, e.Key())
			}
			deps, err := loader.PolicyReferences(content)
			if err != nil {
				return gateway.NewLoadError(err, "%s %q", e.Type, e.Key())
			}
			e.Content = content
			e.Dependencies = deps
		}
	}
	return nil
}

func (r *Reader) simplifyPolicy(e *entity.Entity, policies, encasses map[string]*entity.Entity) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(e.Content); err != nil {
		return "", err
	}

	changed := false
	for _, el := range doc.FindElements(policyGUIDPath) {
		guid := el.SelectAttrValue("stringValue", "")
		p, ok := policies[guid]
		if !ok {
			r.log.Warnf("%s %q: could not find included policy with guid %s", e.Type, e.Key(), guid)
			continue
		}
		el.RemoveAttr("stringValue")
		el.CreateAttr("policyPath", p.Path)
		changed = true
	}

	for _, el := range doc.FindElements(encassPath) {
		guidEl := el.SelectElement(encassGUIDTag)
		if guidEl == nil {
			continue
		}
		guid := guidEl.SelectAttrValue("stringValue", "")
		encass, ok := encasses[guid]
		if !ok {
			r.log.Warnf("%s %q: could not find encapsulated assertion with guid %s", e.Type, e.Key(), guid)
			continue
		}
		if _, ok := encass.Attributes["policy"]; !ok {
			r.log.Warnf("%s %q: could not find the policy of encapsulated assertion %q", e.Type, e.Key(), encass.Name)
			continue
		}
		el.CreateAttr("encassName", encass.Name)
		el.RemoveChild(guidEl)
		if nameEl := el.SelectElement(encassNameTag); nameEl != nil {
			el.RemoveChild(nameEl)
		}
		changed = true
	}

	if !changed {
		return e.Content, nil
	}
	return doc.WriteToString()
}
