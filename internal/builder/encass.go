package builder

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

type encassBuilder struct {
	kind *entity.Kind
}

func (b *encassBuilder) Order() int { return b.kind.Order }

func (b *encassBuilder) Build(s *Scope) ([]*gateway.Item, error) {
	return each(s, b.kind, func(e *entity.Entity) (*gateway.Item, error) {
		var attrs entity.EncassAttributes
		if err := entity.DecodeAttributes(e, &attrs); err != nil {
			return nil, err
		}
		if attrs.Policy == "" {
			return nil, fmt.Errorf("encapsulated assertion has no backing policy")
		}
		policy, err := s.Bundle.Resolve(entity.Dependency{Type: entity.TypePolicy, Name: attrs.Policy})
		if err != nil {
			return nil, err
		}
		if err := resolveDependencies(s, e); err != nil {
			return nil, err
		}

		encass := etree.NewElement("l7:EncapsulatedAssertion")
		encass.CreateAttr(gateway.AttrID, e.ID)
		gateway.CreateText(encass, gateway.ElemName, e.Name)
		gateway.CreateText(encass, "l7:Guid", e.GUID)
		ref := encass.CreateElement("l7:PolicyReference")
		ref.CreateAttr(gateway.AttrID, policy.ID)
		ref.CreateAttr(gateway.AttrGUID, policy.GUID)

		args := encass.CreateElement("l7:EncapsulatedArguments")
		for i, a := range attrs.Arguments {
			arg := args.CreateElement("l7:EncapsulatedAssertionArgument")
			gateway.CreateText(arg, "l7:Ordinal", strconv.Itoa(i+1))
			gateway.CreateText(arg, "l7:ArgumentName", a.Name)
			gateway.CreateText(arg, "l7:ArgumentType", a.Type)
			gateway.CreateText(arg, "l7:GuiPrompt", strconv.FormatBool(a.RequireExplicit))
		}
		results := encass.CreateElement("l7:EncapsulatedResults")
		for _, r := range attrs.Results {
			res := results.CreateElement("l7:EncapsulatedAssertionResult")
			gateway.CreateText(res, "l7:ResultName", r.Name)
			gateway.CreateText(res, "l7:ResultType", r.Type)
		}
		if err := appendProperties(encass, e.Properties); err != nil {
			return nil, err
		}
		return item(e, e.Name, encass), nil
	})
}
