package builder

import (
	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

// DefaultKeystoreID is the id of the gateway's software keystore.
const DefaultKeystoreID = "00000000000000000000000000000002"

// genericBuilder renders kinds whose attributes are not interpreted: the
// attributes are written as child elements of the resource tag.
type genericBuilder struct {
	kind *entity.Kind
	opts Options
}

func (b *genericBuilder) Order() int { return b.kind.Order }

func (b *genericBuilder) Build(s *Scope) ([]*gateway.Item, error) {
	return each(s, b.kind, func(e *entity.Entity) (*gateway.Item, error) {
		name := e.Name
		unique := b.uniqueName(s, e)
		if unique != "" {
			name = unique
		}

		resource := etree.NewElement(b.kind.ResourceTag)
		resource.CreateAttr(gateway.AttrID, e.ID)
		gateway.CreateText(resource, gateway.ElemName, name)
		if err := gateway.EncodeAttributes(resource, e.Attributes); err != nil {
			return nil, err
		}
		if err := appendProperties(resource, e.Properties); err != nil {
			return nil, err
		}

		it := item(e, name, resource)
		if unique != "" {
			it.MappingProperties = map[string]any{
				gateway.MappingMapBy: "name",
				gateway.MappingMapTo: unique,
			}
		}
		return it, nil
	})
}

// uniqueName returns the bundle specific name of an environment entity, or ""
// when the entity keeps its own name.
func (b *genericBuilder) uniqueName(s *Scope, e *entity.Entity) string {
	if !b.kind.Environment || !s.Annotated() || b.opts.DisableUniqueEnvironmentNaming {
		return ""
	}
	if e.Shared || e.ParentEntityShared {
		return ""
	}
	return s.Name + "-" + e.Name
}

type privateKeyBuilder struct {
	kind *entity.Kind
}

func (b *privateKeyBuilder) Order() int { return b.kind.Order }

func (b *privateKeyBuilder) Build(s *Scope) ([]*gateway.Item, error) {
	return each(s, b.kind, func(e *entity.Entity) (*gateway.Item, error) {
		var attrs entity.PrivateKeyAttributes
		if err := entity.DecodeAttributes(e, &attrs); err != nil {
			return nil, err
		}
		id := PrivateKeyID(attrs.Keystore, e.Name)

		key := etree.NewElement(b.kind.ResourceTag)
		key.CreateAttr(gateway.AttrID, id)
		key.CreateAttr("keystoreId", keystore(attrs.Keystore))
		key.CreateAttr("alias", e.Name)
		props := map[string]any{}
		if attrs.Algorithm != "" {
			props["keyAlgorithm"] = attrs.Algorithm
		}
		if err := appendProperties(key, props); err != nil {
			return nil, err
		}

		it := item(e, e.Name, key)
		it.ID = id
		return it, nil
	})
}

// PrivateKeyID returns the gateway id of the key entry alias in keystore.
func PrivateKeyID(keystoreID, alias string) string {
	return keystore(keystoreID) + ":" + alias
}

func keystore(id string) string {
	if id == "" {
		return DefaultKeystoreID
	}
	return id
}
