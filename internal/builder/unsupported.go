package builder

import (
	"errors"

	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

// unsupportedBuilder passes entities of unregistered types through unchanged.
type unsupportedBuilder struct{}

func (unsupportedBuilder) Order() int { return entity.UnsupportedOrder }

func (unsupportedBuilder) Build(s *Scope) ([]*gateway.Item, error) {
	if s.Type != Deployment {
		return nil, nil
	}
	var items []*gateway.Item
	for _, e := range s.Bundle.Unsupported() {
		if e.Raw == nil {
			return nil, entityError(e, errors.New("unsupported entity has no resource"))
		}
		it := item(e, e.Name, e.Raw.Copy())
		it.Action = gateway.ActionNewOrUpdate
		items = append(items, it)
	}
	return items, nil
}
