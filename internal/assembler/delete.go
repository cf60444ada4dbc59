package assembler

import (
	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

type filter func(it *gateway.Item) bool

func and(filters ...filter) filter {
	return func(it *gateway.Item) bool {
		for _, f := range filters {
			if !f(it) {
				return false
			}
		}
		return true
	}
}

// deleteItems derives the uninstall list from an install list: the items are
// walked in reverse, folders are dropped along with everything keep rejects,
// and the remaining items are copied with the Delete action. The result is
// non-nil so that an empty delete bundle is still produced.
func deleteItems(items []*gateway.Item, keep filter) []*gateway.Item {
	result := []*gateway.Item{}
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.Type == entity.TypeFolder || !keep(it) {
			continue
		}
		c := it.Copy()
		c.Action = gateway.ActionDelete
		result = append(result, c)
	}
	return result
}

// deploymentFilter keeps the entities a deployment bundle owns. Environment
// entities are only referenced by it and are never deleted.
func deploymentFilter(scope *bundle.Bundle) filter {
	return func(it *gateway.Item) bool {
		return !scope.Registry().Environment(it.Type) && !it.Reference()
	}
}

// environmentFilter keeps the environment entities except the ones every
// gateway provides itself and private keys.
func environmentFilter(scope *bundle.Bundle) filter {
	return func(it *gateway.Item) bool {
		if !scope.Registry().Environment(it.Type) || it.Type == entity.TypePrivateKey {
			return false
		}
		if e, ok := scope.Get(it.Type, it.Key); ok && entity.IsDefaultListenPort(e) {
			return false
		}
		return true
	}
}

// ownedFilter keeps the items whose source entity is part of owned, matched
// by original key so that renamed entities are still found.
func ownedFilter(owned *bundle.Bundle) filter {
	return func(it *gateway.Item) bool {
		if owned.Registry().Registered(it.Type) {
			return owned.Has(it.Type, it.Key)
		}
		_, ok := owned.UnsupportedEntity(it.Type, it.Key)
		return ok
	}
}
