package builder

import (
	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

const rootFolderName = "Root Node"

type folderBuilder struct {
	kind *entity.Kind
}

func (b *folderBuilder) Order() int { return b.kind.Order }

// Build emits the root folder as a reference followed by every folder of the
// scope. Folders are created when absent and left alone otherwise. Sorted
// paths put every parent before its children.
func (b *folderBuilder) Build(s *Scope) ([]*gateway.Item, error) {
	if s.Type != Deployment {
		return nil, nil
	}

	root := etree.NewElement("l7:Folder")
	root.CreateAttr(gateway.AttrID, RootFolderID)
	gateway.CreateText(root, gateway.ElemName, rootFolderName)
	items := []*gateway.Item{{
		Type:              entity.TypeFolder,
		ID:                RootFolderID,
		Name:              rootFolderName,
		Resource:          root,
		Action:            gateway.ActionNewOrExisting,
		MappingProperties: map[string]any{gateway.MappingFailOnNew: true},
	}}

	for _, e := range s.Bundle.Entities(entity.TypeFolder) {
		parentID, err := folderID(s, e.FolderPath)
		if err != nil {
			return nil, entityError(e, err)
		}
		folder := etree.NewElement("l7:Folder")
		folder.CreateAttr(gateway.AttrID, e.ID)
		folder.CreateAttr(gateway.AttrFolderID, parentID)
		gateway.CreateText(folder, gateway.ElemName, e.Name)

		it := item(e, e.Name, folder)
		it.Action = gateway.ActionNewOrExisting
		items = append(items, it)
	}
	return items, nil
}
