package export

import (
	"fmt"

	"github.com/apim-gateway/gwbundle/internal/builder"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

type folderNode struct {
	id       string
	name     string
	parentID string
}

// folderTree rebuilds folder paths from the folderId links of a bundle.
// Sibling folders sharing a name get " (2)", " (3)", ... suffixes.
type folderTree struct {
	order    []string
	nodes    map[string]*folderNode
	roots    map[string]bool
	paths    map[string]string // id to path
	taken    map[string]bool
	visiting map[string]bool
}

func newFolderTree(items []item) (*folderTree, error) {
	t := &folderTree{
		nodes:    map[string]*folderNode{},
		roots:    map[string]bool{builder.RootFolderID: true},
		paths:    map[string]string{},
		taken:    map[string]bool{},
		visiting: map[string]bool{},
	}
	for _, it := range items {
		if it.Type != entity.TypeFolder {
			continue
		}
		id := it.resourceID()
		parent := it.Resource.SelectAttrValue(gateway.AttrFolderID, "")
		if id == builder.RootFolderID || parent == "" {
			t.roots[id] = true
			continue
		}
		if _, ok := t.nodes[id]; ok {
			return nil, gateway.NewLoadError(nil, "found multiple folders with id %s", id)
		}
		t.nodes[id] = &folderNode{id: id, name: nameOf(it), parentID: parent}
		t.order = append(t.order, id)
	}
	return t, nil
}

// path returns the path of the folder with the given id, "" for the root.
func (t *folderTree) path(id string) (string, error) {
	if id == "" || t.roots[id] {
		return "", nil
	}
	if p, ok := t.paths[id]; ok {
		return p, nil
	}
	n, ok := t.nodes[id]
	if !ok {
		return "", gateway.NewLoadError(gateway.ErrEntityNotFound, "could not find folder with id %s", id)
	}
	if t.visiting[id] {
		return "", gateway.NewLoadError(nil, "folder %s is its own ancestor", id)
	}

	t.visiting[id] = true
	parent, err := t.path(n.parentID)
	delete(t.visiting, id)
	if err != nil {
		return "", err
	}

	p := joinPath(parent, n.name)
	for i := 2; t.taken[p]; i++ {
		p = joinPath(parent, fmt.Sprintf("%s (%d)", n.name, i))
	}
	t.taken[p] = true
	t.paths[id] = p
	return p, nil
}

// entities returns the folder entities in bundle order.
func (t *folderTree) entities() ([]*entity.Entity, error) {
	result := make([]*entity.Entity, 0, len(t.order))
	for _, id := range t.order {
		p, err := t.path(id)
		if err != nil {
			return nil, err
		}
		result = append(result, &entity.Entity{
			Type:       entity.TypeFolder,
			Name:       entity.ExtractName(p),
			Path:       p,
			ID:         id,
			FolderPath: entity.ParentPath(p),
		})
	}
	return result, nil
}
