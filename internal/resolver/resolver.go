// Package resolver computes the dependency closure of a root entity into a
// fresh scoped bundle.
package resolver

import (
	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
)

// Closure returns a new scoped bundle holding root and every entity root
// transitively requires in src, together with their folder ancestry. When
// excludeShared is set, shared entities other than the root are left out and
// their own dependencies are not walked. src is never modified.
func Closure(src *bundle.Bundle, root *entity.Entity, excludeShared bool) (*bundle.Bundle, error) {
	r := &resolver{src: src, dst: src.NewScoped(), excludeShared: excludeShared}
	if err := r.insert(root, false); err != nil {
		return nil, err
	}
	return r.dst, nil
}

type resolver struct {
	src           *bundle.Bundle
	dst           *bundle.Bundle
	excludeShared bool
}

// resolve is the single entry point for every reference. The presence check
// is both the cycle guard and the memoization.
func (r *resolver) resolve(e *entity.Entity, parentShared bool) error {
	if r.dst.Has(e.Type, e.Key()) {
		return nil
	}
	if r.excludeShared && e.Shared {
		return nil
	}
	return r.insert(e, parentShared)
}

func (r *resolver) insert(e *entity.Entity, parentShared bool) error {
	clone := e.Clone()
	clone.ParentEntityShared = parentShared || e.Shared

	if err := r.folders(clone.FolderPath); err != nil {
		return err
	}
	if err := r.dst.Add(clone); err != nil {
		return err
	}

	kind, ok := r.src.Registry().Lookup(e.Type)
	if !ok || !kind.HasDependencies {
		return nil
	}

	for _, dep := range e.Dependencies {
		if !r.src.Registry().Registered(dep.Type) {
			r.unsupported(dep)
			continue
		}

		target, ok := r.src.Find(dep.Type, dep.Name)
		if !ok {
			// Left for the builders, which also consult the missing
			// entities and the dependency bundles.
			continue
		}

		depKind, _ := r.src.Registry().Lookup(dep.Type)
		if depKind.HasDependencies {
			if err := r.resolve(target, clone.ParentEntityShared); err != nil {
				return err
			}
			continue
		}

		if r.dst.Has(target.Type, target.Key()) || (r.excludeShared && target.Shared) {
			continue
		}
		leaf := target.Clone()
		leaf.ParentEntityShared = clone.ParentEntityShared || target.Shared
		if err := r.folders(leaf.FolderPath); err != nil {
			return err
		}
		if err := r.dst.Add(leaf); err != nil {
			return err
		}
	}
	return nil
}

// folders copies the folder chain ending at path into the scope, stopping at
// the first folder already present. The root folder is implicit.
func (r *resolver) folders(path string) error {
	for ; path != ""; path = entity.ParentPath(path) {
		if r.dst.Has(entity.TypeFolder, path) {
			return nil
		}
		folder, ok := r.src.Get(entity.TypeFolder, path)
		if !ok {
			continue // reported by the folder builder
		}
		if err := r.dst.Add(folder.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (r *resolver) unsupported(dep entity.Dependency) {
	name := entity.ExtractName(dep.Name)
	if _, ok := r.dst.UnsupportedEntity(dep.Type, name); ok {
		return
	}
	if e, ok := r.src.UnsupportedEntity(dep.Type, name); ok {
		_ = r.dst.AddUnsupported(e.Clone())
	}
}
