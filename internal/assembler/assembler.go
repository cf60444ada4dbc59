// Package assembler turns a loaded entity graph into deployable artifacts:
// install and delete bundles, metadata and private key import contexts, for
// the whole project or for every annotated entity.
package assembler

import (
	"context"
	"fmt"

	"github.com/beevik/etree"
	"golang.org/x/sync/errgroup"

	"github.com/apim-gateway/gwbundle/internal/builder"
	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
	"github.com/apim-gateway/gwbundle/internal/logging"
	"github.com/apim-gateway/gwbundle/internal/resolver"
)

const (
	InstallSuffix            = ".install.bundle"
	DeleteSuffix             = ".delete.bundle"
	EnvironmentInstallSuffix = ".environment.install.bundle"
	EnvironmentDeleteSuffix  = ".environment.delete.bundle"
	MetadataSuffix           = ".metadata.yml"
	PrivateKeySuffix         = ".privatekey"
)

type ProjectInfo struct {
	Name       string
	Group      string
	Version    string
	ConfigName string
}

// versioned appends the project version to name when one is set.
func (p ProjectInfo) versioned(name string) string {
	if p.Version == "" {
		return name
	}
	return name + "-" + p.Version
}

type Options struct {
	Type                           builder.BundleType
	GenerateMetadata               bool
	IgnoreAnnotations              bool
	DisableUniqueEnvironmentNaming bool
	Parallelism                    int
}

// Artifact is the output of one scope. Delete and Metadata are nil when the
// scope does not produce them.
type Artifact struct {
	Name string

	Install      *etree.Element
	Delete       *etree.Element
	Metadata     *Metadata
	InstallFile  string
	DeleteFile   string
	MetadataFile string
	PrivateKeys  []PrivateKey

	Items       []*gateway.Item
	DeleteItems []*gateway.Item
}

type Assembler struct {
	project ProjectInfo
	opts    Options
	log     *logging.Logger
}

func New(project ProjectInfo) *Assembler {
	return &Assembler{project: project, log: logging.NewNop()}
}

func (a *Assembler) WithOptions(opts Options) *Assembler {
	a.opts = opts
	return a
}

func (a *Assembler) WithLogger(log *logging.Logger) *Assembler {
	a.log = log
	return a
}

// Build produces the artifacts for b. When b holds annotated entities (and
// annotations are not ignored) one artifact is built per annotated entity;
// otherwise a single artifact covers the whole project. Any failing scope
// fails the whole build.
func (a *Assembler) Build(ctx context.Context, b *bundle.Bundle) ([]*Artifact, error) {
	if a.opts.DisableUniqueEnvironmentNaming {
		a.log.Warnf("Environment entity unique naming is disabled")
	}

	var roots []*entity.Entity
	if !a.opts.IgnoreAnnotations {
		roots = annotatedRoots(b)
	}

	if len(roots) == 0 {
		artifact, err := a.buildProject(b)
		if err != nil {
			return nil, err
		}
		return []*Artifact{artifact}, nil
	}

	artifacts := make([]*Artifact, len(roots))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.opts.Parallelism, 1))
	for i, root := range roots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			artifact, err := a.buildAnnotated(b, root)
			if err != nil {
				return err
			}
			artifacts[i] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]*entity.Entity, len(artifacts))
	for i, artifact := range artifacts {
		if other, ok := seen[artifact.Name]; ok {
			return nil, gateway.NewBuildError(nil, "%s %q and %s %q both produce bundle %q", other.Type, other.Key(), roots[i].Type, roots[i].Key(), artifact.Name)
		}
		seen[artifact.Name] = roots[i]
	}
	return artifacts, nil
}

// annotatedRoots returns the entities carrying a bundle annotation, in kind
// order and then key order.
func annotatedRoots(b *bundle.Bundle) []*entity.Entity {
	var roots []*entity.Entity
	for k := range b.Registry().Sorted() {
		if !k.Annotable {
			continue
		}
		for _, e := range b.Entities(k.Type) {
			if e.Bundle != nil {
				roots = append(roots, e)
			}
		}
	}
	return roots
}

func (a *Assembler) newBuilder(b *bundle.Bundle) *builder.Builder {
	return builder.New(b.Registry()).WithOptions(builder.Options{DisableUniqueEnvironmentNaming: a.opts.DisableUniqueEnvironmentNaming})
}

func (a *Assembler) buildProject(b *bundle.Bundle) (*Artifact, error) {
	name := a.project.versioned(a.project.Name)
	scope := &builder.Scope{Bundle: b, Type: a.opts.Type}

	items, err := a.newBuilder(b).Build(scope)
	if err != nil {
		return nil, err
	}

	artifact := &Artifact{Name: name, Items: items}
	switch a.opts.Type {
	case builder.Deployment:
		artifact.DeleteItems = deleteItems(items, deploymentFilter(b))
		artifact.Metadata = newMetadata(name, a.project, a.opts.Type, nil, b, items)
		artifact.InstallFile = name + InstallSuffix
		artifact.DeleteFile = name + DeleteSuffix
	case builder.Environment:
		artifact.DeleteItems = deleteItems(items, environmentFilter(b))
		if a.opts.GenerateMetadata {
			artifact.Metadata = newMetadata(name, a.project, a.opts.Type, nil, b, items)
		}
		artifact.InstallFile = name + EnvironmentInstallSuffix
		artifact.DeleteFile = name + EnvironmentDeleteSuffix
	}

	if err := a.finish(artifact, b); err != nil {
		return nil, err
	}
	return artifact, nil
}

func (a *Assembler) buildAnnotated(b *bundle.Bundle, root *entity.Entity) (*Artifact, error) {
	name := a.annotatedName(root)
	log := a.log.With("bundle", name)

	scoped, err := resolver.Closure(b, root, false)
	if err != nil {
		return nil, err
	}
	log.Debugf("resolved %d entities for %s %q", scoped.Len(), root.Type, root.Key())

	scope := &builder.Scope{Bundle: scoped, Type: a.opts.Type, Name: name}
	items, err := a.newBuilder(b).Build(scope)
	if err != nil {
		return nil, err
	}

	artifact := &Artifact{Name: name, Items: items}
	switch a.opts.Type {
	case builder.Deployment:
		keep := deploymentFilter(scoped)
		if !root.Redeployable {
			owned, err := resolver.Closure(b, root, true)
			if err != nil {
				return nil, err
			}
			keep = and(keep, ownedFilter(owned))
		}
		artifact.DeleteItems = deleteItems(items, keep)
		artifact.Metadata = newMetadata(name, a.project, a.opts.Type, root, scoped, items)
		artifact.InstallFile = name + InstallSuffix
		artifact.DeleteFile = name + DeleteSuffix
	case builder.Environment:
		artifact.InstallFile = name + EnvironmentInstallSuffix
	}

	if err := a.finish(artifact, scoped); err != nil {
		return nil, err
	}
	log.Debugf("built %d install and %d delete entities", len(artifact.Items), len(artifact.DeleteItems))
	return artifact, nil
}

// annotatedName returns the artifact name of an annotated root: the name
// given in its annotation, or the project and entity names.
func (a *Assembler) annotatedName(root *entity.Entity) string {
	name := root.Bundle.Name
	if name == "" {
		name = a.project.Name + "-" + root.Name
	}
	return a.project.versioned(name)
}

// finish renders the element trees and private key contexts of artifact.
func (a *Assembler) finish(artifact *Artifact, scope *bundle.Bundle) error {
	install, err := gateway.BuildBundle(artifact.Items)
	if err != nil {
		return err
	}
	artifact.Install = install

	if artifact.DeleteFile != "" {
		del, err := gateway.BuildBundle(artifact.DeleteItems)
		if err != nil {
			return err
		}
		artifact.Delete = del
	}
	if artifact.Metadata != nil {
		artifact.MetadataFile = artifact.Name + MetadataSuffix
	}

	keys, err := privateKeys(a.project, scope, a.log)
	if err != nil {
		return err
	}
	artifact.PrivateKeys = keys
	return nil
}

// Names returns the artifact names in build order.
func Names(artifacts []*Artifact) []string {
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		names = append(names, a.Name)
	}
	return names
}

func (a *Artifact) String() string {
	return fmt.Sprintf("%s (%d install, %d delete)", a.Name, len(a.Items), len(a.DeleteItems))
}
