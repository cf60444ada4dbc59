package service

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/apim-gateway/gwbundle/internal/assembler"
	"github.com/apim-gateway/gwbundle/internal/builder"
	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/export"
	"github.com/apim-gateway/gwbundle/internal/httpsync"
	"github.com/apim-gateway/gwbundle/internal/loader"
	"github.com/apim-gateway/gwbundle/internal/logging"
)

// ReadDependencies reads the dependency bundles named by the configuration.
// Dependencies given as http or https URLs are downloaded into dir first.
func ReadDependencies(ctx context.Context, cfg *config.Root, kinds *entity.Registry, dir string, log *logging.Logger) ([]*bundle.Bundle, error) {
	r := export.NewReader(kinds).WithLogger(log)
	deps := make([]*bundle.Bundle, 0, len(cfg.Dependencies))
	for i, path := range cfg.Dependencies {
		if httpsync.IsURL(path) {
			d := httpsync.New(filepath.Join(dir, "dependencies", fmt.Sprintf("%d.bundle", i)), path).
				WithHeaders(map[string]string{"Accept": "application/xml"})
			if err := d.Execute(ctx); err != nil {
				return nil, fmt.Errorf("failed to download dependency %s: %w", path, err)
			}
			log.Debugf("Downloaded dependency %s.", path)
			path = d.Path()
		}
		b, err := r.ReadFile(path)
		if err != nil {
			return nil, err
		}
		deps = append(deps, b)
	}
	return deps, nil
}

// Load reads the project from fsys, applying the configured patches.
func Load(cfg *config.Root, kinds *entity.Registry, fsys fs.FS, deps []*bundle.Bundle, log *logging.Logger) (*bundle.Bundle, error) {
	return loader.New(kinds).
		WithIDGenerator(loader.NewNameBasedIDs(cfg.Project.Name)).
		WithPatches(cfg.Patches).
		WithDependencies(deps...).
		WithLogger(log).
		Load(fsys)
}

// ProjectInfo returns the naming inputs of the artifacts. vars are the
// version variables of the synchronized sources.
func ProjectInfo(cfg *config.Root, vars map[string]string) assembler.ProjectInfo {
	return assembler.ProjectInfo{
		Name:       cfg.Project.Name,
		Group:      cfg.Project.Group,
		Version:    config.ResolveVersion(cfg.Project.Version, vars),
		ConfigName: cfg.Project.ConfigName,
	}
}

// Assemble builds the artifacts of a loaded project.
func Assemble(ctx context.Context, cfg *config.Root, project assembler.ProjectInfo, b *bundle.Bundle, log *logging.Logger) ([]*assembler.Artifact, error) {
	name, err := cfg.Build.BundleType()
	if err != nil {
		return nil, err
	}
	t, err := builder.ParseBundleType(name)
	if err != nil {
		return nil, err
	}
	return assembler.New(project).
		WithOptions(assembler.Options{
			Type:                           t,
			GenerateMetadata:               cfg.Build.GenerateMetadata,
			IgnoreAnnotations:              cfg.Build.IgnoreAnnotations,
			DisableUniqueEnvironmentNaming: cfg.Build.DisableUniqueEnvironmentNaming,
			Parallelism:                    cfg.Build.Parallelism,
		}).
		WithLogger(log).
		Build(ctx, b)
}
