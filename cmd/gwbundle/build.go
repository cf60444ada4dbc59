package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/akedrou/textdiff"
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/apim-gateway/gwbundle/internal/assembler"
	"github.com/apim-gateway/gwbundle/internal/builder"
	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/logging"
	"github.com/apim-gateway/gwbundle/internal/progress"
	"github.com/apim-gateway/gwbundle/internal/service"
	"github.com/apim-gateway/gwbundle/internal/storage"
)

type buildParams struct {
	bundleType builder.BundleType
	output     string
	workDir    string
	diff       bool
	progress   bool
}

func newBuildCommand(global *globalParams) *cobra.Command {
	params := &buildParams{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the artifacts of a project",
		Long: `Build loads the project sources, assembles the install and delete bundles
and writes them to the configured output. With --diff nothing is written;
instead the differences to the files already in the output directory are
shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("type") {
				cfg.Build.Type = params.bundleType.String()
			}
			if params.output != "" {
				cfg.Output = config.ObjectStorage{FileSystemStorage: &config.FileSystemStorage{Path: params.output}}
			}
			log := global.logger(cmd.ErrOrStderr())

			artifacts, err := buildProject(cmd.Context(), cfg, params.workDir, log)
			if err != nil {
				return err
			}

			if params.diff {
				dir := "."
				if fs := cfg.Output.FileSystemStorage; fs != nil {
					dir = fs.Path
				}
				return diffArtifacts(cmd, storage.NewFileSystem(dir), artifacts)
			}

			store, err := storage.New(cmd.Context(), cfg.Output)
			if err != nil {
				return err
			}
			var bar *progress.Bar
			if params.progress {
				bar = progress.New(cmd.ErrOrStderr(), len(artifacts), "writing artifacts")
			}
			_, err = storage.Write(cmd.Context(), store, artifacts, func(_ *assembler.Artifact, names []string) {
				for _, name := range names {
					log.Infof("wrote %s", name)
				}
				bar.Add(1)
			})
			bar.Finish()
			return err
		},
	}

	flags := cmd.Flags()
	flags.Var(enumflag.New(&params.bundleType, "type", builder.BundleTypeNames, enumflag.EnumCaseInsensitive), "type", "bundle type: deployment or environment (overrides build.type)")
	flags.StringVarP(&params.output, "output", "o", "", "write the artifacts to this directory instead of the configured output")
	addWorkDirFlag(flags, &params.workDir)
	flags.BoolVar(&params.diff, "diff", false, "show unified diffs against the existing files instead of writing")
	flags.BoolVar(&params.progress, "progress", false, "show a progress bar")
	return cmd
}

// buildProject synchronizes, loads and assembles the project once.
func buildProject(ctx context.Context, cfg *config.Root, workDir string, log *logging.Logger) ([]*assembler.Artifact, error) {
	if workDir == "" {
		dir, err := os.MkdirTemp("", "gwbundle-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)
		workDir = dir
	}

	kinds := entity.DefaultRegistry()
	sources := service.NewSources(cfg, workDir, log)
	vars, err := sources.Sync(ctx)
	if err != nil {
		return nil, err
	}
	fsys, err := sources.FS()
	if err != nil {
		return nil, err
	}
	deps, err := service.ReadDependencies(ctx, cfg, kinds, workDir, log)
	if err != nil {
		return nil, err
	}
	b, err := service.Load(cfg, kinds, fsys, deps, log)
	if err != nil {
		return nil, err
	}
	return service.Assemble(ctx, cfg, service.ProjectInfo(cfg, vars), b, log)
}

func diffArtifacts(cmd *cobra.Command, fs *storage.FileSystem, artifacts []*assembler.Artifact) error {
	out := cmd.OutOrStdout()
	for _, a := range artifacts {
		files, err := storage.Files(a)
		if err != nil {
			return err
		}
		for _, name := range slices.Sorted(maps.Keys(files)) {
			old, err := fs.Get(cmd.Context(), name)
			if err != nil {
				return err
			}
			if d := textdiff.Unified(fs.Path(name), name, string(old), string(files[name])); d != "" {
				fmt.Fprint(out, d)
			}
		}
	}
	return nil
}
