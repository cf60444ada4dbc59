// Command gwbundle compiles declarative gateway projects into deployment
// bundles.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"

	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/logging"
)

type globalParams struct {
	configFiles []string
	logLevel    logging.Level
	logFormat   logging.Format
}

func (p *globalParams) logger(w io.Writer) *logging.Logger {
	return logging.NewLogger(logging.Config{Level: p.logLevel, Format: p.logFormat, Output: w})
}

// loadConfig reads the configuration files, merging them when there are
// several. Relative paths are resolved against the directory of the first.
func (p *globalParams) loadConfig() (*config.Root, error) {
	files := p.configFiles
	if len(files) == 0 {
		files = []string{config.DefaultFile}
	}
	if len(files) == 1 {
		if fi, err := os.Stat(files[0]); err == nil && !fi.IsDir() {
			return config.ParseFile(files[0])
		}
	}

	bs, err := config.Merge(files, false)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Parse(bs)
	if err != nil {
		return nil, err
	}
	dir := files[0]
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		dir = filepath.Dir(dir)
	}
	cfg.Resolve(dir)
	return cfg, nil
}

func (p *globalParams) addFlags(flags *pflag.FlagSet) {
	flags.StringArrayVarP(&p.configFiles, "config", "c", nil, "configuration file or directory, repeat to merge several (default "+config.DefaultFile+")")
	flags.Var(enumflag.New(&p.logLevel, "level", logging.LevelNames, enumflag.EnumCaseInsensitive), "log-level", "log level: debug, info, warn or error")
	flags.Var(enumflag.New(&p.logFormat, "format", logging.FormatNames, enumflag.EnumCaseInsensitive), "log-format", "log format: text or json")
}

// addWorkDirFlag registers the flag for the git working copy directory.
func addWorkDirFlag(flags *pflag.FlagSet, dir *string) {
	flags.StringVar(dir, "work-dir", "", "directory for git working copies (default: a temporary directory)")
}

func newRootCommand() *cobra.Command {
	params := &globalParams{logLevel: logging.Info}

	root := &cobra.Command{
		Use:           "gwbundle",
		Short:         "Compile declarative gateway projects into deployment bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	params.addFlags(root.PersistentFlags())
	root.AddCommand(
		newBuildCommand(params),
		newExportCommand(params),
		newInspectCommand(params),
		newValidateCommand(params),
		newRunCommand(params),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
