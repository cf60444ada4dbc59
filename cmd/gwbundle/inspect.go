package main

import (
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/export"
	"github.com/apim-gateway/gwbundle/internal/service"
)

func newInspectCommand(global *globalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [BUNDLE]",
		Short: "List the entities of a project or a bundle document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := global.logger(cmd.ErrOrStderr())
			kinds := entity.DefaultRegistry()

			var b *bundle.Bundle
			if len(args) == 1 {
				var err error
				b, err = export.NewReader(kinds).WithLogger(log).ReadFile(args[0])
				if err != nil {
					return err
				}
			} else {
				cfg, err := global.loadConfig()
				if err != nil {
					return err
				}
				dir, err := os.MkdirTemp("", "gwbundle-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)

				sources := service.NewSources(cfg, dir, log)
				if _, err := sources.Sync(cmd.Context()); err != nil {
					return err
				}
				fsys, err := sources.FS()
				if err != nil {
					return err
				}
				b, err = service.Load(cfg, kinds, fsys, nil, log)
				if err != nil {
					return err
				}
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Type", "Key", "ID", "Dependencies")
			for _, row := range entityRows(b) {
				if err := table.Append(row); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}

// entityRows lists the entities of b in kind order, unsupported entities last.
func entityRows(b *bundle.Bundle) [][]string {
	var rows [][]string
	for k := range b.Registry().Sorted() {
		for _, e := range b.Entities(k.Type) {
			rows = append(rows, entityRow(e))
		}
	}
	for _, e := range b.Unsupported() {
		rows = append(rows, entityRow(e))
	}
	return rows
}

func entityRow(e *entity.Entity) []string {
	deps := make([]string, 0, len(e.Dependencies))
	for _, d := range e.Dependencies {
		deps = append(deps, string(d.Type)+":"+d.Name)
	}
	return []string{string(e.Type), e.Key(), e.ID, strings.Join(deps, ", ")}
}
