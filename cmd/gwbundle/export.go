package main

import (
	"github.com/spf13/cobra"

	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/export"
)

func newExportCommand(global *globalParams) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export BUNDLE",
		Short: "Convert a bundle document into project sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := global.logger(cmd.ErrOrStderr())
			kinds := entity.DefaultRegistry()

			b, err := export.NewReader(kinds).WithLogger(log).ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := export.NewWriter(kinds).WithLogger(log).Write(output, b); err != nil {
				return err
			}
			log.Infof("exported %d entities to %s", b.Len(), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", ".", "directory to write the project sources to")
	return cmd
}
