package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apim-gateway/gwbundle/internal/config"
)

func newValidateCommand(global *globalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [FILE...]",
		Short: "Validate configuration files against the configuration schema",
		Long: `Validate checks each file against the configuration schema. Without
arguments the files given with --config are merged and validated as one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if _, err := global.loadConfig(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
				return nil
			}

			var errs []error
			for _, f := range args {
				bs, err := os.ReadFile(f)
				if err == nil {
					_, err = config.Parse(bs)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", f, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", f)
			}
			return errors.Join(errs...)
		},
	}
}
