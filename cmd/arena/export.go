package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-arena/internal/application"
)

type exportOptions struct {
	format string
	output string
}

func newExportCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write preference pairs from voted sessions as JSON lines",
		Long: `Export writes one chosen/rejected pair per decisive vote found in the
session store. Ties, both_bad votes and rounds against a failed contender
are skipped. Sessions survive across runs only with a Redis store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = cmd.OutOrStdout()
			if opts.output != "" && opts.output != "-" {
				f, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			n, err := a.manager.ExportTrainingData(cmd.Context(), opts.format, w)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d pairs\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", application.FormatDPO, "output format: dpo or pairwise")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (stdout when empty)")
	return cmd
}
