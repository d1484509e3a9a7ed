package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/midel-lab/pubfetch/internal/input"
	"github.com/midel-lab/pubfetch/internal/pipeline"
)

var (
	catalogInput string
	catalogPath  string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Merge the publication list into the JSON catalog without downloading",
	RunE: func(cmd *cobra.Command, args []string) error {
		if catalogInput != "" {
			cfg.Input.Path = catalogInput
		}
		if catalogPath != "" {
			cfg.Catalog.Path = catalogPath
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		rows, err := input.Rows(cfg.Input.Path)
		if err != nil {
			return eris.Wrapf(err, "read publication list %s", cfg.Input.Path)
		}

		resolver, err := newResolver(cfg)
		if err != nil {
			return err
		}
		runner := pipeline.NewRunner(resolver, newDownloader(cfg), nil, pipelineConfig(cfg))

		added, skipped, err := runner.MergeCatalog(cmd.Context(), rows)
		if err != nil {
			return eris.Wrap(err, "update catalog")
		}

		zap.L().Info("catalog updated",
			zap.String("path", cfg.Catalog.Path),
			zap.Int("added", added),
			zap.Int("skipped", skipped),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Catalog: %d added, %d skipped\n", added, skipped)
		return nil
	},
}

func init() {
	catalogCmd.Flags().StringVar(&catalogInput, "input", "", "publication list (.csv or .xlsx), overrides config")
	catalogCmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog file path, overrides config")
	rootCmd.AddCommand(catalogCmd)
}
