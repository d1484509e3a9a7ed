package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/midel-lab/pubfetch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pubfetch",
	Short: "Bulk publication PDF harvester",
	Long:  "Reads a publication list, resolves each DOI to a document URL via publisher-page heuristics, downloads the PDFs, and maintains a grouped JSON catalog.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
