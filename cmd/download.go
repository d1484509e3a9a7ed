package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/midel-lab/pubfetch/internal/input"
	"github.com/midel-lab/pubfetch/internal/pipeline"
	"github.com/midel-lab/pubfetch/internal/session"
)

var (
	downloadInput   string
	downloadOutDir  string
	downloadAuth    bool
	downloadCatalog bool
	downloadYes     bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download all publication PDFs from the input list",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if downloadInput != "" {
			cfg.Input.Path = downloadInput
		}
		if downloadOutDir != "" {
			cfg.Download.OutputDir = downloadOutDir
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		rows, err := input.Rows(cfg.Input.Path)
		if err != nil {
			return eris.Wrapf(err, "read publication list %s", cfg.Input.Path)
		}
		zap.L().Info("publication list loaded",
			zap.String("path", cfg.Input.Path),
			zap.Int("rows", len(rows)),
		)

		sess, err := maybeLogin(cmd)
		if err != nil {
			return err
		}

		resolver, err := newResolver(cfg)
		if err != nil {
			return err
		}
		runner := pipeline.NewRunner(resolver, newDownloader(cfg), sess, pipelineConfig(cfg))

		summary, err := runner.Run(ctx, rows)
		if err != nil {
			return eris.Wrap(err, "download run")
		}

		reportPath, err := pipeline.WriteReport(summary, cfg.Download.OutputDir)
		if err != nil {
			zap.L().Warn("failed to write report", zap.Error(err))
		} else {
			zap.L().Info("report written", zap.String("path", reportPath))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %d of %d publications (%d failed)\n",
			summary.Succeeded, summary.Total(), len(summary.Failed))

		if wantCatalogUpdate(cmd) {
			added, skipped, mergeErr := runner.MergeCatalog(ctx, rows)
			if mergeErr != nil {
				return eris.Wrap(mergeErr, "update catalog")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog: %d added, %d skipped\n", added, skipped)
		}

		return nil
	},
}

// maybeLogin establishes an authenticated session when requested. A failed
// login degrades to an unauthenticated run rather than aborting the batch.
func maybeLogin(cmd *cobra.Command) (*session.Manager, error) {
	want := downloadAuth
	if !cmd.Flags().Changed("auth") && !downloadYes && cfg.Auth.Domain != "" {
		want = promptYesNo(cmd.InOrStdin(), cmd.OutOrStdout(),
			"Log in to "+cfg.Auth.Domain+" before downloading?", false)
	}
	if !want {
		return nil, nil
	}

	if cfg.Auth.Domain == "" || cfg.Auth.LoginURL == "" {
		return nil, eris.New("auth requested but auth.domain / auth.login_url are not configured")
	}
	if cfg.Auth.Username == "" || cfg.Auth.Password == "" {
		return nil, eris.New("auth requested but PUBFETCH_AUTH_USERNAME / PUBFETCH_AUTH_PASSWORD are not set")
	}

	mgr, err := session.NewManager(session.Options{
		Domain:   cfg.Auth.Domain,
		LoginURL: cfg.Auth.LoginURL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "create session")
	}

	outcome, err := mgr.Login(cmd.Context(), session.Credentials{
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
	})
	if err != nil {
		zap.L().Warn("login failed, continuing without authentication", zap.Error(err))
		return nil, nil
	}
	zap.L().Info("login finished",
		zap.String("domain", cfg.Auth.Domain),
		zap.String("outcome", outcome.String()),
	)
	if outcome == session.AuthFailed {
		fmt.Fprintln(os.Stderr, "Warning: login appears to have failed; gated publishers will likely refuse downloads")
		return nil, nil
	}
	return mgr, nil
}

func wantCatalogUpdate(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("update-catalog") {
		return downloadCatalog
	}
	if downloadYes {
		return true
	}
	return promptYesNo(cmd.InOrStdin(), cmd.OutOrStdout(),
		"Update the publication catalog ("+cfg.Catalog.Path+")?", true)
}

func init() {
	downloadCmd.Flags().StringVar(&downloadInput, "input", "", "publication list (.csv or .xlsx), overrides config")
	downloadCmd.Flags().StringVar(&downloadOutDir, "output-dir", "", "destination directory, overrides config")
	downloadCmd.Flags().BoolVar(&downloadAuth, "auth", false, "log in to the configured subscription domain first")
	downloadCmd.Flags().BoolVar(&downloadCatalog, "update-catalog", false, "merge rows into the publication catalog after downloading")
	downloadCmd.Flags().BoolVarP(&downloadYes, "yes", "y", false, "assume yes for all prompts")
	rootCmd.AddCommand(downloadCmd)
}
