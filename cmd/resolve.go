package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/midel-lab/pubfetch/internal/doi"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <doi>",
	Short: "Resolve a single DOI to a document URL",
	Long:  "Resolves one DOI through the public resolver and prints the discovered document URL with the heuristic that found it. Useful for debugging publisher pages.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := doi.Normalize(args[0])
		if !doi.WellFormed(id) {
			return eris.Errorf("%q does not look like a DOI", args[0])
		}

		resolver, err := newResolver(cfg)
		if err != nil {
			return err
		}

		res, err := resolver.ResolveWithFallbacks(cmd.Context(), id)
		if err != nil {
			return eris.Wrapf(err, "resolve %s", id)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"doi":    id,
			"url":    res.URL,
			"source": string(res.Source),
			"direct": res.Direct,
		})
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
