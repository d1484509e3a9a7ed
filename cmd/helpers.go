package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/midel-lab/pubfetch/internal/config"
	"github.com/midel-lab/pubfetch/internal/download"
	"github.com/midel-lab/pubfetch/internal/pipeline"
	"github.com/midel-lab/pubfetch/internal/resolve"
)

// promptYesNo asks a yes/no question on out, reading the answer from in.
// An empty answer returns def.
func promptYesNo(in io.Reader, out io.Writer, question string, def bool) bool {
	suffix := "[y/N]"
	if def {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s: ", question, suffix)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

func newResolver(cfg *config.Config) (*resolve.Resolver, error) {
	var rules []resolve.PublisherRule
	if cfg.Resolve.RulesPath != "" {
		loaded, err := resolve.LoadPublisherRules(cfg.Resolve.RulesPath)
		if err != nil {
			return nil, eris.Wrapf(err, "load publisher rules %s", cfg.Resolve.RulesPath)
		}
		rules = loaded
	}
	return resolve.NewResolver(resolve.Options{
		Timeout:   time.Duration(cfg.Resolve.TimeoutSecs) * time.Second,
		UserAgent: cfg.Resolve.UserAgent,
		Rules:     rules,
	}), nil
}

func newDownloader(cfg *config.Config) *download.Downloader {
	return download.NewDownloader(download.Options{
		MaxAttempts:    cfg.Download.MaxAttempts,
		Timeout:        time.Duration(cfg.Download.TimeoutSecs) * time.Second,
		MinSize:        cfg.Download.MinSizeBytes,
		ForbiddenDelay: time.Duration(cfg.Download.ForbiddenDelaySecs) * time.Second,
	})
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		OutputDir:     cfg.Download.OutputDir,
		CatalogPath:   cfg.Catalog.Path,
		YearCutoff:    cfg.Catalog.YearCutoff,
		RowsPerSecond: cfg.Download.RowsPerSecond,
	}
}
