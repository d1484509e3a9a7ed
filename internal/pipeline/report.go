package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// FormatReport generates the human-readable run report written next to the
// downloaded files.
func FormatReport(summary *Summary, outputDir string, now time.Time) string {
	var b strings.Builder

	b.WriteString("Download Report\n")
	b.WriteString("===============\n")
	fmt.Fprintf(&b, "Run: %s\n", summary.RunID)
	fmt.Fprintf(&b, "Generated: %s\n\n", now.Format("2006-01-02 15:04:05"))

	total := summary.Total()
	fmt.Fprintf(&b, "Total publications: %d\n", total)
	fmt.Fprintf(&b, "Downloaded: %d\n", summary.Succeeded)
	fmt.Fprintf(&b, "Failed: %d\n", len(summary.Failed))
	if total > 0 {
		fmt.Fprintf(&b, "Success rate: %.1f%%\n", float64(summary.Succeeded)/float64(total)*100)
	}
	b.WriteString("\n")

	if files := downloadedFiles(outputDir); len(files) > 0 {
		b.WriteString("Downloaded files:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "  %s (%.2f MB)\n", f.name, float64(f.size)/(1024*1024))
		}
		b.WriteString("\n")
	}

	if len(summary.Failed) > 0 {
		b.WriteString("Failed downloads:\n")
		for _, f := range summary.Failed {
			fmt.Fprintf(&b, "  %s | %s | %s | %s\n", f.Title, f.Author, f.DOI, f.Reason)
		}
		b.WriteString("\n")
	}

	if len(summary.Blocked) > 0 {
		b.WriteString("Hosts that refused automated access:\n")
		for _, h := range summary.Blocked {
			fmt.Fprintf(&b, "  %s\n", h)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// WriteReport writes the run report to download_report.txt in the output
// directory and returns its path.
func WriteReport(summary *Summary, outputDir string) (string, error) {
	path := filepath.Join(outputDir, "download_report.txt")
	report := FormatReport(summary, outputDir, time.Now())
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", eris.Wrapf(err, "pipeline: write report %s", path)
	}
	return path, nil
}

type reportFile struct {
	name string
	size int64
}

func downloadedFiles(dir string) []reportFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []reportFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, reportFile{name: e.Name(), size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files
}
