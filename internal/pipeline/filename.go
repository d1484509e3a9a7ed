package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxComponentLen = 200

var (
	forbiddenCharsRe = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// sanitizeComponent makes a filename-safe version of one name component:
// forbidden characters stripped, whitespace collapsed, length capped.
func sanitizeComponent(s string) string {
	s = forbiddenCharsRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > maxComponentLen {
		// Cut on a rune boundary so multibyte titles stay valid UTF-8.
		cut := maxComponentLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s
}

// Filename builds the destination name <year>-<author>-<title>.pdf, skipping
// empty components.
func Filename(year, author, title string) string {
	var parts []string
	for _, p := range []string{year, author, title} {
		if clean := sanitizeComponent(p); clean != "" {
			parts = append(parts, clean)
		}
	}
	return strings.Join(parts, "-") + ".pdf"
}
