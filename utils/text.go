package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	whitespaceRegex  = regexp.MustCompile(`[ \t]+`)
	blankLinesRegex  = regexp.MustCompile(`\n{3,}`)
	enumPrefixRegex  = regexp.MustCompile(`^(?i)\s*((part|chapter|section|appendix)\s+\d+\s*[:.\-]?|\d+(\.\d+)*[:.)\-]?)\s*`)
	bulletGlyphRegex = regexp.MustCompile(`^[\s]*[•·◦▪▸►\-–—*]+\s*`)
)

// NormalizeText normalizes page-extracted text for chunking and embedding:
// CRLF to LF, zero-width and control characters stripped, horizontal
// whitespace runs collapsed, and runs of blank lines reduced to a single
// paragraph break.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t' || r == ' ':
			b.WriteRune(r)
		case r == '\u200b' || r == '\ufeff' || r == '\u00ad':
			// Zero-width space, BOM, soft hyphen carry no content.
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}

	text = whitespaceRegex.ReplaceAllString(b.String(), " ")
	text = blankLinesRegex.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// NormalizeTitle prepares a TOC title for matching: enumeration prefixes
// ("Part 3:", "Chapter 4", "1.2.") and leading bullet glyphs are stripped,
// whitespace is collapsed, and the result is lowercased.
func NormalizeTitle(title string) string {
	title = bulletGlyphRegex.ReplaceAllString(title, "")
	title = enumPrefixRegex.ReplaceAllString(title, "")
	title = whitespaceRegex.ReplaceAllString(title, " ")
	return strings.ToLower(strings.TrimSpace(title))
}

// CollapseWhitespace collapses all whitespace runs in s to single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes truncates s to at most limit runes.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
