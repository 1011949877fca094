package voicebridge

import (
	"html"
	"regexp"
	"strings"
)

var (
	boldPattern     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern   = regexp.MustCompile(`\*(.+?)\*`)
	numberedPattern = regexp.MustCompile(`(\d+)\. `)
)

// FormatText converts a raw transcript into minimal display HTML for
// downstream clients: the text is HTML-escaped first, then lightweight
// markdown is rewritten (**bold**, *italic*), numbered list items get a line
// break with a bold marker, and newlines become <br>.
func FormatText(text string) string {
	safe := html.EscapeString(text)
	safe = boldPattern.ReplaceAllString(safe, "<b>$1</b>")
	safe = italicPattern.ReplaceAllString(safe, "<i>$1</i>")
	safe = numberedPattern.ReplaceAllString(safe, "<br><b>$1.</b> ")
	safe = strings.ReplaceAll(safe, "\n", "<br>")
	return strings.TrimSpace(safe)
}
