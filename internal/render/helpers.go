// Package render produces Graphviz DOT and HTML output for lifted and
// unflattened functions.
package render

import (
	"fmt"
	"strings"
)

// dotEscape escapes a string for use in DOT HTML labels.
func dotEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// truncLabel shortens a label to maxLen, appending "..." if truncated.
func truncLabel(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// elide keeps the first and last five lines of a long block.
func elide(lines []string) []string {
	if len(lines) <= 12 {
		return lines
	}
	kept := append(lines[:5:5], fmt.Sprintf("... (%d more)", len(lines)-10))
	return append(kept, lines[len(lines)-5:]...)
}
