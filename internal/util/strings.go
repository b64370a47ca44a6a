// Package util provides shared string helpers for terminal output.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// TruncateANSI truncates a string to maxWidth visual columns, adding "..." if truncated.
// ANSI escape codes and wide characters are handled, so styled text can be
// passed in.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= len(ellipsis) {
		return ellipsis
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate includes the tail in the final width calculation
	return ansi.Truncate(s, maxWidth, ellipsis)
}

// TruncatePath shortens an unstyled path to maxWidth columns by dropping
// leading characters, so the file name stays visible: ".../auth/login.ts".
func TruncatePath(p string, maxWidth int) string {
	if lipgloss.Width(p) <= maxWidth {
		return p
	}
	if maxWidth <= len(ellipsis) {
		return ellipsis
	}
	runes := []rune(p)
	for len(runes) > 0 && lipgloss.Width(ellipsis+string(runes)) > maxWidth {
		runes = runes[1:]
	}
	return ellipsis + string(runes)
}
