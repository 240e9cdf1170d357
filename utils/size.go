package utils

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// FormatSize renders a byte count with binary units, e.g. "1.5 MiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return fmt.Sprintf("-%s", humanize.IBytes(uint64(-bytes)))
	}
	return humanize.IBytes(uint64(bytes))
}

// Truncate shortens s to maxLen runes, ending with "...".
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 3 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
