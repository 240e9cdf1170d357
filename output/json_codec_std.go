//go:build !jsonv2

package output

import (
	"encoding/json"
	"io"
)

// encodeJSON writes v followed by a newline. Paths are written verbatim,
// without HTML escaping.
func encodeJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
