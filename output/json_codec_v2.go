//go:build jsonv2

package output

import (
	"encoding/json/jsontext"
	jsonv2 "encoding/json/v2"
	"io"
)

func encodeJSON(w io.Writer, v any, indent bool) error {
	var opts []jsonv2.Options
	if indent {
		opts = append(opts, jsontext.WithIndent("  "))
	}
	if err := jsonv2.MarshalWrite(w, v, opts...); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
