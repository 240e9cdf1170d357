// Package tracing wraps runtime/trace. Tasks, regions and the trace file
// are active only in builds with the trace tag; the flight recorder is
// always available.
package tracing

import "errors"

// ErrNotCompiled is returned by Start in builds without the trace tag.
var ErrNotCompiled = errors.New("runtime tracing not compiled in (build with -tags trace)")
