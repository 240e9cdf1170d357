//go:build !trace

package tracing

import "context"

const Enabled = false

// Start always fails with ErrNotCompiled; callers usually just warn.
func Start(string) error { return ErrNotCompiled }

func Stop() {}

func StartTask(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

func StartRegion(context.Context, string) func() { return func() {} }

func Log(context.Context, string, string) {}
