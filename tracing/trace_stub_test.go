//go:build !trace

package tracing

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStubStartReportsNotCompiled(t *testing.T) {
	assert.False(t, Enabled)
	assert.ErrorIs(t, Start(filepath.Join(t.TempDir(), "trace.out")), ErrNotCompiled)
	Stop()

	ctx, endTask := StartTask(context.Background(), "build_descriptors")
	assert.NotNil(t, ctx)
	endRegion := StartRegion(ctx, "build_descriptor")
	Log(ctx, "stage", "hash")
	endRegion()
	endTask()
}
