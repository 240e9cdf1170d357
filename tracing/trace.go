//go:build trace

package tracing

import (
	"context"
	"errors"
	"os"
	"runtime/trace"
	"sync"
)

const Enabled = true

var (
	traceMu   sync.Mutex
	traceFile *os.File
)

// Start writes a runtime trace to path ("trace.out" when empty) until Stop.
func Start(path string) error {
	if path == "" {
		path = "trace.out"
	}
	traceMu.Lock()
	defer traceMu.Unlock()
	if traceFile != nil {
		return errors.New("runtime trace already running")
	}
	f, err := createArtifact(path)
	if err != nil {
		return err
	}
	if err := trace.Start(f); err != nil {
		f.Close()
		return err
	}
	traceFile = f
	return nil
}

func Stop() {
	traceMu.Lock()
	defer traceMu.Unlock()
	if traceFile == nil {
		return
	}
	trace.Stop()
	traceFile.Close()
	traceFile = nil
}

// StartTask begins a trace task; call the returned function to end it.
func StartTask(ctx context.Context, name string) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, name)
	return ctx, task.End
}

func StartRegion(ctx context.Context, name string) func() {
	return trace.StartRegion(ctx, name).End
}

func Log(ctx context.Context, category, message string) {
	trace.Log(ctx, category, message)
}
