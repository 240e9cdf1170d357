// Package hasher computes content fingerprints by streaming files through a
// pooled buffer. Files are never loaded whole into memory.
package hasher

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/mmap"
	"golang.org/x/time/rate"
)

const (
	hashBufferSmallSize      = 32 * 1024
	hashBufferLargeSize      = 128 * 1024
	hashLargeBufferThreshold = 256 * 1024

	// QuickHashSize is the prefix length read by QuickHash.
	QuickHashSize = 4 * 1024

	DefaultMmapMinSize = 128 * 1024
)

const (
	ReadModeAuto   = "auto"
	ReadModeStream = "stream"
	ReadModeMmap   = "mmap"
)

var hashBufferSmallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferSmallSize)
		return &buf
	},
}

var hashBufferLargePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferLargeSize)
		return &buf
	},
}

var openMmapReader = mmap.Open

type Options struct {
	Algorithm   Algorithm
	ReadMode    string
	MmapMinSize int64
	// Limiter, when set, is waited on once per opened file.
	Limiter *rate.Limiter
}

// Engine fingerprints files with a single configured algorithm. It holds no
// per-file state and is safe for concurrent use.
type Engine struct {
	algorithm   Algorithm
	readMode    string
	mmapMinSize int64
	limiter     *rate.Limiter
}

func New(opts Options) (*Engine, error) {
	alg := opts.Algorithm
	if alg == "" {
		alg = DefaultAlgorithm
	}
	if _, err := alg.New(); err != nil {
		return nil, err
	}
	mode := strings.ToLower(strings.TrimSpace(opts.ReadMode))
	switch mode {
	case "":
		mode = ReadModeAuto
	case ReadModeAuto, ReadModeStream, ReadModeMmap:
	default:
		return nil, fmt.Errorf("invalid read mode: %s", opts.ReadMode)
	}
	minSize := opts.MmapMinSize
	if minSize <= 0 {
		minSize = DefaultMmapMinSize
	}
	return &Engine{
		algorithm:   alg,
		readMode:    mode,
		mmapMinSize: minSize,
		limiter:     opts.Limiter,
	}, nil
}

// Fingerprint hashes path with alg using a streaming engine.
func Fingerprint(ctx context.Context, path string, alg Algorithm) (Result, error) {
	e, err := New(Options{Algorithm: alg, ReadMode: ReadModeStream})
	if err != nil {
		return Result{}, err
	}
	return e.Fingerprint(ctx, path)
}

func (e *Engine) Algorithm() Algorithm { return e.algorithm }

// Fingerprint streams path through the engine's algorithm. A canceled
// context yields ctx.Err() and no Result; open/read failures yield *IOError.
func (e *Engine) Fingerprint(ctx context.Context, path string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}
	start := time.Now()

	h, err := e.algorithm.New()
	if err != nil {
		return Result{}, err
	}

	var (
		src  io.Reader
		size int64
	)
	if e.useMmap(path) {
		r, err := openMmapReader(path)
		if err == nil {
			defer r.Close()
			size = int64(r.Len())
			src = io.NewSectionReader(r, 0, size)
		} else if e.readMode == ReadModeMmap {
			return Result{}, &IOError{Path: path, Op: "mmap", Err: err}
		}
	}
	if src == nil {
		file, err := os.Open(path)
		if err != nil {
			return Result{}, &IOError{Path: path, Op: "open", Err: err}
		}
		defer file.Close()
		if info, statErr := file.Stat(); statErr == nil {
			size = info.Size()
		}
		src = file
	}

	n, err := copyChunks(ctx, h, src, size)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		return Result{}, &IOError{Path: path, Op: "read", Err: err}
	}

	return Result{
		Algorithm: e.algorithm,
		Digest:    hex.EncodeToString(h.Sum(nil)),
		Duration:  time.Since(start),
		Bytes:     n,
	}, nil
}

// QuickHash returns an xxhash of the first QuickHashSize bytes. Two files
// with different quick hashes cannot have identical content.
func (e *Engine) QuickHash(ctx context.Context, path string) (uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	file, err := os.Open(path)
	if err != nil {
		return 0, &IOError{Path: path, Op: "open", Err: err}
	}
	defer file.Close()

	buf := make([]byte, QuickHashSize)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, &IOError{Path: path, Op: "read", Err: err}
	}
	return xxhash.Sum64(buf[:n]), nil
}

func (e *Engine) useMmap(path string) bool {
	switch e.readMode {
	case ReadModeMmap:
		return true
	case ReadModeAuto:
		info, err := os.Stat(path)
		return err == nil && info.Size() >= e.mmapMinSize
	default:
		return false
	}
}

func copyChunks(ctx context.Context, h hash.Hash, src io.Reader, size int64) (int64, error) {
	bufferPool := &hashBufferSmallPool
	if size >= hashLargeBufferThreshold {
		bufferPool = &hashBufferLargePool
	}
	bufferPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufferPtr)
	buffer := *bufferPtr

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := src.Read(buffer)
		if n > 0 {
			// hash.Hash.Write never returns an error
			h.Write(buffer[:n])
			total += int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, readErr
		}
	}
}
