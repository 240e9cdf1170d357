package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"dupfinder/classify"
	"dupfinder/logger"
	"dupfinder/tracing"
	"dupfinder/utils"

	"github.com/sirupsen/logrus"
)

type BuildOptions struct {
	Concurrency int
	// DetectMimeType sniffs each file header with h2non/filetype.
	DetectMimeType bool
	// ProtectReadOnly marks read-only files as protected.
	ProtectReadOnly bool
	// ProtectGlobs mark matching files (base name globs or regexes) as
	// protected.
	ProtectGlobs []string
	// OnProgress is called once per path processed, from worker
	// goroutines.
	OnProgress func()
}

// BuildFailure is a path that could not be turned into a descriptor.
type BuildFailure struct {
	Path string
	Err  error
}

func (f BuildFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// Builder turns discovered paths into classified descriptors.
type Builder struct {
	classifier *classify.Classifier
	opts       BuildOptions
	protect    *utils.PatternMatcher
	log        logrus.FieldLogger
}

func NewBuilder(classifier *classify.Classifier, opts BuildOptions, log logrus.FieldLogger) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	b := &Builder{classifier: classifier, opts: opts, log: logger.OrDiscard(log)}
	if len(opts.ProtectGlobs) > 0 {
		b.protect = utils.NewPatternMatcher(opts.ProtectGlobs, nil)
	}
	return b
}

// BuildOne stats and classifies a single path.
func (b *Builder) BuildOne(path string) (*FileDescriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, abs)
	}
	ts, err := fileTimes(abs)
	if err != nil {
		return nil, err
	}
	id := Identity{
		Path:     abs,
		Size:     info.Size(),
		Times:    ts,
		ReadOnly: isReadOnly(info),
		Hidden:   isHidden(info),
		FileID:   fileIdentity(abs, info),
	}
	if b.opts.DetectMimeType {
		mime, err := sniffMimeType(abs)
		if err != nil {
			b.log.WithError(err).WithField("path", abs).Debug("mime detection failed")
		}
		id.MimeType = mime
	}

	loc, prio := classify.Unknown, classify.Normal
	if b.classifier != nil {
		loc, prio = b.classifier.Classify(abs, id.Size, ts)
	}
	d, err := NewFileDescriptor(id, loc, prio)
	if err != nil {
		return nil, err
	}
	if (b.opts.ProtectReadOnly && id.ReadOnly) || (b.protect != nil && b.protect.ShouldInclude(abs)) {
		// a fresh descriptor has no action, so this cannot conflict
		_ = d.SetProtected(true)
	}
	return d, nil
}

type buildTask struct {
	index int
	path  string
}

// Build constructs descriptors for paths in parallel. The result keeps the
// input order; paths that fail are reported as BuildFailures and never
// abort the batch. Only cancellation returns an error.
func (b *Builder) Build(ctx context.Context, paths []string) ([]*FileDescriptor, []BuildFailure, error) {
	ctx, endTask := tracing.StartTask(ctx, "build_descriptors")
	defer endTask()

	results := make([]*FileDescriptor, len(paths))
	errs := make([]error, len(paths))

	tasks := make(chan buildTask, b.opts.Concurrency)
	var wg sync.WaitGroup
	for range b.opts.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				select {
				case <-ctx.Done():
					return
				default:
				}
				endRegion := tracing.StartRegion(ctx, "build_descriptor")
				results[task.index], errs[task.index] = b.BuildOne(task.path)
				endRegion()
				if b.opts.OnProgress != nil {
					b.opts.OnProgress()
				}
			}
		}()
	}

feed:
	for i, p := range paths {
		select {
		case <-ctx.Done():
			break feed
		case tasks <- buildTask{index: i, path: p}:
		}
	}
	close(tasks)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	descriptors := make([]*FileDescriptor, 0, len(paths))
	var failures []BuildFailure
	for i, d := range results {
		if errs[i] != nil {
			b.log.WithError(errs[i]).WithField("path", paths[i]).Warn("skipping file")
			failures = append(failures, BuildFailure{Path: paths[i], Err: errs[i]})
			continue
		}
		if d != nil {
			descriptors = append(descriptors, d)
		}
	}
	return descriptors, failures, nil
}
