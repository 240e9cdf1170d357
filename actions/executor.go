package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dupfinder/logger"
	"dupfinder/scanner"
	"dupfinder/tracing"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// Outcome records one executed (or dry-run) action.
type Outcome struct {
	File            *scanner.FileDescriptor
	Action          scanner.Action
	Success         bool
	Error           string
	Elapsed         time.Duration
	DryRun          bool
	AlreadyExecuted bool
	// Fallback is set when Recycle fell back to Delete.
	Fallback bool
}

// handler performs one action against the filesystem. It returns whether
// the sanctioned Recycle-to-Delete fallback was used.
type handler func(ctx context.Context, d *scanner.FileDescriptor) (fallback bool, err error)

type ExecutorOptions struct {
	// Trasher overrides the platform trash.
	Trasher Trasher
	// CompressionLevel is passed to zstd; zero selects the default.
	CompressionLevel zstd.EncoderLevel
}

// Executor applies assigned actions. It processes descriptors one at a
// time, in input order.
type Executor struct {
	handlers map[scanner.Action]handler
	trash    Trasher
	level    zstd.EncoderLevel
	log      logrus.FieldLogger
}

func NewExecutor(opts ExecutorOptions, log logrus.FieldLogger) *Executor {
	e := &Executor{
		trash: opts.Trasher,
		level: opts.CompressionLevel,
		log:   logger.OrDiscard(log),
	}
	if e.trash == nil {
		e.trash = PlatformTrash()
	}
	if e.level == 0 {
		e.level = zstd.SpeedDefault
	}
	e.handlers = map[scanner.Action]handler{
		scanner.ActionNone:       e.noop,
		scanner.ActionKeep:       e.noop,
		scanner.ActionReview:     e.noop,
		scanner.ActionDelete:     e.delete,
		scanner.ActionRecycle:    e.recycle,
		scanner.ActionMove:       e.move,
		scanner.ActionRename:     e.rename,
		scanner.ActionCreateLink: e.link,
		scanner.ActionCompress:   e.compress,
		scanner.ActionArchive:    e.unsupported,
	}
	return e
}

// Execute applies the action of every descriptor whose action is not None.
// Descriptors already executed are reported successful without touching
// the filesystem. In dry-run mode nothing is mutated and no descriptor is
// marked executed. A failed action is recorded in its Outcome and the
// batch continues; a nil descriptor or cancellation returns an error along
// with the outcomes produced so far.
func (e *Executor) Execute(ctx context.Context, files []*scanner.FileDescriptor, dryRun bool) ([]Outcome, error) {
	for i, d := range files {
		if d == nil {
			return nil, fmt.Errorf("%w at index %d", ErrNilDescriptor, i)
		}
	}
	ctx, endTask := tracing.StartTask(ctx, "execute_actions")
	defer endTask()
	log := e.log.WithField("dry_run", dryRun)

	outcomes := make([]Outcome, 0, len(files))
	for _, d := range files {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		action := d.Action()
		if action == scanner.ActionNone {
			continue
		}
		start := time.Now()
		out := Outcome{File: d, Action: action, DryRun: dryRun}

		switch {
		case d.ActionExecuted():
			out.Success = true
			out.AlreadyExecuted = true
		case dryRun:
			out.Success = true
			log.WithFields(logrus.Fields{"action": action, "path": d.Path()}).Info("dry run")
		default:
			endRegion := tracing.StartRegion(ctx, "apply_action")
			fallback, err := e.apply(ctx, d, action)
			endRegion()
			out.Fallback = fallback
			if err != nil {
				out.Error = err.Error()
				d.MarkFailed(err)
				log.WithError(err).WithFields(logrus.Fields{"action": action, "path": d.Path()}).Warn("action failed")
			} else {
				out.Success = true
				d.MarkExecuted()
				log.WithFields(logrus.Fields{"action": action, "path": d.Path()}).Debug("action done")
			}
		}
		out.Elapsed = time.Since(start)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (e *Executor) apply(ctx context.Context, d *scanner.FileDescriptor, action scanner.Action) (bool, error) {
	h, ok := e.handlers[action]
	if !ok || h == nil {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedAction, action)
	}
	return h(ctx, d)
}

func (e *Executor) noop(context.Context, *scanner.FileDescriptor) (bool, error) {
	return false, nil
}

func (e *Executor) unsupported(_ context.Context, d *scanner.FileDescriptor) (bool, error) {
	return false, fmt.Errorf("%w: %s", ErrUnsupportedAction, d.Action())
}

// delete treats an already missing file as deleted.
func (e *Executor) delete(_ context.Context, d *scanner.FileDescriptor) (bool, error) {
	return false, removeFile(d.Path())
}

func (e *Executor) recycle(_ context.Context, d *scanner.FileDescriptor) (bool, error) {
	path := d.Path()
	err := e.trash.Trash(path)
	if err == nil {
		return false, nil
	}
	e.log.WithError(err).WithField("path", path).Warn("trash unavailable, deleting instead")
	return true, removeFile(path)
}

func (e *Executor) move(_ context.Context, d *scanner.FileDescriptor) (bool, error) {
	target, err := moveTarget(d)
	if err != nil {
		return false, err
	}
	target = uniquePath(target)
	if err := relocate(d.Path(), target); err != nil {
		return false, err
	}
	return false, d.Relocate(target)
}

func (e *Executor) rename(_ context.Context, d *scanner.FileDescriptor) (bool, error) {
	target, err := moveTarget(d)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(target); err == nil {
		return false, fmt.Errorf("%w: %s", ErrTargetExists, target)
	}
	if err := relocate(d.Path(), target); err != nil {
		return false, err
	}
	return false, d.Relocate(target)
}

// link replaces the file with a hard link to its target, falling back to a
// symbolic link when the two live on different filesystems.
func (e *Executor) link(_ context.Context, d *scanner.FileDescriptor) (bool, error) {
	target := d.TargetPath()
	if target == "" {
		return false, fmt.Errorf("%w: %s", ErrMissingTarget, d.Action())
	}
	path := d.Path()
	srcInfo, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	targetInfo, err := os.Stat(target)
	if err != nil {
		return false, err
	}
	if os.SameFile(srcInfo, targetInfo) {
		return false, nil
	}
	if srcInfo.Size() != targetInfo.Size() {
		return false, fmt.Errorf("link target %s differs in size from %s", target, path)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".dupfinder-link")
	_ = os.Remove(tmp)
	if err := os.Link(target, tmp); err != nil {
		if err := os.Symlink(target, tmp); err != nil {
			return false, err
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	return false, nil
}

// compress writes <path>.zst, carries over the modification time, and
// removes the original.
func (e *Executor) compress(ctx context.Context, d *scanner.FileDescriptor) (bool, error) {
	path := d.Path()
	dest := path + ".zst"
	if _, err := os.Lstat(dest); err == nil {
		return false, fmt.Errorf("%w: %s", ErrTargetExists, dest)
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if err := compressFile(ctx, path, dest, e.level); err != nil {
		return false, err
	}
	if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
		e.log.WithError(err).WithField("path", dest).Debug("failed to carry modification time")
	}
	if err := os.Remove(path); err != nil {
		_ = os.Remove(dest)
		return false, err
	}
	return false, d.Relocate(dest)
}

func compressFile(ctx context.Context, src, dest string, level zstd.EncoderLevel) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(level))
	if err != nil {
		return err
	}
	if _, err = io.Copy(enc, ctxReader{ctx: ctx, r: in}); err != nil {
		_ = enc.Close()
		return err
	}
	if err = enc.Close(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func moveTarget(d *scanner.FileDescriptor) (string, error) {
	target := d.TargetPath()
	if target == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingTarget, d.Action())
	}
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		target = filepath.Join(target, d.Name())
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	return target, nil
}

// uniquePath appends " (n)" before the extension until the name is free.
func uniquePath(path string) string {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// relocate renames src to dest, copying across filesystems when needed.
func relocate(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dest); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("file still present after delete: %s", path)
	}
	return nil
}
