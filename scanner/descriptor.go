// Package scanner discovers candidate files and turns each one into a
// FileDescriptor: identity metadata, a classification, a lazily computed
// content fingerprint, and the action later assigned to it.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"dupfinder/classify"
	"dupfinder/hasher"
)

var (
	ErrInvalidPath          = errors.New("invalid path")
	ErrNotRegularFile       = errors.New("not a regular file")
	ErrProtectedDestructive = errors.New("destructive action on protected file")
	ErrFingerprintSet       = errors.New("fingerprint already calculated")
)

// Fingerprinter computes a content fingerprint for a path. *hasher.Engine
// implements it.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (hasher.Result, error)
}

// Identity is the metadata captured when a descriptor is built.
type Identity struct {
	Path     string
	Size     int64
	Times    classify.Timestamps
	ReadOnly bool
	Hidden   bool
	// FileID identifies the underlying inode or file index; hard links
	// share it. Empty when the platform cannot report one.
	FileID   string
	MimeType string
}

// FileDescriptor describes one file found during a scan. Its identity is
// fixed at construction except for the path, which follows the file when an
// executed Move or Rename relocates it. All methods are safe for concurrent
// use.
type FileDescriptor struct {
	size     int64
	times    classify.Timestamps
	readOnly bool
	hidden   bool
	fileID   string
	mimeType string
	location classify.Location

	hashMu sync.Mutex
	hash   hasher.Result
	hashed bool

	mu         sync.RWMutex
	path       string
	dir        string
	name       string
	priority   classify.Priority
	protected  bool
	action     Action
	reason     string
	targetPath string
	executed   bool
	actionErr  string
}

// NewFileDescriptor builds a descriptor from captured metadata and its
// classification. The path must be absolute.
func NewFileDescriptor(id Identity, loc classify.Location, prio classify.Priority) (*FileDescriptor, error) {
	if id.Path == "" || !filepath.IsAbs(id.Path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, id.Path)
	}
	if id.Size < 0 {
		return nil, fmt.Errorf("%w: negative size for %s", ErrInvalidPath, id.Path)
	}
	clean := filepath.Clean(id.Path)
	return &FileDescriptor{
		size:     id.Size,
		times:    id.Times,
		readOnly: id.ReadOnly,
		hidden:   id.Hidden,
		fileID:   id.FileID,
		mimeType: id.MimeType,
		location: loc,
		path:     clean,
		dir:      filepath.Dir(clean),
		name:     filepath.Base(clean),
		priority: prio,
	}, nil
}

func (d *FileDescriptor) Path() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.path
}

func (d *FileDescriptor) Dir() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dir
}

func (d *FileDescriptor) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *FileDescriptor) Size() int64                 { return d.size }
func (d *FileDescriptor) Times() classify.Timestamps  { return d.times }
func (d *FileDescriptor) ModTime() time.Time          { return d.times.Modified }
func (d *FileDescriptor) ReadOnly() bool              { return d.readOnly }
func (d *FileDescriptor) Hidden() bool                { return d.hidden }
func (d *FileDescriptor) FileID() string              { return d.fileID }
func (d *FileDescriptor) MimeType() string            { return d.mimeType }
func (d *FileDescriptor) Location() classify.Location { return d.location }

// EnsureFingerprint computes the fingerprint on first use and returns the
// cached value afterwards, even if the file has since changed. A failed or
// canceled computation caches nothing.
func (d *FileDescriptor) EnsureFingerprint(ctx context.Context, fp Fingerprinter) (hasher.Result, error) {
	d.hashMu.Lock()
	defer d.hashMu.Unlock()
	if d.hashed {
		return d.hash, nil
	}
	if fp == nil {
		return hasher.Result{}, errors.New("nil fingerprinter")
	}
	res, err := fp.Fingerprint(ctx, d.Path())
	if err != nil {
		return hasher.Result{}, err
	}
	if res.IsZero() {
		return hasher.Result{}, fmt.Errorf("empty fingerprint for %s", d.Path())
	}
	d.hash = res
	d.hashed = true
	return res, nil
}

// RestoreFingerprint installs a previously computed fingerprint, for
// descriptors rebuilt from stored scan results.
func (d *FileDescriptor) RestoreFingerprint(res hasher.Result) error {
	if res.IsZero() {
		return errors.New("empty fingerprint")
	}
	d.hashMu.Lock()
	defer d.hashMu.Unlock()
	if d.hashed {
		return ErrFingerprintSet
	}
	d.hash = res
	d.hashed = true
	return nil
}

// Fingerprint returns the cached fingerprint and whether it was calculated.
func (d *FileDescriptor) Fingerprint() (hasher.Result, bool) {
	d.hashMu.Lock()
	defer d.hashMu.Unlock()
	return d.hash, d.hashed
}

func (d *FileDescriptor) HashCalculated() bool {
	_, ok := d.Fingerprint()
	return ok
}

// SameContent reports whether both descriptors have calculated fingerprints
// that match and equal sizes. Paths play no part.
func (d *FileDescriptor) SameContent(other *FileDescriptor) bool {
	if d == nil || other == nil {
		return false
	}
	a, okA := d.Fingerprint()
	b, okB := other.Fingerprint()
	return okA && okB && d.size == other.size && a.Algorithm == b.Algorithm && a.Digest == b.Digest
}

func (d *FileDescriptor) Priority() classify.Priority {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.priority
}

func (d *FileDescriptor) IsProtected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.protected
}

// Guarded reports whether destructive actions are forbidden for the file.
func (d *FileDescriptor) Guarded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.guardedLocked()
}

func (d *FileDescriptor) guardedLocked() bool {
	return d.protected || d.priority == classify.Protected
}

// SetPriority fails with ErrProtectedDestructive when raising the priority
// to Protected would conflict with an already assigned destructive action.
func (d *FileDescriptor) SetPriority(p classify.Priority) error {
	if p < classify.VeryLow || p > classify.Protected {
		return fmt.Errorf("invalid priority %d", int(p))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p == classify.Protected && d.action.IsDestructive() {
		return fmt.Errorf("%w: %s", ErrProtectedDestructive, d.path)
	}
	d.priority = p
	return nil
}

func (d *FileDescriptor) SetProtected(protected bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if protected && d.action.IsDestructive() {
		return fmt.Errorf("%w: %s", ErrProtectedDestructive, d.path)
	}
	d.protected = protected
	return nil
}

// SetAction assigns an action and its reason. Assigning Delete or Recycle
// to a protected file is a caller defect and fails with
// ErrProtectedDestructive, leaving the descriptor unchanged.
func (d *FileDescriptor) SetAction(a Action, reason string) error {
	if !a.Valid() {
		return fmt.Errorf("invalid action %d", int(a))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if a.IsDestructive() && d.guardedLocked() {
		return fmt.Errorf("%w: %s %s", ErrProtectedDestructive, a, d.path)
	}
	d.action = a
	d.reason = reason
	return nil
}

func (d *FileDescriptor) SetTargetPath(target string) error {
	if target == "" {
		return fmt.Errorf("%w: empty target", ErrInvalidPath)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	d.mu.Lock()
	d.targetPath = abs
	d.mu.Unlock()
	return nil
}

func (d *FileDescriptor) Action() Action {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.action
}

func (d *FileDescriptor) Reason() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reason
}

func (d *FileDescriptor) TargetPath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.targetPath
}

func (d *FileDescriptor) ActionExecuted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.executed
}

func (d *FileDescriptor) ActionError() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.actionErr
}

// MarkExecuted records a successful execution of the current action.
func (d *FileDescriptor) MarkExecuted() {
	d.mu.Lock()
	d.executed = true
	d.actionErr = ""
	d.mu.Unlock()
}

// MarkFailed records the error of a failed execution. The action stays
// unexecuted so a later run may retry it.
func (d *FileDescriptor) MarkFailed(err error) {
	if err == nil {
		return
	}
	d.mu.Lock()
	d.actionErr = err.Error()
	d.mu.Unlock()
}

// Relocate points the descriptor at the file's new location after a move.
func (d *FileDescriptor) Relocate(newPath string) error {
	if newPath == "" || !filepath.IsAbs(newPath) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, newPath)
	}
	clean := filepath.Clean(newPath)
	d.mu.Lock()
	d.path = clean
	d.dir = filepath.Dir(clean)
	d.name = filepath.Base(clean)
	d.mu.Unlock()
	return nil
}
