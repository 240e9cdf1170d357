package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"dupfinder/classify"
	"dupfinder/hasher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFingerprinter struct {
	calls  atomic.Int32
	digest string
	err    error
}

func (c *countingFingerprinter) Fingerprint(_ context.Context, _ string) (hasher.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return hasher.Result{}, c.err
	}
	return hasher.Result{Algorithm: hasher.SHA256, Digest: c.digest}, nil
}

func absPath(t *testing.T, parts ...string) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join(append([]string{string(filepath.Separator)}, parts...)...))
	require.NoError(t, err)
	return p
}

func newDescriptor(t *testing.T, path string, size int64, prio classify.Priority) *FileDescriptor {
	t.Helper()
	d, err := NewFileDescriptor(Identity{Path: path, Size: size}, classify.ExternalDrive, prio)
	require.NoError(t, err)
	return d
}

func TestNewFileDescriptorRejectsRelativePath(t *testing.T) {
	_, err := NewFileDescriptor(Identity{Path: "rel/a.txt"}, classify.Unknown, classify.Normal)
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = NewFileDescriptor(Identity{Path: absPath(t, "a"), Size: -1}, classify.Unknown, classify.Normal)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestDescriptorIdentityFields(t *testing.T) {
	p := absPath(t, "data", "photos", "a.jpg")
	d := newDescriptor(t, p, 42, classify.Normal)
	assert.Equal(t, p, d.Path())
	assert.Equal(t, filepath.Dir(p), d.Dir())
	assert.Equal(t, "a.jpg", d.Name())
	assert.Equal(t, int64(42), d.Size())
	assert.Equal(t, ActionNone, d.Action())
	assert.False(t, d.HashCalculated())
}

func TestEnsureFingerprintComputesOnce(t *testing.T) {
	d := newDescriptor(t, absPath(t, "a"), 10, classify.Normal)
	fp := &countingFingerprinter{digest: "abc"}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.EnsureFingerprint(context.Background(), fp)
			assert.NoError(t, err)
			assert.Equal(t, "SHA256:abc", res.String())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fp.calls.Load())
	assert.True(t, d.HashCalculated())

	fp.digest = "changed"
	res, err := d.EnsureFingerprint(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Digest)
}

func TestEnsureFingerprintErrorIsNotCached(t *testing.T) {
	d := newDescriptor(t, absPath(t, "a"), 10, classify.Normal)
	fp := &countingFingerprinter{err: context.Canceled}
	_, err := d.EnsureFingerprint(context.Background(), fp)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, d.HashCalculated())

	fp.err = nil
	fp.digest = "ff"
	_, err = d.EnsureFingerprint(context.Background(), fp)
	require.NoError(t, err)
	assert.True(t, d.HashCalculated())
}

func TestRestoreFingerprint(t *testing.T) {
	d := newDescriptor(t, absPath(t, "a"), 10, classify.Normal)
	require.NoError(t, d.RestoreFingerprint(hasher.Result{Algorithm: hasher.MD5, Digest: "00"}))
	assert.ErrorIs(t, d.RestoreFingerprint(hasher.Result{Algorithm: hasher.MD5, Digest: "01"}), ErrFingerprintSet)
	assert.Error(t, newDescriptor(t, absPath(t, "b"), 1, classify.Normal).RestoreFingerprint(hasher.Result{}))
}

func TestSameContentIgnoresPath(t *testing.T) {
	a := newDescriptor(t, absPath(t, "x", "a"), 10, classify.Normal)
	b := newDescriptor(t, absPath(t, "y", "b"), 10, classify.Normal)
	c := newDescriptor(t, absPath(t, "z", "c"), 11, classify.Normal)
	assert.False(t, a.SameContent(b), "uncalculated fingerprints never match")

	for _, d := range []*FileDescriptor{a, b, c} {
		require.NoError(t, d.RestoreFingerprint(hasher.Result{Algorithm: hasher.SHA256, Digest: "aa"}))
	}
	assert.True(t, a.SameContent(b))
	assert.False(t, a.SameContent(c))
	assert.False(t, a.SameContent(nil))
}

func TestSetActionRefusesDestructiveOnProtected(t *testing.T) {
	d := newDescriptor(t, absPath(t, "sys", "a"), 10, classify.Protected)
	for _, a := range []Action{ActionDelete, ActionRecycle} {
		err := d.SetAction(a, "nope")
		assert.ErrorIs(t, err, ErrProtectedDestructive)
	}
	assert.Equal(t, ActionNone, d.Action())
	require.NoError(t, d.SetAction(ActionKeep, "protected file"))

	flagged := newDescriptor(t, absPath(t, "b"), 10, classify.Low)
	require.NoError(t, flagged.SetProtected(true))
	assert.ErrorIs(t, flagged.SetAction(ActionDelete, ""), ErrProtectedDestructive)
}

func TestProtectingAfterDestructiveActionFails(t *testing.T) {
	d := newDescriptor(t, absPath(t, "a"), 10, classify.Low)
	require.NoError(t, d.SetAction(ActionRecycle, "duplicate"))
	assert.ErrorIs(t, d.SetPriority(classify.Protected), ErrProtectedDestructive)
	assert.ErrorIs(t, d.SetProtected(true), ErrProtectedDestructive)
	assert.Equal(t, classify.Low, d.Priority())
	require.NoError(t, d.SetPriority(classify.High))
	assert.Error(t, d.SetPriority(classify.Priority(0)))
}

func TestExecutionStateAndRelocate(t *testing.T) {
	d := newDescriptor(t, absPath(t, "a", "old.txt"), 10, classify.Normal)
	d.MarkFailed(errors.New("denied"))
	assert.Equal(t, "denied", d.ActionError())
	assert.False(t, d.ActionExecuted())
	d.MarkExecuted()
	assert.True(t, d.ActionExecuted())
	assert.Empty(t, d.ActionError())

	dest := absPath(t, "b", "new.txt")
	require.NoError(t, d.Relocate(dest))
	assert.Equal(t, dest, d.Path())
	assert.Equal(t, "new.txt", d.Name())
	assert.Equal(t, filepath.Dir(dest), d.Dir())
	assert.ErrorIs(t, d.Relocate("relative"), ErrInvalidPath)
	assert.ErrorIs(t, d.SetTargetPath(""), ErrInvalidPath)
}

func TestActionEnum(t *testing.T) {
	assert.True(t, ActionDelete.IsDestructive())
	assert.True(t, ActionRecycle.IsDestructive())
	assert.False(t, ActionMove.IsDestructive())
	assert.True(t, ActionRename.NeedsTarget())
	assert.Equal(t, "CreateLink", ActionCreateLink.String())
	a, err := ParseAction("recycle")
	require.NoError(t, err)
	assert.Equal(t, ActionRecycle, a)
	_, err = ParseAction("shred")
	assert.Error(t, err)
	assert.Len(t, Actions(), 10)

	text, err := ActionArchive.MarshalText()
	require.NoError(t, err)
	var back Action
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, ActionArchive, back)
}

func TestRecordSnapshot(t *testing.T) {
	d := newDescriptor(t, absPath(t, "a", "b.txt"), 7, classify.High)
	require.NoError(t, d.RestoreFingerprint(hasher.Result{Algorithm: hasher.SHA256, Digest: "ab"}))
	require.NoError(t, d.SetAction(ActionRecycle, "duplicate auto-detected"))
	r := d.Record()
	assert.Equal(t, "SHA256:ab", r.Fingerprint)
	assert.Equal(t, "High", r.Priority)
	assert.Equal(t, "ExternalDrive", r.Location)
	assert.Equal(t, ActionRecycle, r.Action)
	assert.Equal(t, "b.txt", r.Name)
}
