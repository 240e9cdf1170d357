package actions

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dupfinder/classify"
	"dupfinder/scanner"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realFile(t *testing.T, dir, name, content string, loc classify.Location) *scanner.FileDescriptor {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	d, err := scanner.NewFileDescriptor(scanner.Identity{Path: p, Size: int64(len(content))}, loc, classify.Normal)
	require.NoError(t, err)
	return d
}

func failingTrash() Trasher {
	return TrashFunc(func(string) error { return ErrTrashUnavailable })
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func TestEveryActionHasHandler(t *testing.T) {
	e := NewExecutor(ExecutorOptions{Trasher: failingTrash()}, nil)
	for _, a := range scanner.Actions() {
		assert.NotNil(t, e.handlers[a], a.String())
	}
}

func TestExecuteDelete(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	require.NoError(t, d.SetAction(scanner.ActionDelete, "test"))

	outcomes, err := NewExecutor(ExecutorOptions{Trasher: failingTrash()}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.False(t, exists(d.Path()))
	assert.True(t, d.ActionExecuted())
	assert.GreaterOrEqual(t, outcomes[0].Elapsed.Nanoseconds(), int64(0))
}

func TestDeleteAlreadyAbsentSucceeds(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	require.NoError(t, os.Remove(d.Path()))
	require.NoError(t, d.SetAction(scanner.ActionDelete, "test"))
	outcomes, err := NewExecutor(ExecutorOptions{Trasher: failingTrash()}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Success)
}

func TestRecycleFallsBackToDelete(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	require.NoError(t, d.SetAction(scanner.ActionRecycle, "test"))
	outcomes, err := NewExecutor(ExecutorOptions{Trasher: failingTrash()}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Success)
	assert.True(t, outcomes[0].Fallback)
	assert.False(t, exists(d.Path()))
}

func TestRecycleUsesTrash(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	require.NoError(t, d.SetAction(scanner.ActionRecycle, "test"))
	var trashed []string
	trash := TrashFunc(func(p string) error {
		trashed = append(trashed, p)
		return os.Rename(p, filepath.Join(dir, "trashed"))
	})
	outcomes, err := NewExecutor(ExecutorOptions{Trasher: trash}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Success)
	assert.False(t, outcomes[0].Fallback)
	assert.Equal(t, []string{d.Path()}, trashed)
}

func TestDryRunNeverMutates(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "moved")
	var files []*scanner.FileDescriptor
	for _, a := range scanner.Actions()[1:] {
		d := realFile(t, dir, a.String()+".txt", "payload-"+a.String(), classify.ExternalDrive)
		require.NoError(t, d.SetTargetPath(filepath.Join(target, a.String())))
		require.NoError(t, d.SetAction(a, "test"))
		files = append(files, d)
	}
	trash := TrashFunc(func(string) error { t.Fatal("trash called in dry run"); return nil })
	outcomes, err := NewExecutor(ExecutorOptions{Trasher: trash}, nil).Execute(context.Background(), files, true)
	require.NoError(t, err)
	require.Len(t, outcomes, len(files))
	for i, o := range outcomes {
		assert.True(t, o.Success)
		assert.True(t, o.DryRun)
		assert.False(t, files[i].ActionExecuted())
		data, err := os.ReadFile(files[i].Path())
		require.NoError(t, err)
		assert.Equal(t, "payload-"+files[i].Action().String(), string(data))
	}
	assert.False(t, exists(target))
}

func TestExecuteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	require.NoError(t, d.SetAction(scanner.ActionDelete, "test"))
	e := NewExecutor(ExecutorOptions{Trasher: failingTrash()}, nil)
	_, err := e.Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)

	// a file reappearing at the path must not be deleted a second time
	require.NoError(t, os.WriteFile(d.Path(), []byte("new"), 0o644))
	outcomes, err := e.Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.True(t, outcomes[0].AlreadyExecuted)
	assert.True(t, exists(d.Path()))
}

func TestNoneIsSkippedAndNilIsInputError(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	e := NewExecutor(ExecutorOptions{Trasher: failingTrash()}, nil)
	outcomes, err := e.Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	_, err = e.Execute(context.Background(), []*scanner.FileDescriptor{d, nil}, false)
	assert.ErrorIs(t, err, ErrNilDescriptor)
}

func TestMoveUpdatesDescriptor(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	original := d.Path()
	dest := filepath.Join(dir, "nested", "deeper", "b.txt")
	require.NoError(t, d.SetTargetPath(dest))
	require.NoError(t, d.SetAction(scanner.ActionMove, "test"))

	outcomes, err := NewExecutor(ExecutorOptions{Trasher: failingTrash()}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	require.True(t, outcomes[0].Success, outcomes[0].Error)
	assert.Equal(t, dest, d.Path())
	assert.Equal(t, "b.txt", d.Name())
	assert.False(t, exists(original))
	assert.True(t, exists(dest))
}

func TestMoveIntoExistingDirectoryAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()
	q := filepath.Join(dir, "q")
	require.NoError(t, os.MkdirAll(q, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(q, "a.txt"), []byte("other"), 0o644))
	d := realFile(t, dir, "src/a.txt", "data", classify.ExternalDrive)
	require.NoError(t, d.SetTargetPath(q))
	require.NoError(t, d.SetAction(scanner.ActionMove, "test"))

	outcomes, err := NewExecutor(ExecutorOptions{}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	require.True(t, outcomes[0].Success, outcomes[0].Error)
	assert.Equal(t, filepath.Join(q, "a (1).txt"), d.Path())
}

func TestMoveWithoutTargetFails(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	require.NoError(t, d.SetAction(scanner.ActionRename, "test"))
	outcomes, err := NewExecutor(ExecutorOptions{}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	assert.False(t, outcomes[0].Success)
	assert.Contains(t, outcomes[0].Error, ErrMissingTarget.Error())
	assert.False(t, d.ActionExecuted())
	assert.NotEmpty(t, d.ActionError())
	assert.True(t, exists(d.Path()))
}

func TestRenameRefusesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	realFile(t, dir, "b.txt", "taken", classify.ExternalDrive)
	require.NoError(t, d.SetTargetPath(filepath.Join(dir, "b.txt")))
	require.NoError(t, d.SetAction(scanner.ActionRename, "test"))
	outcomes, err := NewExecutor(ExecutorOptions{}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	assert.False(t, outcomes[0].Success)
	assert.Contains(t, outcomes[0].Error, ErrTargetExists.Error())
}

func TestCreateLink(t *testing.T) {
	dir := t.TempDir()
	keep := realFile(t, dir, "keep.txt", "same", classify.ExternalDrive)
	dup := realFile(t, dir, "dup.txt", "same", classify.ExternalDrive)
	require.NoError(t, dup.SetTargetPath(keep.Path()))
	require.NoError(t, dup.SetAction(scanner.ActionCreateLink, "test"))

	outcomes, err := NewExecutor(ExecutorOptions{}, nil).Execute(context.Background(), []*scanner.FileDescriptor{dup}, false)
	require.NoError(t, err)
	require.True(t, outcomes[0].Success, outcomes[0].Error)

	a, err := os.Stat(keep.Path())
	require.NoError(t, err)
	b, err := os.Stat(dup.Path())
	require.NoError(t, err)
	assert.True(t, os.SameFile(a, b))
}

func TestCompress(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("compress me "), 1000)
	d := realFile(t, dir, "big.log", string(content), classify.ExternalDrive)
	original := d.Path()
	require.NoError(t, d.SetAction(scanner.ActionCompress, "test"))

	outcomes, err := NewExecutor(ExecutorOptions{}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	require.True(t, outcomes[0].Success, outcomes[0].Error)
	assert.Equal(t, original+".zst", d.Path())
	assert.False(t, exists(original))

	f, err := os.Open(d.Path())
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(dec)
	require.NoError(t, err)
	assert.Equal(t, content, out.Bytes())
}

func TestArchiveIsUnsupported(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	require.NoError(t, d.SetAction(scanner.ActionArchive, "test"))
	outcomes, err := NewExecutor(ExecutorOptions{}, nil).Execute(context.Background(), []*scanner.FileDescriptor{d}, false)
	require.NoError(t, err)
	assert.False(t, outcomes[0].Success)
	assert.Contains(t, outcomes[0].Error, ErrUnsupportedAction.Error())
	assert.True(t, exists(d.Path()))
}

func TestBatchContinuesAfterFailureAndTally(t *testing.T) {
	dir := t.TempDir()
	bad := realFile(t, dir, "bad.txt", "x", classify.ExternalDrive)
	require.NoError(t, bad.SetAction(scanner.ActionArchive, "test"))
	good := realFile(t, dir, "good.txt", "12345", classify.ExternalDrive)
	require.NoError(t, good.SetAction(scanner.ActionRecycle, "test"))
	keep := realFile(t, dir, "keep.txt", "12345", classify.ExternalDrive)
	require.NoError(t, keep.SetAction(scanner.ActionKeep, "test"))

	outcomes, err := NewExecutor(ExecutorOptions{Trasher: failingTrash()}, nil).Execute(context.Background(), []*scanner.FileDescriptor{bad, good, keep}, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	report := Tally(outcomes)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Fallbacks)
	assert.Equal(t, int64(5), report.BytesFreed)
	assert.True(t, keep.ActionExecuted())
}

func TestExecuteCanceled(t *testing.T) {
	dir := t.TempDir()
	d := realFile(t, dir, "a.txt", "data", classify.ExternalDrive)
	require.NoError(t, d.SetAction(scanner.ActionDelete, "test"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes, err := NewExecutor(ExecutorOptions{}, nil).Execute(ctx, []*scanner.FileDescriptor{d}, false)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, outcomes)
	assert.True(t, exists(d.Path()))
}
