package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"dupfinder/classify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverFilters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "b.jpg"), "hello")
	writeFile(t, filepath.Join(root, "tiny.txt"), "x")
	writeFile(t, filepath.Join(root, "node_modules", "c.txt"), "hello")
	writeFile(t, filepath.Join(root, "sub", "d.TXT"), "hello")
	writeFile(t, filepath.Join(root, ".git", "e.txt"), "hello")
	writeFile(t, filepath.Join(root, ".hidden.txt"), "hello")

	paths, err := Discover(context.Background(), DiscoverOptions{
		Roots:             []string{root},
		Extensions:        []string{"txt"},
		ExcludeSubstrings: []string{"NODE_MODULES"},
		MinSize:           2,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "d.TXT"),
	}, paths)

	paths, err = Discover(context.Background(), DiscoverOptions{
		Roots:         []string{root, root},
		IncludeHidden: true,
		MaxSize:       3,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "tiny.txt")}, paths)
}

func TestDiscoverExcludesRelativeToRootOnly(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "backup")
	writeFile(t, filepath.Join(parent, "keep.txt"), "data")
	writeFile(t, filepath.Join(parent, "backup", "drop.txt"), "data")

	paths, err := Discover(context.Background(), DiscoverOptions{
		Roots:             []string{parent},
		ExcludeSubstrings: []string{"backup"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(parent, "keep.txt")}, paths)
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := Discover(context.Background(), DiscoverOptions{Roots: []string{filepath.Join(t.TempDir(), "nope")}}, nil)
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = Discover(context.Background(), DiscoverOptions{}, nil)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestDiscoverCanceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Discover(ctx, DiscoverOptions{Roots: []string{root}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildPreservesOrderAndCollectsFailures(t *testing.T) {
	root := t.TempDir()
	var paths []string
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		p := filepath.Join(root, name)
		writeFile(t, p, name)
		paths = append(paths, p)
	}
	missing := filepath.Join(root, "gone.txt")
	paths = append(paths, missing, root)

	var progress atomic.Int32
	b := NewBuilder(nil, BuildOptions{
		Concurrency: 3,
		OnProgress:  func() { progress.Add(1) },
	}, nil)
	descriptors, failures, err := b.Build(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, descriptors, 3)
	for i, d := range descriptors {
		assert.Equal(t, paths[i], d.Path())
		assert.Equal(t, classify.Normal, d.Priority())
	}
	require.Len(t, failures, 2)
	assert.Equal(t, missing, failures[0].Path)
	assert.ErrorIs(t, failures[1].Err, ErrNotRegularFile)
	assert.Equal(t, int32(5), progress.Load())
}

func TestBuildOneClassifiesAndProtects(t *testing.T) {
	root := t.TempDir()
	ro := filepath.Join(root, "locked.txt")
	writeFile(t, ro, "content")
	require.NoError(t, os.Chmod(ro, 0o444))
	t.Cleanup(func() { _ = os.Chmod(ro, 0o644) })
	png := filepath.Join(root, "img.bin")
	writeFile(t, png, "\x89PNG\r\n\x1a\n0000")

	c := classify.New(classify.Environment{
		Volumes: classify.StaticVolumes{{Root: root, Kind: classify.VolumeRemovable}},
	})
	b := NewBuilder(c, BuildOptions{ProtectReadOnly: true, DetectMimeType: true, ProtectGlobs: []string{"*.bin"}}, nil)

	d, err := b.BuildOne(ro)
	require.NoError(t, err)
	assert.Equal(t, classify.RemovableDrive, d.Location())
	assert.True(t, d.ReadOnly())
	assert.True(t, d.IsProtected())
	assert.False(t, d.Times().Modified.IsZero())

	d, err = b.BuildOne(png)
	require.NoError(t, err)
	assert.Equal(t, "image/png", d.MimeType())
	assert.True(t, d.IsProtected())
}
