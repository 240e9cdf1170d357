package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPathWithin(t *testing.T) {
	root := t.TempDir()
	child := filepath.Join(root, "a", "b.txt")
	outside := filepath.Join(filepath.Dir(root), "outside.txt")

	assert.True(t, IsPathWithin(child, []string{root}))
	assert.False(t, IsPathWithin(outside, []string{root}))
}

func TestIsPathWithinMultipleRoots(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	inB := filepath.Join(rootB, "nested", "file.txt")
	assert.True(t, IsPathWithin(inB, []string{rootA, rootB}))
}

func TestHasPathPrefix(t *testing.T) {
	root := filepath.FromSlash("/data/photos")
	cases := []struct {
		path string
		want bool
	}{
		{"/data/photos", true},
		{"/data/photos/2024/a.jpg", true},
		{"/data/photos-old/a.jpg", false},
		{"/data", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HasPathPrefix(filepath.FromSlash(tc.path), root), tc.path)
	}
}

func TestPathDepth(t *testing.T) {
	cases := map[string]int{
		"/a.txt":                 1,
		"/a/b/c.txt":             3,
		"/a/b/c/d/e/f/g/h/i.txt": 9,
		"/a//b/./c.txt":          3,
	}
	for in, want := range cases {
		assert.Equal(t, want, PathDepth(filepath.FromSlash(in)), in)
	}
}

func TestRelativeToBase(t *testing.T) {
	base := t.TempDir()
	inside := filepath.Join(base, "cache", "x.bin")
	assert.Equal(t, filepath.Join("cache", "x.bin"), RelativeToBase(inside, base))
	outside := filepath.Join(filepath.Dir(base), "y.bin")
	assert.Equal(t, outside, RelativeToBase(outside, base), "outside files keep their absolute path")
}
