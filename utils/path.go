package utils

import (
	"path/filepath"
	"runtime"
	"strings"
)

// IsPathWithin returns true if the given path is within any of the roots.
// Symlinks are resolved on both sides before comparing.
func IsPathWithin(path string, roots []string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	absPath, err := filepath.Abs(resolved)
	if err != nil {
		return false
	}
	for _, root := range roots {
		rResolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			rResolved = root
		}
		absRoot, err := filepath.Abs(rResolved)
		if err != nil {
			continue
		}
		if HasPathPrefix(absPath, absRoot) {
			return true
		}
	}
	return false
}

// HasPathPrefix reports whether path equals root or lies below it. The check
// is purely lexical and case-insensitive on Windows.
func HasPathPrefix(path, root string) bool {
	if path == "" || root == "" {
		return false
	}
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// PathSegments splits a path below its volume name into non-empty components.
func PathSegments(path string) []string {
	path = filepath.ToSlash(strings.TrimPrefix(path, filepath.VolumeName(path)))
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." {
			segments = append(segments, p)
		}
	}
	return segments
}

// PathDepth is the number of components below the volume root, file name
// included: /a/b/c.txt has depth 3.
func PathDepth(path string) int {
	return len(PathSegments(filepath.Clean(path)))
}

// RelativeToBase returns path relative to base when path lies below base,
// and the cleaned path otherwise.
func RelativeToBase(path, base string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = filepath.Clean(path)
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		absBase = filepath.Clean(base)
	}
	if !HasPathPrefix(absPath, absBase) {
		return absPath
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return absPath
	}
	return rel
}
