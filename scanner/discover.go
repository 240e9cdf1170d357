package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"dupfinder/logger"
	"dupfinder/utils"

	"github.com/sirupsen/logrus"
)

// DiscoverOptions filters the files a scan considers.
type DiscoverOptions struct {
	Roots []string
	// Extensions, when non-empty, is an allow-list ("jpg", ".png").
	Extensions []string
	// ExcludeSubstrings drop files whose path relative to its root
	// contains any fragment, case-insensitively.
	ExcludeSubstrings []string
	IncludeGlobs      []string
	ExcludeGlobs      []string
	MinSize           int64
	// MaxSize of zero means unlimited.
	MaxSize       int64
	IncludeHidden bool
}

// Discover walks every root and returns the absolute paths of the regular
// files that pass the filters, sorted and without duplicates. Unreadable
// directories are logged and skipped; a missing root is an error.
func Discover(ctx context.Context, opts DiscoverOptions, log logrus.FieldLogger) ([]string, error) {
	log = logger.OrDiscard(log)
	if len(opts.Roots) == 0 {
		return nil, fmt.Errorf("%w: no roots", ErrInvalidPath)
	}
	matcher := utils.NewPatternMatcher(opts.IncludeGlobs, opts.ExcludeGlobs).
		WithExtensions(opts.Extensions).
		WithExcludeSubstrings(opts.ExcludeSubstrings)

	seen := make(map[string]struct{})
	var paths []string
	for _, root := range opts.Roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, absRoot)
		}

		err = walkTree(ctx, absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.WithError(err).WithField("path", path).Warn("failed to access path")
				return nil
			}
			if d == nil {
				return nil
			}
			if d.IsDir() {
				if path != absRoot && !opts.IncludeHidden && isHiddenName(d.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if !opts.IncludeHidden && isHiddenName(d.Name()) {
				return nil
			}
			if !matcher.ShouldIncludeRelative(path, utils.RelativeToBase(path, absRoot)) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				log.WithError(err).WithField("path", path).Debug("failed to stat file")
				return nil
			}
			if info.Size() < opts.MinSize {
				return nil
			}
			if opts.MaxSize > 0 && info.Size() > opts.MaxSize {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			seen[path] = struct{}{}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	log.WithField("files", len(paths)).Debug("discovery complete")
	return paths, nil
}

func isHiddenName(name string) bool {
	return len(name) > 1 && name[0] == '.' && name != ".."
}
