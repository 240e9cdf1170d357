package scanner

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const readDirBatch = 512

type pendingEntry struct {
	path  string
	entry fs.DirEntry
}

// walkTree visits root and everything below it depth first, in name order,
// without recursion. A directory that cannot be read is passed back to fn
// with the error; fs.SkipDir from fn prunes a directory. Symbolic links are
// reported but never followed.
func walkTree(ctx context.Context, root string, fn fs.WalkDirFunc) error {
	info, err := os.Stat(root)
	if err != nil {
		return fn(root, nil, err)
	}
	pending := []pendingEntry{{path: root, entry: fs.FileInfoToDirEntry(info)}}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if err := fn(next.path, next.entry, nil); err != nil {
			if errors.Is(err, fs.SkipDir) {
				continue
			}
			return err
		}
		if !next.entry.IsDir() {
			continue
		}

		children, err := readDirSorted(next.path)
		if err != nil {
			if ferr := fn(next.path, next.entry, err); ferr != nil && !errors.Is(ferr, fs.SkipDir) {
				return ferr
			}
			continue
		}
		for i := len(children) - 1; i >= 0; i-- {
			pending = append(pending, pendingEntry{
				path:  filepath.Join(next.path, children[i].Name()),
				entry: children[i],
			})
		}
	}
	return nil
}

// readDirSorted reads dir in batches so huge directories do not need one
// large allocation up front.
func readDirSorted(dir string) ([]fs.DirEntry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []fs.DirEntry
	for {
		batch, err := f.ReadDir(readDirBatch)
		entries = append(entries, batch...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}
