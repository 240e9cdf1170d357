//go:build linux || freebsd || openbsd || netbsd

package actions

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// trashHome is the freedesktop.org home trash directory.
var trashHome = func() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "Trash"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "Trash"), nil
}

// moveToTrash follows the freedesktop.org trash layout: the file goes to
// files/ and a .trashinfo record with its original path to info/. Only the
// home trash is used; files on other filesystems fail and the caller falls
// back to deletion.
func moveToTrash(path string) error {
	root, err := trashHome()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrashUnavailable, err)
	}
	filesDir := filepath.Join(root, "files")
	infoDir := filepath.Join(root, "info")
	if err := os.MkdirAll(filesDir, 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(infoDir, 0o700); err != nil {
		return err
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := base
	var info *os.File
	for i := 1; ; i, name = i+1, fmt.Sprintf("%s.%d%s", stem, i, ext) {
		_, statErr := os.Lstat(filepath.Join(filesDir, name))
		if statErr == nil {
			continue
		}
		if !os.IsNotExist(statErr) {
			return statErr
		}
		info, err = os.OpenFile(filepath.Join(infoDir, name+".trashinfo"), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return err
		}
	}

	escaped := (&url.URL{Path: path}).EscapedPath()
	record := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n", escaped, time.Now().Format("2006-01-02T15:04:05"))
	_, werr := info.WriteString(record)
	cerr := info.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(path, filepath.Join(filesDir, name))
	}
	if werr != nil {
		_ = os.Remove(filepath.Join(infoDir, name+".trashinfo"))
		return werr
	}
	return nil
}
