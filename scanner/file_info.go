package scanner

import (
	"io"
	"os"

	"github.com/h2non/filetype"
)

const sniffSize = 261

func isHidden(info os.FileInfo) bool {
	return isHiddenName(info.Name())
}

func isReadOnly(info os.FileInfo) bool {
	return info.Mode().Perm()&0o222 == 0
}

// sniffMimeType inspects the file header; unknown content reports "".
func sniffMimeType(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	kind, err := filetype.Match(buf[:n])
	if err != nil || kind == filetype.Unknown {
		return "", nil
	}
	return kind.MIME.Value, nil
}
