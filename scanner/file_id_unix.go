//go:build !windows

package scanner

import (
	"os"
	"strconv"
	"syscall"
)

// fileIdentity is "<device>:<inode>" in hex; hard links share it.
func fileIdentity(_ string, info os.FileInfo) string {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return ""
	}
	return strconv.FormatUint(uint64(st.Dev), 16) + ":" + strconv.FormatUint(uint64(st.Ino), 16)
}
