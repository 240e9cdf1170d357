//go:build windows

package scanner

import (
	"os"
	"strconv"

	"golang.org/x/sys/windows"
)

// fileIdentity is "<volume serial>:<file index>" in hex; hard links share
// it. Reading the index needs an open handle.
func fileIdentity(path string, _ os.FileInfo) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var data windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(windows.Handle(f.Fd()), &data); err != nil {
		return ""
	}
	index := uint64(data.FileIndexHigh)<<32 | uint64(data.FileIndexLow)
	return strconv.FormatUint(uint64(data.VolumeSerialNumber), 16) + ":" + strconv.FormatUint(index, 16)
}
