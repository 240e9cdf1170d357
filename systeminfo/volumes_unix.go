//go:build !windows
// +build !windows

package systeminfo

import (
	"dupfinder/classify"

	"golang.org/x/sys/unix"
)

var bootPath = "/"

func platformVolumeKind(string) (classify.VolumeKind, bool) {
	return classify.VolumeUnknown, false
}

// isBootVolume compares device numbers so that the macOS data volume and
// bind mounts of the root filesystem count as the boot volume.
func isBootVolume(mountpoint string) bool {
	if mountpoint == bootPath {
		return true
	}
	var root, mnt unix.Stat_t
	if err := unix.Stat(bootPath, &root); err != nil {
		return false
	}
	if err := unix.Stat(mountpoint, &mnt); err != nil {
		return false
	}
	return root.Dev == mnt.Dev
}
