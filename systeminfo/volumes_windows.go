//go:build windows
// +build windows

package systeminfo

import (
	"os"
	"strings"

	"dupfinder/classify"

	"golang.org/x/sys/windows"
)

func platformVolumeKind(mountpoint string) (classify.VolumeKind, bool) {
	root := mountpoint
	if !strings.HasSuffix(root, `\`) {
		root += `\`
	}
	ptr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return classify.VolumeUnknown, false
	}
	switch windows.GetDriveType(ptr) {
	case windows.DRIVE_FIXED:
		return classify.VolumeFixed, true
	case windows.DRIVE_REMOVABLE, windows.DRIVE_CDROM:
		return classify.VolumeRemovable, true
	case windows.DRIVE_REMOTE:
		return classify.VolumeNetwork, true
	default:
		return classify.VolumeUnknown, false
	}
}

func isBootVolume(mountpoint string) bool {
	sysDrive := os.Getenv("SystemDrive")
	if sysDrive == "" {
		sysDrive = "C:"
	}
	return strings.EqualFold(strings.TrimSuffix(mountpoint, `\`), sysDrive)
}
