package classify

import (
	"os"
	"path/filepath"
	"runtime"
)

var defaultCloudSyncMarkers = []string{
	"Dropbox",
	"OneDrive",
	"Google Drive",
	"iCloud Drive",
	"Nextcloud",
	"pCloud Drive",
}

// DefaultEnvironment builds an Environment for the running host. Volumes may
// be nil, in which case only BootRoot decides SystemDrive.
func DefaultEnvironment(volumes VolumeResolver) Environment {
	env := Environment{
		CloudSyncMarkers: append([]string(nil), defaultCloudSyncMarkers...),
		Volumes:          volumes,
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		env.UserProfileRoots = []string{home}
	}
	tmp := os.TempDir()

	switch runtime.GOOS {
	case "windows":
		sysDrive := os.Getenv("SystemDrive")
		if sysDrive == "" {
			sysDrive = "C:"
		}
		env.BootRoot = sysDrive + `\`
		env.TempMarkers = []string{`/temp/`, `/tmp/`}
		env.TempRoots = []string{tmp}
		env.ProgramFilesRoots = nonEmpty(os.Getenv("ProgramFiles"), os.Getenv("ProgramFiles(x86)"), os.Getenv("ProgramW6432"))
		env.SystemRoots = nonEmpty(os.Getenv("SystemRoot"), os.Getenv("windir"))
	case "darwin":
		env.BootRoot = "/"
		env.TempMarkers = []string{"/tmp/", "/private/var/folders/"}
		env.TempRoots = []string{tmp}
		env.ProgramFilesRoots = []string{"/Applications", "/opt/homebrew"}
		env.SystemRoots = []string{"/System", "/Library", "/usr", "/bin", "/sbin", "/private/etc"}
		if len(env.UserProfileRoots) > 0 {
			env.CloudSyncMarkers = append(env.CloudSyncMarkers, "Mobile Documents")
			env.SystemRoots = append(env.SystemRoots, filepath.Join(env.UserProfileRoots[0], "Library"))
		}
	default:
		env.BootRoot = "/"
		env.TempMarkers = []string{"/tmp/", "/var/tmp/"}
		env.TempRoots = []string{tmp}
		env.ProgramFilesRoots = []string{"/opt", "/usr/local"}
		env.SystemRoots = []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc", "/boot", "/proc", "/sys", "/dev"}
	}
	return env
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
