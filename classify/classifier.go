// Package classify derives a file's Location and retention Priority from its
// path, size, and timestamps. Classification reads nothing from the process
// environment; everything comes from the Environment it is built with.
package classify

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"dupfinder/utils"
)

const (
	recentWindow    = 30 * 24 * time.Hour
	staleWindow     = 365 * 24 * time.Hour
	largeFileSize   = 100 * 1024 * 1024
	shallowMaxDepth = 3
	deepMinDepth    = 9
)

// Environment describes the host layout a Classifier matches paths against.
type Environment struct {
	// TempMarkers are path fragments (e.g. "/tmp/") matched anywhere in
	// the path, case-insensitively.
	TempMarkers       []string
	TempRoots         []string
	ProgramFilesRoots []string
	SystemRoots       []string
	UserProfileRoots  []string
	// CloudSyncMarkers are directory names of sync clients ("Dropbox").
	CloudSyncMarkers []string
	// BootRoot is compared against the resolved volume root when the
	// resolver does not flag boot volumes itself.
	BootRoot string
	Volumes  VolumeResolver
	Now      func() time.Time
}

// Classifier is safe for concurrent use once built.
type Classifier struct {
	env          Environment
	tempMarkers  *utils.MarkerSet
	cloudMarkers *utils.MarkerSet
	nameMarkers  *utils.MarkerSet
	now          func() time.Time
}

func New(env Environment) *Classifier {
	now := env.Now
	if now == nil {
		now = time.Now
	}
	cloud := make([]string, 0, len(env.CloudSyncMarkers))
	for _, m := range env.CloudSyncMarkers {
		m = strings.Trim(filepath.ToSlash(m), "/")
		if m != "" {
			cloud = append(cloud, "/"+m+"/")
		}
	}
	temp := make([]string, 0, len(env.TempMarkers))
	for _, m := range env.TempMarkers {
		temp = append(temp, filepath.ToSlash(m))
	}
	return &Classifier{
		env:          env,
		tempMarkers:  utils.NewMarkerSet(temp),
		cloudMarkers: utils.NewMarkerSet(cloud),
		nameMarkers:  utils.NewMarkerSet([]string{"copy", "backup"}),
		now:          now,
	}
}

// Classify returns the location and priority of a file. The result depends
// only on the arguments and the Environment.
func (c *Classifier) Classify(path string, size int64, ts Timestamps) (Location, Priority) {
	loc := c.Locate(path)
	return loc, c.score(path, size, ts, loc)
}

// Locate resolves the Location of path; the first matching rule wins.
func (c *Classifier) Locate(path string) Location {
	slashed := filepath.ToSlash(path)
	switch {
	case c.tempMarkers.Contains(slashed) || underAny(path, c.env.TempRoots):
		return TempDirectory
	case underAny(path, c.env.ProgramFilesRoots):
		return ProgramFiles
	case underAny(path, c.env.SystemRoots):
		return SystemDirectory
	case c.cloudMarkers.Contains(slashed):
		return CloudSync
	case underAny(path, c.env.UserProfileRoots):
		return UserProfile
	}

	if c.env.Volumes == nil {
		if c.env.BootRoot != "" && hasPrefix(path, c.env.BootRoot) {
			return SystemDrive
		}
		return Unknown
	}
	vol, ok := c.env.Volumes.Resolve(path)
	if !ok {
		return Unknown
	}
	if vol.Boot || (c.env.BootRoot != "" && samePath(vol.Root, c.env.BootRoot)) {
		return SystemDrive
	}
	switch vol.Kind {
	case VolumeNetwork:
		return NetworkDrive
	case VolumeRemovable:
		return RemovableDrive
	case VolumeFixed:
		return ExternalDrive
	default:
		return Unknown
	}
}

func (c *Classifier) score(path string, size int64, ts Timestamps, loc Location) Priority {
	if loc == SystemDirectory || loc == ProgramFiles {
		return Protected
	}

	score := int(Normal)
	now := c.now()
	depth := utils.PathDepth(path)

	if loc == UserProfile {
		score++
	}
	if !ts.Modified.IsZero() && now.Sub(ts.Modified) <= recentWindow {
		score++
	}
	if depth <= shallowMaxDepth {
		score++
	}
	if size > largeFileSize {
		score++
	}

	if loc == TempDirectory {
		score -= 2
	}
	score -= len(c.nameMarkers.Matches(filepath.Base(path)))
	if !ts.Accessed.IsZero() && now.Sub(ts.Accessed) > staleWindow {
		score--
	}
	if depth >= deepMinDepth {
		score--
	}
	return ClampPriority(score)
}

func underAny(path string, roots []string) bool {
	for _, root := range roots {
		if hasPrefix(path, root) {
			return true
		}
	}
	return false
}

func hasPrefix(path, root string) bool {
	if root == "" {
		return false
	}
	return utils.HasPathPrefix(path, root)
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
