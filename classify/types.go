package classify

import (
	"fmt"
	"strings"
	"time"
)

// Location is where a file lives, coarsely.
type Location int

const (
	Unknown Location = iota
	SystemDrive
	ExternalDrive
	NetworkDrive
	RemovableDrive
	CloudSync
	TempDirectory
	UserProfile
	ProgramFiles
	SystemDirectory
)

var locationNames = [...]string{
	Unknown:         "Unknown",
	SystemDrive:     "SystemDrive",
	ExternalDrive:   "ExternalDrive",
	NetworkDrive:    "NetworkDrive",
	RemovableDrive:  "RemovableDrive",
	CloudSync:       "CloudSync",
	TempDirectory:   "TempDirectory",
	UserProfile:     "UserProfile",
	ProgramFiles:    "ProgramFiles",
	SystemDirectory: "SystemDirectory",
}

func (l Location) String() string {
	if l < 0 || int(l) >= len(locationNames) {
		return fmt.Sprintf("Location(%d)", int(l))
	}
	return locationNames[l]
}

// ParseLocation is the inverse of Location.String, case-insensitive.
func ParseLocation(s string) (Location, error) {
	for i, name := range locationNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Location(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown location: %s", s)
}

// Priority orders how strongly a copy should be retained.
type Priority int

const (
	VeryLow Priority = iota + 1
	Low
	Normal
	High
	VeryHigh
	Protected
)

var priorityNames = [...]string{
	VeryLow:   "VeryLow",
	Low:       "Low",
	Normal:    "Normal",
	High:      "High",
	VeryHigh:  "VeryHigh",
	Protected: "Protected",
}

func (p Priority) String() string {
	if p < VeryLow || p > Protected {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

func ParsePriority(s string) (Priority, error) {
	for i := VeryLow; i <= Protected; i++ {
		if strings.EqualFold(priorityNames[i], strings.TrimSpace(s)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown priority: %s", s)
}

// ClampPriority maps an arbitrary score onto the six levels.
func ClampPriority(score int) Priority {
	if score < int(VeryLow) {
		return VeryLow
	}
	if score > int(Protected) {
		return Protected
	}
	return Priority(score)
}

type Timestamps struct {
	Created  time.Time
	Modified time.Time
	Accessed time.Time
}

// VolumeKind is the storage class reported for the volume holding a path.
type VolumeKind int

const (
	VolumeUnknown VolumeKind = iota
	VolumeFixed
	VolumeRemovable
	VolumeNetwork
)

func (k VolumeKind) String() string {
	switch k {
	case VolumeFixed:
		return "fixed"
	case VolumeRemovable:
		return "removable"
	case VolumeNetwork:
		return "network"
	default:
		return "unknown"
	}
}

type Volume struct {
	Root string
	Kind VolumeKind
	// Boot is set for the volume the operating system booted from.
	Boot bool
}

// VolumeResolver maps a path to the volume that holds it.
type VolumeResolver interface {
	Resolve(path string) (Volume, bool)
}

// StaticVolumes resolves paths against a fixed table, longest root first.
type StaticVolumes []Volume

func (s StaticVolumes) Resolve(path string) (Volume, bool) {
	best := -1
	for i, v := range s {
		if !hasPrefix(path, v.Root) {
			continue
		}
		if best < 0 || len(v.Root) > len(s[best].Root) {
			best = i
		}
	}
	if best < 0 {
		return Volume{}, false
	}
	return s[best], true
}
