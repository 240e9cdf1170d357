// Package systeminfo probes the host for the facts classification needs:
// mounted volumes, their storage class, and which one the system booted from.
package systeminfo

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"dupfinder/classify"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
)

var networkFSTypes = map[string]struct{}{
	"nfs":        {},
	"nfs4":       {},
	"cifs":       {},
	"smbfs":      {},
	"smb3":       {},
	"sshfs":      {},
	"fuse.sshfs": {},
	"afpfs":      {},
	"webdav":     {},
	"davfs":      {},
	"9p":         {},
	"ceph":       {},
	"glusterfs":  {},
}

var removableMountPrefixes = []string{"/media", "/run/media", "/Volumes", "/mnt/usb"}

var listPartitions = func(ctx context.Context) ([]disk.PartitionStat, error) {
	return disk.PartitionsWithContext(ctx, true)
}

// VolumeTable is a snapshot of mounted volumes. It implements
// classify.VolumeResolver.
type VolumeTable struct {
	volumes classify.StaticVolumes
}

// LoadVolumes snapshots the host's mounted partitions. Pseudo filesystems
// are kept; they simply resolve to VolumeUnknown.
func LoadVolumes(ctx context.Context, log logrus.FieldLogger) (*VolumeTable, error) {
	parts, err := listPartitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	table := NewVolumeTable(parts)
	if log != nil {
		log.WithField("volumes", len(table.volumes)).Debug("volume table loaded")
	}
	return table, nil
}

func NewVolumeTable(parts []disk.PartitionStat) *VolumeTable {
	seen := make(map[string]struct{}, len(parts))
	vols := make(classify.StaticVolumes, 0, len(parts))
	for _, p := range parts {
		root := p.Mountpoint
		if root == "" {
			continue
		}
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		vols = append(vols, classify.Volume{
			Root: root,
			Kind: volumeKind(p),
			Boot: isBootVolume(root),
		})
	}
	sort.Slice(vols, func(i, j int) bool { return vols[i].Root < vols[j].Root })
	return &VolumeTable{volumes: vols}
}

func (t *VolumeTable) Resolve(path string) (classify.Volume, bool) {
	if t == nil {
		return classify.Volume{}, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return t.volumes.Resolve(abs)
}

func (t *VolumeTable) Volumes() []classify.Volume {
	if t == nil {
		return nil
	}
	return append([]classify.Volume(nil), t.volumes...)
}

func volumeKind(p disk.PartitionStat) classify.VolumeKind {
	fstype := strings.ToLower(p.Fstype)
	if _, ok := networkFSTypes[fstype]; ok {
		return classify.VolumeNetwork
	}
	if strings.HasPrefix(p.Device, "//") || strings.HasPrefix(p.Device, `\\`) {
		return classify.VolumeNetwork
	}
	if kind, ok := platformVolumeKind(p.Mountpoint); ok {
		return kind
	}
	for _, prefix := range removableMountPrefixes {
		if p.Mountpoint != prefix && strings.HasPrefix(p.Mountpoint, prefix+"/") {
			return classify.VolumeRemovable
		}
	}
	if strings.HasPrefix(p.Device, "/dev/") {
		return classify.VolumeFixed
	}
	return classify.VolumeUnknown
}
