package systeminfo

import (
	"context"
	"errors"
	"testing"

	"dupfinder/classify"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeKindFromFstype(t *testing.T) {
	cases := []struct {
		part disk.PartitionStat
		want classify.VolumeKind
	}{
		{disk.PartitionStat{Device: "server:/export", Mountpoint: "/mnt/nas", Fstype: "nfs4"}, classify.VolumeNetwork},
		{disk.PartitionStat{Device: "//host/share", Mountpoint: "/mnt/smb", Fstype: "unknownfs"}, classify.VolumeNetwork},
		{disk.PartitionStat{Device: "tmpfs", Mountpoint: "/run", Fstype: "tmpfs"}, classify.VolumeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, volumeKind(tc.part), tc.part.Mountpoint)
	}
}

func TestLoadVolumesUsesPartitionList(t *testing.T) {
	orig := listPartitions
	defer func() { listPartitions = orig }()

	listPartitions = func(context.Context) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "server:/export", Mountpoint: "/mnt/nas", Fstype: "nfs"},
			{Device: "server:/export", Mountpoint: "/mnt/nas", Fstype: "nfs"},
			{Device: "none", Mountpoint: "", Fstype: "none"},
		}, nil
	}
	table, err := LoadVolumes(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, table.Volumes(), 1)

	vol, ok := table.Resolve("/mnt/nas/share/file.txt")
	require.True(t, ok)
	assert.Equal(t, classify.VolumeNetwork, vol.Kind)

	listPartitions = func(context.Context) ([]disk.PartitionStat, error) {
		return nil, errors.New("boom")
	}
	_, err = LoadVolumes(context.Background(), nil)
	assert.Error(t, err)
}

func TestNilVolumeTable(t *testing.T) {
	var table *VolumeTable
	_, ok := table.Resolve("/x")
	assert.False(t, ok)
	assert.Nil(t, table.Volumes())
}

func TestHostFallbacks(t *testing.T) {
	info := Host(context.Background())
	assert.NotEmpty(t, info.OS)
	assert.Greater(t, info.LogicalCPUs, 0)
}
