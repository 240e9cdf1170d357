package systeminfo

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// HostInfo identifies the machine a scan ran on.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	LogicalCPUs     int    `json:"logical_cpus"`
}

// Host never fails; fields it cannot determine fall back to runtime values.
func Host(ctx context.Context) HostInfo {
	info := HostInfo{OS: runtime.GOOS, LogicalCPUs: LogicalCPUs(ctx)}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		if h.OS != "" {
			info.OS = h.OS
		}
	}
	return info
}

// LogicalCPUs reports logical cores via gopsutil, or runtime.NumCPU.
func LogicalCPUs(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
