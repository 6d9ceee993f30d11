// Package sysinfo collects a host status snapshot for the status endpoint.
package sysinfo

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

type Snapshot struct {
	Hostname    string  `json:"hostname"`
	OS          string  `json:"os"`
	Platform    string  `json:"platform"`
	Uptime      uint64  `json:"uptime"`
	CPUCount    int     `json:"cpu_count"`
	RAMTotal    uint64  `json:"ram_total"`
	RAMUsed     uint64  `json:"ram_used"`
	RAMUsage    float64 `json:"ram_usage"`
	CollectedAt int64   `json:"collected_at"`
}

type Collector struct{}

func NewCollector() *Collector {
	return &Collector{}
}

// Collect gathers a best-effort snapshot; individual probe failures leave
// their fields zero rather than failing the whole snapshot.
func (c *Collector) Collect() *Snapshot {
	snapshot := &Snapshot{
		CollectedAt: time.Now().Unix(),
	}

	if count, err := cpu.Counts(true); err == nil {
		snapshot.CPUCount = count
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		snapshot.RAMTotal = memInfo.Total
		snapshot.RAMUsed = memInfo.Used
		snapshot.RAMUsage = memInfo.UsedPercent
	}

	if hostInfo, err := host.Info(); err == nil {
		snapshot.Hostname = hostInfo.Hostname
		snapshot.OS = hostInfo.OS
		snapshot.Platform = hostInfo.Platform
		snapshot.Uptime = hostInfo.Uptime
	}

	return snapshot
}
