package monitoring

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage is one sample of process and host resources
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsedMB  float64 `json:"memoryUsedMb"`
	MemoryTotalMB float64 `json:"memoryTotalMb"`
	MemoryPercent float64 `json:"memoryPercent"`
	NumGoroutines int     `json:"numGoroutines"`
	DiskFreeGB    float64 `json:"diskFreeGb"`
	DiskUsedPct   float64 `json:"diskUsedPercent"`
}

// Monitor samples resource usage of the current process and the disk holding the work root
type Monitor struct {
	workRoot string
	proc     *process.Process
}

// NewMonitor creates a monitor for the current process
func NewMonitor(workRoot string) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("error getting process: %v", err)
	}
	return &Monitor{workRoot: workRoot, proc: proc}, nil
}

// Snapshot returns the current resource usage
func (m *Monitor) Snapshot() (ResourceUsage, error) {
	var usage ResourceUsage

	// Get CPU usage
	cpuPercent, err := m.proc.CPUPercent()
	if err != nil {
		return usage, fmt.Errorf("error getting CPU usage: %v", err)
	}
	usage.CPUPercent = cpuPercent

	// Get memory usage
	virtualMem, err := mem.VirtualMemory()
	if err != nil {
		return usage, fmt.Errorf("error getting memory info: %v", err)
	}

	procMem, err := m.proc.MemoryInfo()
	if err != nil {
		return usage, fmt.Errorf("error getting process memory: %v", err)
	}

	usage.MemoryUsedMB = float64(procMem.RSS) / 1024 / 1024
	usage.MemoryTotalMB = float64(virtualMem.Total) / 1024 / 1024
	if virtualMem.Total > 0 {
		usage.MemoryPercent = float64(procMem.RSS) / float64(virtualMem.Total) * 100
	}

	usage.NumGoroutines = runtime.NumGoroutine()

	if m.workRoot != "" {
		du, err := disk.Usage(m.workRoot)
		if err != nil {
			return usage, fmt.Errorf("error getting disk usage for %s: %v", m.workRoot, err)
		}
		usage.DiskFreeGB = float64(du.Free) / 1024 / 1024 / 1024
		usage.DiskUsedPct = du.UsedPercent
	}

	return usage, nil
}

// LogUsage logs a single resource sample
func (m *Monitor) LogUsage() {
	usage, err := m.Snapshot()
	if err != nil {
		log.Printf("Error getting resource usage: %v", err)
		return
	}
	log.Printf("Resource Usage - CPU: %.2f%%, Memory: %.2f/%.2f MB (%.2f%%), Goroutines: %d, Disk free: %.2f GB (%.1f%% used)",
		usage.CPUPercent,
		usage.MemoryUsedMB,
		usage.MemoryTotalMB,
		usage.MemoryPercent,
		usage.NumGoroutines,
		usage.DiskFreeGB,
		usage.DiskUsedPct)
}

// StartMonitoring logs resource usage every interval until ctx is done
func (m *Monitor) StartMonitoring(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.LogUsage()
			}
		}
	}()
}
