package runner

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is one resource sample for a child process.
type ProcessStats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	Running    bool    `json:"running"`
}

// Monitor samples resource usage of one child process.
type Monitor struct {
	proc *process.Process
}

// NewMonitor attaches to a running PID.
func NewMonitor(pid int) (*Monitor, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("attaching to pid %d: %w", pid, err)
	}
	return &Monitor{proc: proc}, nil
}

// Sample reads current CPU and memory usage. A dead process yields a
// zero sample with Running=false rather than an error; samplers race
// against process exit by nature.
func (m *Monitor) Sample() ProcessStats {
	stats := ProcessStats{PID: int(m.proc.Pid)}

	running, err := m.proc.IsRunning()
	if err != nil || !running {
		return stats
	}
	stats.Running = true

	if cpu, err := m.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	return stats
}
