// Package infra implements infrastructure concerns (process context, storage, keys).
package infra

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

// ProcessInspectorImpl implements domain.ProcessInspector using gopsutil.
type ProcessInspectorImpl struct {
	pid int32
}

// NewProcessInspector creates an inspector for the current process.
func NewProcessInspector() domain.ProcessInspector {
	return &ProcessInspectorImpl{pid: int32(os.Getpid())}
}

// NewProcessInspectorForPID creates an inspector for another process (for testing).
func NewProcessInspectorForPID(pid int) *ProcessInspectorImpl {
	return &ProcessInspectorImpl{pid: int32(pid)}
}

// Snapshot returns the process context. Individual metrics that cannot be
// read are left zero; only a missing process is an error.
func (pi *ProcessInspectorImpl) Snapshot() (domain.ProcessContext, error) {
	p, err := process.NewProcess(pi.pid)
	if err != nil {
		return domain.ProcessContext{}, fmt.Errorf("failed to inspect process %d: %w", pi.pid, err)
	}

	ctx := domain.ProcessContext{
		PID:        int(pi.pid),
		Goroutines: runtime.NumGoroutine(),
	}

	if name, err := p.Name(); err == nil {
		ctx.Name = name
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		ctx.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		ctx.CPUPercent = cpu
	}
	if threads, err := p.NumThreads(); err == nil {
		ctx.NumThreads = threads
	}
	if created, err := p.CreateTime(); err == nil {
		ctx.StartedAt = time.UnixMilli(created).UTC()
	}

	return ctx, nil
}

// Ensure ProcessInspectorImpl implements domain.ProcessInspector.
var _ domain.ProcessInspector = (*ProcessInspectorImpl)(nil)
