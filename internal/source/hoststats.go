package source

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gaspardpetit/motionstream/internal/frame"
	"github.com/gaspardpetit/motionstream/internal/logx"
)

// SystemStats is the content of a system frame.
type SystemStats struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpuPercent"`
	CPUCount       int       `json:"cpuCount"`
	MemTotal       uint64    `json:"memTotal"`
	MemUsed        uint64    `json:"memUsed"`
	MemUsedPercent float64   `json:"memUsedPercent"`
	UptimeSeconds  uint64    `json:"uptimeSeconds"`
	Goroutines     int       `json:"goroutines"`
}

// HostStats samples host load with gopsutil and publishes it on the system
// topic.
type HostStats struct {
	Interval time.Duration

	cpuPercent    func(ctx context.Context) (float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	uptime        func(ctx context.Context) (uint64, error)
	now           func() time.Time
}

// NewHostStats returns a producer sampling every interval.
func NewHostStats(interval time.Duration) *HostStats {
	return &HostStats{
		Interval:      interval,
		cpuPercent:    sampleCPU,
		virtualMemory: mem.VirtualMemoryWithContext,
		uptime:        host.UptimeWithContext,
		now:           time.Now,
	}
}

func sampleCPU(ctx context.Context) (float64, error) {
	// Zero interval compares against the previous call.
	p, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, fmt.Errorf("cpu: no samples")
	}
	return p[0], nil
}

func (h *HostStats) Name() string { return "hoststats" }

// Run publishes one sample per interval until ctx ends. Sampling failures
// are logged and skipped.
func (h *HostStats) Run(ctx context.Context, pub Publisher) error {
	if h.Interval <= 0 {
		return fmt.Errorf("hoststats: interval must be positive")
	}
	return tick(ctx, h.Interval, func(uint64) error {
		st, err := h.Sample(ctx)
		if err != nil {
			logx.Log.Warn().Err(err).Msg("host stats sample")
			return nil
		}
		f, err := frame.Encode(frame.TopicSystem, st)
		if err != nil {
			return err
		}
		if err := pub.Publish(f); err != nil {
			return fmt.Errorf("hoststats publish: %w", err)
		}
		return nil
	})
}

// Sample collects one SystemStats.
func (h *HostStats) Sample(ctx context.Context) (SystemStats, error) {
	st := SystemStats{
		Timestamp:  h.now().UTC(),
		CPUCount:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}
	pct, err := h.cpuPercent(ctx)
	if err != nil {
		return st, fmt.Errorf("cpu percent: %w", err)
	}
	st.CPUPercent = pct
	vm, err := h.virtualMemory(ctx)
	if err != nil {
		return st, fmt.Errorf("virtual memory: %w", err)
	}
	st.MemTotal, st.MemUsed, st.MemUsedPercent = vm.Total, vm.Used, vm.UsedPercent
	if up, err := h.uptime(ctx); err == nil {
		st.UptimeSeconds = up
	}
	return st, nil
}
