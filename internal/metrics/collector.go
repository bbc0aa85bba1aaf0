package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot holds one sample of process and system usage
type Snapshot struct {
	Stage             string
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // Can exceed 100% on multi-core
	RSSBytes          uint64
	HeapBytes         uint64
	Goroutines        int
	MemoryPercent     float64
	Timestamp         time.Time
}

// Collector periodically samples usage and logs it with the current stage
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	mu      sync.RWMutex
	stage   string
	last    *Snapshot
	peakRSS uint64
	samples int
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// SetStage labels subsequent samples
func (c *Collector) SetStage(stage string) {
	c.mu.Lock()
	c.stage = stage
	c.mu.Unlock()
}

// Start begins periodic collection. Returns when ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Last returns the most recent snapshot, or nil before the first sample
func (c *Collector) Last() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// PeakRSS returns the largest resident set size observed
func (c *Collector) PeakRSS() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peakRSS
}

// Collect takes one sample, records it and logs it
func (c *Collector) Collect() *Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := &Snapshot{
		HeapBytes:  ms.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vmem.UsedPercent
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if mi, err := c.proc.MemoryInfo(); err == nil {
			s.RSSBytes = mi.RSS
		}
	}

	c.mu.Lock()
	s.Stage = c.stage
	c.last = s
	c.samples++
	if s.RSSBytes > c.peakRSS {
		c.peakRSS = s.RSSBytes
	}
	c.mu.Unlock()

	c.logger.Info("System metrics",
		zap.String("stage", s.Stage),
		zap.Float64("sys_cpu", round1(s.CPUPercent)),
		zap.Float64("proc_cpu", round1(s.ProcessCPUPercent)),
		zap.Float64("mem_pct", round1(s.MemoryPercent)),
		zap.String("rss", FormatBytes(s.RSSBytes)),
		zap.String("heap", FormatBytes(s.HeapBytes)),
		zap.Int("goroutines", s.Goroutines),
	)
	return s
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}

// FormatBytes formats bytes in a human-readable format
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
