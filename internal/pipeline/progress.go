package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/metrics"
)

// stageTracker times one stage and reports it to the log and the metrics
// collector
type stageTracker struct {
	name      string
	input     int
	startTime time.Time
	stats     *RunStats
}

func startStage(name string, input int, stats *RunStats, collector *metrics.Collector) *stageTracker {
	if collector != nil {
		collector.SetStage(name)
	}
	logger.Get().Info("Stage started", zap.String("stage", name), zap.Int("input", input))
	return &stageTracker{name: name, input: input, startTime: time.Now(), stats: stats}
}

// done records the stage duration and logs its throughput
func (s *stageTracker) done(output int) time.Duration {
	elapsed := time.Since(s.startTime)
	s.stats.Stages[s.name] = elapsed

	var throughput float64
	if elapsed.Seconds() > 0 {
		throughput = float64(s.input) / elapsed.Seconds()
	}
	logger.Get().Info("Stage complete",
		zap.String("stage", s.name),
		zap.Int("input", s.input),
		zap.Int("output", output),
		zap.String("throughput", FormatThroughput(throughput)),
		zap.String("duration", FormatDuration(elapsed)))
	return elapsed
}

// FormatDuration formats a duration in a human-readable format
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}
