package metrics

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCollectRecordsStage(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewCollector(time.Second, zap.New(core))

	c.SetStage("overlap")
	s := c.Collect()
	if s.Stage != "overlap" {
		t.Errorf("stage = %q", s.Stage)
	}
	if s.HeapBytes == 0 || s.Goroutines == 0 {
		t.Errorf("runtime stats missing: %+v", s)
	}
	if c.Last() != s {
		t.Error("Last should return the latest snapshot")
	}
	if c.PeakRSS() < s.RSSBytes {
		t.Errorf("peak %d below sample %d", c.PeakRSS(), s.RSSBytes)
	}

	entries := logs.FilterMessage("System metrics").All()
	if len(entries) != 1 || entries[0].ContextMap()["stage"] != "overlap" {
		t.Errorf("log entries = %+v", entries)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	c := NewCollector(time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}
	if c.Last() == nil {
		t.Error("first sample should be taken immediately")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIntervalFloor(t *testing.T) {
	if c := NewCollector(10*time.Millisecond, zap.NewNop()); c.interval != 30*time.Second {
		t.Errorf("interval = %v", c.interval)
	}
}
