package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStageAnnotatesLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Stage("merge").Info("merge complete", zap.Int("records", 4))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["stage"] != "merge" {
		t.Errorf("stage = %v, want merge", ctx["stage"])
	}
	if ctx["records"] != int64(4) {
		t.Errorf("records = %v, want 4", ctx["records"])
	}
}

func TestReplaceRestores(t *testing.T) {
	first := zap.NewNop()
	restore := Replace(first)
	second := zap.NewNop()
	restoreSecond := Replace(second)
	if Get() != second {
		t.Fatal("expected replaced logger")
	}
	restoreSecond()
	if Get() != first {
		t.Error("expected previous logger after restore")
	}
	restore()
}
