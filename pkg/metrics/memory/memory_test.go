package memory

import (
	"sync"
	"testing"
	"time"

	"approval-chain/pkg/metrics"
)

func TestMemoryCollector_Handlers(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordHandler("BalanceCheck", "continue", time.Millisecond)
	mc.RecordHandler("BalanceCheck", "reject", 2*time.Millisecond)

	hm := mc.GetHandlerMetrics("BalanceCheck")
	if hm == nil {
		t.Fatal("Expected handler metrics")
	}
	if hm.Invocations != 2 {
		t.Errorf("Expected 2 invocations, got %d", hm.Invocations)
	}
	if hm.Decisions["reject"] != 1 {
		t.Errorf("Expected 1 reject, got %d", hm.Decisions["reject"])
	}
	if len(hm.Latencies) != 2 {
		t.Errorf("Expected 2 latencies, got %d", len(hm.Latencies))
	}

	if mc.GetHandlerMetrics("missing") != nil {
		t.Error("Expected nil for unknown handler")
	}
}

func TestMemoryCollector_SnapshotAndReset(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordPipeline("approval", true, time.Millisecond)
	mc.RecordPipeline("approval", false, time.Millisecond)
	mc.RecordOutcome("DEPOSIT", "COMPLETED")
	mc.RecordCircuitState("notifier", metrics.CircuitOpen)
	mc.RecordNotification("log", true, time.Millisecond)
	mc.RecordNotificationDropped("log")
	mc.RecordLockWait("memory", false, time.Millisecond)

	s := mc.Snapshot()
	if s.PipelineRuns != 2 || s.PipelineApproved != 1 {
		t.Errorf("Unexpected pipeline counts: %d/%d", s.PipelineRuns, s.PipelineApproved)
	}
	if s.Outcomes["DEPOSIT/COMPLETED"] != 1 {
		t.Errorf("Expected 1 completed deposit, got %d", s.Outcomes["DEPOSIT/COMPLETED"])
	}
	if s.Circuits["notifier"] != metrics.CircuitOpen {
		t.Errorf("Expected open circuit, got %v", s.Circuits["notifier"])
	}
	if s.Channels["log"].Sent != 1 || s.Channels["log"].Dropped != 1 {
		t.Errorf("Unexpected channel metrics: %+v", s.Channels["log"])
	}
	if s.LockTimeouts != 1 {
		t.Errorf("Expected 1 lock timeout, got %d", s.LockTimeouts)
	}

	mc.Reset()
	if mc.Outcome("DEPOSIT", "COMPLETED") != 0 {
		t.Error("Expected outcomes to be cleared")
	}
	if mc.GetChannelMetrics("log") != nil {
		t.Error("Expected channels to be cleared")
	}
}

func TestMemoryCollector_Concurrent(t *testing.T) {
	mc := NewMemoryCollector()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc.RecordHandler("AML", "continue", time.Microsecond)
			mc.RecordOutcome("FEE", "FAILED")
		}()
	}
	wg.Wait()

	if got := mc.GetHandlerMetrics("AML").Invocations; got != 50 {
		t.Errorf("Expected 50 invocations, got %d", got)
	}
	if got := mc.Outcome("FEE", "FAILED"); got != 50 {
		t.Errorf("Expected 50 outcomes, got %d", got)
	}
}
