package prometheus

import (
	"testing"
	"time"

	"approval-chain/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCollector_Register(t *testing.T) {
	pc := NewPrometheusCollector("test")
	registry := prometheus.NewRegistry()

	if err := pc.Register(registry); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Registering twice must fail on duplicate descriptors.
	if err := pc.Register(registry); err == nil {
		t.Error("Expected error on duplicate registration")
	}
}

func TestPrometheusCollector_Records(t *testing.T) {
	pc := NewPrometheusCollector("test")

	pc.RecordHandler("BalanceCheck", "continue", time.Millisecond)
	pc.RecordHandler("BalanceCheck", "continue", time.Millisecond)
	pc.RecordHandler("BalanceCheck", "reject", time.Millisecond)
	pc.RecordPipeline("approval", true, time.Millisecond)
	pc.RecordOutcome("TRANSFER", "COMPLETED")
	pc.RecordCircuitState("notifier", metrics.CircuitOpen)
	pc.RecordNotification("log", false, time.Millisecond)
	pc.RecordNotificationDropped("log")
	pc.RecordQueueDepth("log", 7)
	pc.RecordLockWait("memory", true, time.Microsecond)

	tests := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"continue decisions", testutil.ToFloat64(pc.handlerDecisions.WithLabelValues("BalanceCheck", "continue")), 2},
		{"reject decisions", testutil.ToFloat64(pc.handlerDecisions.WithLabelValues("BalanceCheck", "reject")), 1},
		{"approved runs", testutil.ToFloat64(pc.pipelineRuns.WithLabelValues("approval", "approved")), 1},
		{"outcomes", testutil.ToFloat64(pc.outcomes.WithLabelValues("TRANSFER", "COMPLETED")), 1},
		{"circuit state", testutil.ToFloat64(pc.circuitState.WithLabelValues("notifier")), 1},
		{"circuit opens", testutil.ToFloat64(pc.circuitOpens.WithLabelValues("notifier")), 1},
		{"failed notifications", testutil.ToFloat64(pc.notifications.WithLabelValues("log", "error")), 1},
		{"dropped notifications", testutil.ToFloat64(pc.droppedNotification.WithLabelValues("log")), 1},
		{"queue depth", testutil.ToFloat64(pc.queueDepth.WithLabelValues("log")), 7},
		{"lock waits", testutil.ToFloat64(pc.lockWaits.WithLabelValues("memory", "acquired")), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}
