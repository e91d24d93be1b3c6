package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"approval-chain/pkg/transaction"
	memorycollector "approval-chain/pkg/metrics/memory"

	"github.com/shopspring/decimal"
)

// stubHandler records one audit entry and returns a fixed decision.
type stubHandler struct {
	name     string
	decision Decision
	err      error
	calls    int
}

func (s *stubHandler) Name() string { return s.name }

func (s *stubHandler) Handle(ctx context.Context, tx *transaction.Transaction) (Decision, error) {
	s.calls++
	tx.Record(s.name, "stub "+s.decision.String())
	return s.decision, s.err
}

func stub(name string, d Decision) *stubHandler {
	return &stubHandler{name: name, decision: d}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		handlers    []Handler
		expectError bool
		expectedLen int
	}{
		{
			name:        "empty handlers",
			handlers:    []Handler{},
			expectError: true,
		},
		{
			name:        "nil handler",
			handlers:    []Handler{stub("A", Continue), nil},
			expectError: true,
		},
		{
			name:        "single handler",
			handlers:    []Handler{stub("A", Continue)},
			expectedLen: 1,
		},
		{
			name:        "multiple handlers",
			handlers:    []Handler{stub("A", Continue), stub("B", Continue), stub("C", Approve)},
			expectedLen: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.handlers...)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if p.Len() != tt.expectedLen {
				t.Errorf("Expected length %d, got %d", tt.expectedLen, p.Len())
			}
		})
	}
}

func TestNew_EmptyIsSentinel(t *testing.T) {
	if _, err := New(); !errors.Is(err, ErrEmptyPipeline) {
		t.Errorf("Expected ErrEmptyPipeline, got %v", err)
	}
}

func TestPipeline_Run_EarlyExit(t *testing.T) {
	tests := []struct {
		name          string
		decisions     []Decision
		expectedCalls []int
		approved      bool
		stoppedAt     string
	}{
		{
			name:          "all continue",
			decisions:     []Decision{Continue, Continue, Continue},
			expectedCalls: []int{1, 1, 1},
			approved:      true,
			stoppedAt:     "",
		},
		{
			name:          "approve stops",
			decisions:     []Decision{Continue, Approve, Continue},
			expectedCalls: []int{1, 1, 0},
			approved:      true,
			stoppedAt:     "H1",
		},
		{
			name:          "reject stops",
			decisions:     []Decision{Reject, Continue, Continue},
			expectedCalls: []int{1, 0, 0},
			approved:      false,
			stoppedAt:     "H0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var handlers []Handler
			var stubs []*stubHandler
			for i, d := range tt.decisions {
				s := stub("H"+string(rune('0'+i)), d)
				stubs = append(stubs, s)
				handlers = append(handlers, s)
			}

			p, err := New(handlers...)
			if err != nil {
				t.Fatal(err)
			}

			tx := transaction.New(transaction.TypeDeposit, decimal.NewFromInt(1), nil, nil, 1)
			result, err := p.Run(context.Background(), tx)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			for i, s := range stubs {
				if s.calls != tt.expectedCalls[i] {
					t.Errorf("Handler %s: expected %d calls, got %d", s.name, tt.expectedCalls[i], s.calls)
				}
			}
			if result.Approved != tt.approved {
				t.Errorf("Expected approved=%v, got %v", tt.approved, result.Approved)
			}
			if result.StoppedAt != tt.stoppedAt {
				t.Errorf("Expected stoppedAt=%q, got %q", tt.stoppedAt, result.StoppedAt)
			}
			if len(tx.Audit()) != result.Executed {
				t.Errorf("Expected one audit entry per executed handler, got %d entries for %d handlers",
					len(tx.Audit()), result.Executed)
			}
		})
	}
}

func TestPipeline_Run_HandlerError(t *testing.T) {
	boom := errors.New("boom")
	first := stub("A", Continue)
	failing := &stubHandler{name: "B", decision: Continue, err: boom}
	last := stub("C", Approve)

	mc := memorycollector.NewMemoryCollector()
	p, _ := New(first, failing, last)
	p.WithName("test").WithMetrics(mc)

	tx := transaction.New(transaction.TypeDeposit, decimal.NewFromInt(1), nil, nil, 1)
	result, err := p.Run(context.Background(), tx)

	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped handler error, got %v", err)
	}
	if result.Approved || result.StoppedAt != "B" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if last.calls != 0 {
		t.Error("Handler after the failing one must not run")
	}
	if hm := mc.GetHandlerMetrics("B"); hm == nil || hm.Decisions["error"] != 1 {
		t.Errorf("Expected error decision metric, got %+v", hm)
	}
}

func TestPipeline_Run_ContextCancelled(t *testing.T) {
	h := stub("A", Continue)
	p, _ := New(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tx := transaction.New(transaction.TypeDeposit, decimal.NewFromInt(1), nil, nil, 1)
	if _, err := p.Run(ctx, tx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if h.calls != 0 {
		t.Error("No handler should run on a cancelled context")
	}
}

func TestPipeline_Metrics(t *testing.T) {
	mc := memorycollector.NewMemoryCollector()
	p, _ := New(stub("A", Continue), stub("B", Approve))
	p.WithName("m").WithMetrics(mc)

	tx := transaction.New(transaction.TypeDeposit, decimal.NewFromInt(1), nil, nil, 1)
	if _, err := p.Run(context.Background(), tx); err != nil {
		t.Fatal(err)
	}

	s := mc.Snapshot()
	if s.PipelineRuns != 1 || s.PipelineApproved != 1 {
		t.Errorf("Unexpected pipeline metrics: %+v", s)
	}
	if s.Handlers["A"].Decisions["continue"] != 1 || s.Handlers["B"].Decisions["approve"] != 1 {
		t.Errorf("Unexpected handler metrics: %+v", s.Handlers)
	}
}

func TestPipeline_String(t *testing.T) {
	p, _ := New(stub("A", Continue), stub("B", Continue))
	p.WithName("demo")

	s := p.String()
	if !strings.Contains(s, "demo") || !strings.Contains(s, "A -> B") {
		t.Errorf("Unexpected string: %s", s)
	}
	if len(p.Handlers()) != 2 {
		t.Errorf("Expected 2 handlers, got %d", len(p.Handlers()))
	}
}
