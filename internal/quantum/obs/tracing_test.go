package obs

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestDisabledTracerIsNoOp(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enable: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}

	ctx, span := tr.StartTransfer(context.Background(), 1024)
	if span == nil {
		t.Fatal("StartTransfer returned a nil span")
	}

	// None of these may panic, and none may touch the global tracer
	// provider — a disabled Tracer must leave otel untouched.
	tr.AddEvent(ctx, "fast_retransmit")
	tr.RecordError(ctx, errors.New("boom"))

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on a disabled tracer: %v", err)
	}
}

func TestEnabledTracerStartsAndRecords(t *testing.T) {
	tr, err := NewTracer(TracingConfig{
		Enable:      true,
		ServiceName: "quantum-sender-test",
		Environment: "test",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	defer tr.Shutdown(context.Background())

	ctx, span := tr.StartTransfer(context.Background(), 2048)
	if !span.SpanContext().IsValid() {
		t.Fatal("enabled tracer produced an invalid span context")
	}

	tr.AddEvent(ctx, "phase_transition")
	tr.RecordError(ctx, errors.New("boom"))
	span.End()
}
