// Package obs wires the sender's congestion and metrics state into
// OpenTelemetry tracing and Prometheus metrics, entirely optional and
// off by default — a transfer run is fully functional without either.
package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig 追踪配置. Unlike a networked service, a one-shot CLI sender
// has no always-on collector to talk to, so the only exporter wired in is
// stdouttrace — it prints completed spans to stdout with no external
// dependency.
type TracingConfig struct {
	Enable      bool
	ServiceName string
	Environment string
}

// DefaultTracingConfig returns tracing disabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enable:      false,
		ServiceName: "quantum-sender",
		Environment: "development",
	}
}

// Tracer 包装一个 OpenTelemetry tracer；禁用时全部调用退化为空操作.
type Tracer struct {
	cfg      TracingConfig
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewTracer builds a Tracer. When cfg.Enable is false it returns a
// zero-overhead stand-in whose StartTransfer/AddEvent/RecordError calls are
// no-ops.
func NewTracer(cfg TracingConfig, logger *zap.Logger) (*Tracer, error) {
	if !cfg.Enable {
		logger.Debug("tracing disabled")
		return &Tracer{cfg: cfg, logger: logger}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("obs: build resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("obs: build stdouttrace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing initialized", zap.String("service", cfg.ServiceName))

	return &Tracer{
		cfg:      cfg,
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
		logger:   logger,
	}, nil
}

// Shutdown flushes and stops the tracer provider. Safe to call on a
// disabled Tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartTransfer opens the single span covering one transfer's lifetime.
func (t *Tracer) StartTransfer(ctx context.Context, payloadBytes int) (context.Context, trace.Span) {
	if !t.cfg.Enable || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "transfer", trace.WithAttributes(
		attribute.Int("payload.bytes", payloadBytes),
	))
}

// AddEvent records a named event (retransmit, phase transition, recovery
// exit) on the span carried by ctx.
func (t *Tracer) AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if !t.cfg.Enable {
		return
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records a fatal error on the span carried by ctx.
func (t *Tracer) RecordError(ctx context.Context, err error) {
	if !t.cfg.Enable || err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)
}
