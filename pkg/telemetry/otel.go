// Package telemetry provides OpenTelemetry instrumentation for the dispatcher
// (client spans, request counter, duration histogram) and for service hosts
// (server spans continuing the caller's trace).
//
// Usage:
//
//	inst := telemetry.New(telemetry.DefaultConfig())
//	d := dispatcher.NewDispatcher(transport, dispatcher.WithHook(inst.DispatchHook()))
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/contracts-gateway/pkg/dispatcher"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
)

const (
	instrumentationName = "github.com/morezero/contracts-gateway"
	rpcSystem           = "contracts_gateway"
)

// Config configures instrumentation.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator carries trace context in request envelopes. Defaults to W3C trace context.
	Propagator       propagation.TextMapPropagator
	EnableTracing    bool
	EnableMetrics    bool
	RecordExceptions bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig enables tracing, metrics and exception recording against the
// global providers.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// Instrumentation holds the tracer and instruments shared by client and server spans.
type Instrumentation struct {
	cfg    Config
	tracer trace.Tracer

	clientRequests metric.Int64Counter
	clientDuration metric.Float64Histogram
	serverRequests metric.Int64Counter
	serverDuration metric.Float64Histogram
}

// New resolves providers and creates the instruments.
func New(cfg Config) *Instrumentation {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = propagation.TraceContext{}
	}

	inst := &Instrumentation{cfg: cfg, tracer: cfg.TracerProvider.Tracer(instrumentationName)}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		inst.clientRequests, _ = meter.Int64Counter("rpc.client.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of RPC attempts sent"),
		)
		inst.clientDuration, _ = meter.Float64Histogram("rpc.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of RPC attempts"),
		)
		inst.serverRequests, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of RPC requests served"),
		)
		inst.serverDuration, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of served RPC requests"),
		)
	}
	return inst
}

// DispatchHook returns a dispatcher hook that records one client span per attempt
// and injects its context into the request envelope.
func (i *Instrumentation) DispatchHook() dispatcher.DispatchHook {
	return &clientHook{inst: i}
}

type clientHook struct {
	inst *Instrumentation
}

type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnDispatchStart starts a client span and propagates it through info.Meta.
func (h *clientHook) OnDispatchStart(ctx context.Context, info dispatcher.DispatchInfo) (context.Context, dispatcher.HookToken) {
	if !h.inst.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", rpcSystem),
		attribute.String("rpc.service", info.Service),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.call_mode", info.Mode),
		attribute.Int("rpc.attempt", info.Attempt),
		attribute.String("rpc.envelope_id", info.EnvelopeID),
		attribute.Int("rpc.request.size", info.ArgBytes),
	}
	attrs = append(attrs, h.inst.cfg.CustomAttributes...)

	ctx, span := h.inst.tracer.Start(ctx, spanName(info.Service, info.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	if info.Meta != nil {
		h.inst.cfg.Propagator.Inject(ctx, propagation.MapCarrier(info.Meta))
	}
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics and ends the span.
func (h *clientHook) OnDispatchEnd(ctx context.Context, token dispatcher.HookToken, info dispatcher.DispatchInfo, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	h.inst.record(ctx, h.inst.clientRequests, h.inst.clientDuration, info.Service, info.Method, info.Mode, time.Since(st.startTime), err)

	if st.span != nil && st.span.IsRecording() {
		st.span.SetAttributes(attribute.Int("rpc.response.size", info.ResultBytes))
		h.inst.finish(st.span, err)
	}
}

// StartServerSpan continues the caller's trace from meta and returns a function
// that ends the span and records server metrics.
func (i *Instrumentation) StartServerSpan(ctx context.Context, service, method, mode string, meta map[string]string) (context.Context, func(err error)) {
	start := time.Now()
	if meta != nil {
		ctx = i.cfg.Propagator.Extract(ctx, propagation.MapCarrier(meta))
	}

	var span trace.Span
	if i.cfg.EnableTracing {
		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", rpcSystem),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.call_mode", mode),
		}
		attrs = append(attrs, i.cfg.CustomAttributes...)
		ctx, span = i.tracer.Start(ctx, spanName(service, method),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
	}

	return ctx, func(err error) {
		i.record(ctx, i.serverRequests, i.serverDuration, service, method, mode, time.Since(start), err)
		if span != nil && span.IsRecording() {
			i.finish(span, err)
		}
	}
}

func (i *Instrumentation) record(ctx context.Context, counter metric.Int64Counter, histogram metric.Float64Histogram, service, method, mode string, duration time.Duration, err error) {
	if !i.cfg.EnableMetrics {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc.system", rpcSystem),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
		attribute.String("rpc.call_mode", mode),
		attribute.String("status", status),
	)
	if counter != nil {
		counter.Add(ctx, 1, attrs)
	}
	if histogram != nil {
		histogram.Record(ctx, duration.Seconds(), attrs)
	}
}

func (i *Instrumentation) finish(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetStatus(codes.Error, err.Error())
	if i.cfg.RecordExceptions {
		span.RecordError(err)
	}
	errType := fmt.Sprintf("%T", err)
	var rerr *rpcerr.Error
	if errors.As(err, &rerr) {
		errType = rerr.Code
		if rerr.RemoteCode != "" {
			span.SetAttributes(attribute.String("rpc.remote_code", rerr.RemoteCode))
		}
		if rerr.Indeterminate {
			span.SetAttributes(attribute.Bool("rpc.indeterminate", true))
		}
	}
	span.SetAttributes(attribute.String("rpc.error_type", errType))
}

func spanName(service, method string) string {
	return fmt.Sprintf("%s/%s.%s", rpcSystem, service, method)
}
