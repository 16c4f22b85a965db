package xmetrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultInstrumentationName = "github.com/omeyang/leasekit/xmetrics"

	metricAcquireTotal = "leasekit.lock.acquire.total"
	metricAcquireWait  = "leasekit.lock.acquire.wait"
	metricHoldDuration = "leasekit.lock.hold.duration"
	metricRenewTotal   = "leasekit.lease.renew.total"
	metricLostTotal    = "leasekit.lease.lost.total"
)

type otelConfig struct {
	instrumentationName string
	tracerProvider      trace.TracerProvider
	meterProvider       metric.MeterProvider
}

// Option 定义 OTel Recorder 的配置选项。
type Option func(*otelConfig)

// WithInstrumentationName 设置 OTel instrumentation 名称。
func WithInstrumentationName(name string) Option {
	return func(cfg *otelConfig) {
		if name != "" {
			cfg.instrumentationName = name
		}
	}
}

// WithTracerProvider 设置 TracerProvider。
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *otelConfig) {
		if provider != nil {
			cfg.tracerProvider = provider
		}
	}
}

// WithMeterProvider 设置 MeterProvider。
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *otelConfig) {
		if provider != nil {
			cfg.meterProvider = provider
		}
	}
}

type otelRecorder struct {
	tracer       trace.Tracer
	acquireTotal metric.Int64Counter
	acquireWait  metric.Float64Histogram
	holdDuration metric.Float64Histogram
	renewTotal   metric.Int64Counter
	lostTotal    metric.Int64Counter
}

// NewOTelRecorder 创建基于 OpenTelemetry 的 Recorder。
// 未指定 Provider 时使用 otel 全局 Provider。
func NewOTelRecorder(opts ...Option) (Recorder, error) {
	cfg := &otelConfig{
		instrumentationName: defaultInstrumentationName,
		tracerProvider:      otel.GetTracerProvider(),
		meterProvider:       otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	meter := cfg.meterProvider.Meter(cfg.instrumentationName)
	r := &otelRecorder{tracer: cfg.tracerProvider.Tracer(cfg.instrumentationName)}

	var err error
	if r.acquireTotal, err = meter.Int64Counter(metricAcquireTotal,
		metric.WithDescription("lock acquisition attempts by outcome"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateCounter, err)
	}
	if r.acquireWait, err = meter.Float64Histogram(metricAcquireWait,
		metric.WithDescription("time spent waiting in TryLock"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateHistogram, err)
	}
	if r.holdDuration, err = meter.Float64Histogram(metricHoldDuration,
		metric.WithDescription("time between first acquisition and final release"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateHistogram, err)
	}
	if r.renewTotal, err = meter.Int64Counter(metricRenewTotal,
		metric.WithDescription("lease renewal attempts by result"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateCounter, err)
	}
	if r.lostTotal, err = meter.Int64Counter(metricLostTotal,
		metric.WithDescription("leases lost while held"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateCounter, err)
	}
	return r, nil
}

// 指标使用不可取消的 context 记录，请求 context 取消后仍能记录失败/中断。

func (r *otelRecorder) RecordAcquire(ctx context.Context, outcome string, waited time.Duration) {
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	r.acquireTotal.Add(ctx, 1, attrs)
	r.acquireWait.Record(ctx, waited.Seconds(), attrs)
}

func (r *otelRecorder) RecordHold(ctx context.Context, held time.Duration) {
	r.holdDuration.Record(context.WithoutCancel(ctx), held.Seconds())
}

func (r *otelRecorder) RecordRenew(ctx context.Context, result string) {
	r.renewTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (r *otelRecorder) RecordLost(ctx context.Context) {
	r.lostTotal.Add(context.WithoutCancel(ctx), 1)
}

// Start 开始一次观测跨度。
func (r *otelRecorder) Start(ctx context.Context, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	name := opts.Operation
	if name == "" {
		name = "unknown"
	}
	attrs := make([]attribute.KeyValue, 0, 1+len(opts.Attrs))
	if opts.Component != "" {
		attrs = append(attrs, attribute.String("component", opts.Component))
	}
	attrs = append(attrs, attrsToOTel(opts.Attrs)...)

	ctx, span := r.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span    trace.Span
	endOnce sync.Once
}

// End 结束观测并记录结果，多次调用只生效一次。
func (s *otelSpan) End(result Result) {
	s.endOnce.Do(func() {
		if len(result.Attrs) > 0 {
			s.span.SetAttributes(attrsToOTel(result.Attrs)...)
		}
		if result.Err != nil {
			s.span.RecordError(result.Err)
		}
		switch resolveStatus(result) {
		case StatusError:
			msg := "operation failed"
			if result.Err != nil {
				msg = result.Err.Error()
			}
			s.span.SetStatus(codes.Error, msg)
		default:
			s.span.SetStatus(codes.Ok, "")
		}
		s.span.End()
	})
}

func resolveStatus(result Result) Status {
	if result.Status != "" {
		return result.Status
	}
	if result.Err != nil {
		return StatusError
	}
	return StatusOK
}

func attrsToOTel(attrs []Attr) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	converted := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Key == "" || attr.Value == nil {
			continue
		}
		switch v := attr.Value.(type) {
		case string:
			converted = append(converted, attribute.String(attr.Key, v))
		case bool:
			converted = append(converted, attribute.Bool(attr.Key, v))
		case int:
			converted = append(converted, attribute.Int(attr.Key, v))
		case int64:
			converted = append(converted, attribute.Int64(attr.Key, v))
		case time.Duration:
			converted = append(converted, attribute.Int64(attr.Key, v.Milliseconds()))
		default:
			converted = append(converted, attribute.String(attr.Key, fmt.Sprint(v)))
		}
	}
	return converted
}

var _ Recorder = (*otelRecorder)(nil)
