package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records editor metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordFlush records one persistence round trip of the working graph.
	RecordFlush(ctx context.Context, projectID int, duration time.Duration, err error)

	// RecordChangeBatch records how many descriptors of a batch were applied and skipped.
	RecordChangeBatch(ctx context.Context, kind string, applied, skipped int)

	// RecordSend records a chat send, including sends rejected before the network.
	RecordSend(ctx context.Context, outcome string, duration time.Duration)

	// RecordAbort records an abort request.
	RecordAbort(ctx context.Context, err error)
}

// Send outcomes.
const (
	SendOK       = "ok"
	SendFailed   = "failed"
	SendRejected = "rejected"
)

type otelMetrics struct {
	flushes      metric.Int64Counter
	flushErrors  metric.Int64Counter
	flushLatency metric.Float64Histogram
	changes      metric.Int64Counter
	skipped      metric.Int64Counter
	sends        metric.Int64Counter
	sendLatency  metric.Float64Histogram
	aborts       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("agentflow")

	flushes, err := meter.Int64Counter("agentflow.autosave.flushes",
		metric.WithDescription("Number of flow persistence round trips"),
	)
	if err != nil {
		return nil, err
	}

	flushErrors, err := meter.Int64Counter("agentflow.autosave.errors",
		metric.WithDescription("Number of failed flow persistence round trips"),
	)
	if err != nil {
		return nil, err
	}

	flushLatency, err := meter.Float64Histogram("agentflow.autosave.latency_ms",
		metric.WithDescription("Flow persistence latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	changes, err := meter.Int64Counter("agentflow.editor.changes",
		metric.WithDescription("Number of applied change descriptors"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter("agentflow.editor.skipped",
		metric.WithDescription("Number of malformed change descriptors skipped"),
	)
	if err != nil {
		return nil, err
	}

	sends, err := meter.Int64Counter("agentflow.chat.sends",
		metric.WithDescription("Number of chat sends by outcome"),
	)
	if err != nil {
		return nil, err
	}

	sendLatency, err := meter.Float64Histogram("agentflow.chat.send_latency_ms",
		metric.WithDescription("Chat send latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	aborts, err := meter.Int64Counter("agentflow.chat.aborts",
		metric.WithDescription("Number of abort requests"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		flushes:      flushes,
		flushErrors:  flushErrors,
		flushLatency: flushLatency,
		changes:      changes,
		skipped:      skipped,
		sends:        sends,
		sendLatency:  sendLatency,
		aborts:       aborts,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. If initialization fails a no-op recorder is returned.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordFlush(ctx context.Context, projectID int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.Int("project_id", projectID),
		attribute.Bool("success", err == nil),
	)
	m.flushes.Add(ctx, 1, attrs)
	m.flushLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.flushErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordChangeBatch(ctx context.Context, kind string, applied, skipped int) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if applied > 0 {
		m.changes.Add(ctx, int64(applied), attrs)
	}
	if skipped > 0 {
		m.skipped.Add(ctx, int64(skipped), attrs)
	}
}

func (m *otelMetrics) RecordSend(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.sends.Add(ctx, 1, attrs)
	if outcome != SendRejected {
		m.sendLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (m *otelMetrics) RecordAbort(ctx context.Context, err error) {
	m.aborts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", err == nil)))
}
