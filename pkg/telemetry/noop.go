package telemetry

import (
	"context"
	"time"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordFlush(_ context.Context, _ int, _ time.Duration, _ error) {}

func (NoopMetrics) RecordChangeBatch(_ context.Context, _ string, _, _ int) {}

func (NoopMetrics) RecordSend(_ context.Context, _ string, _ time.Duration) {}

func (NoopMetrics) RecordAbort(_ context.Context, _ error) {}
