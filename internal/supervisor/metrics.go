package supervisor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for supervisor metrics.
const meterName = "github.com/mattjoyce/sttgw/internal/supervisor"

// Metrics records supervisor activity as OTel instruments. It is an Observer.
//
// Instruments:
//   - sttgw.job.duration (Float64Histogram): submit-to-terminal time in seconds,
//     with attribute status (completed, failed, timed_out)
//   - sttgw.jobs (Int64Counter): terminal jobs, with attribute status
//   - sttgw.queue.depth (Int64UpDownCounter): jobs waiting or in flight
//   - sttgw.worker.crashes (Int64Counter): worker exits outside of Stop
type Metrics struct {
	duration metric.Float64Histogram
	jobs     metric.Int64Counter
	depth    metric.Int64UpDownCounter
	crashes  metric.Int64Counter
}

// NewMetrics uses the global MeterProvider. Without one configured the
// instruments are noops.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter builds instruments from meter.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"sttgw.job.duration",
		metric.WithDescription("Time from submission to terminal state in seconds"),
		metric.WithUnit("s"),
	)
	jobs, _ := meter.Int64Counter(
		"sttgw.jobs",
		metric.WithDescription("Total number of finished jobs"),
		metric.WithUnit("{job}"),
	)
	depth, _ := meter.Int64UpDownCounter(
		"sttgw.queue.depth",
		metric.WithDescription("Jobs queued or in flight"),
		metric.WithUnit("{job}"),
	)
	crashes, _ := meter.Int64Counter(
		"sttgw.worker.crashes",
		metric.WithDescription("Worker process exits that triggered restart handling"),
		metric.WithUnit("{exit}"),
	)
	return &Metrics{duration: duration, jobs: jobs, depth: depth, crashes: crashes}
}

func (m *Metrics) JobEvent(ev JobEvent) {
	ctx := context.Background()
	switch {
	case ev.State == JobQueued:
		m.depth.Add(ctx, 1)
	case ev.State.Terminal():
		attrs := metric.WithAttributes(attribute.String("status", ev.State.String()))
		m.depth.Add(ctx, -1)
		m.jobs.Add(ctx, 1, attrs)
		if !ev.SubmittedAt.IsZero() {
			m.duration.Record(ctx, ev.CompletedAt.Sub(ev.SubmittedAt).Seconds(), attrs)
		}
	}
}

func (m *Metrics) WorkerEvent(ev WorkerEvent) {
	if ev.State == WorkerCrashed && !ev.Degraded {
		m.crashes.Add(context.Background(), 1)
	}
}
