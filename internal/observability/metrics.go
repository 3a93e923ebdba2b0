// Package observability provides OpenTelemetry metrics for the shell.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics is called when the status server is enabled. It makes a
// Prometheus-backed provider the global one, so the counters created by
// NewMetrics(otel.Meter("stsh")) show up on the returned /metrics handler.
// The shutdown function flushes and detaches the exporter on exit.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter for stsh metrics: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics holds the shell's instruments. A nil *Metrics records nothing.
type Metrics struct {
	jobsLaunched   metric.Int64Counter
	launchFailures metric.Int64Counter
	childChanges   metric.Int64Counter
}

// NewMetrics creates the instruments on meter. With no provider installed
// the global meter is a no-op.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	jobsLaunched, err := meter.Int64Counter("stsh_jobs_launched",
		metric.WithDescription("Jobs created from pipelines"))
	if err != nil {
		return nil, err
	}
	launchFailures, err := meter.Int64Counter("stsh_launch_failures",
		metric.WithDescription("Pipeline stages that failed to start"))
	if err != nil {
		return nil, err
	}
	childChanges, err := meter.Int64Counter("stsh_child_state_changes",
		metric.WithDescription("Child status changes applied by the reconciler"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		jobsLaunched:   jobsLaunched,
		launchFailures: launchFailures,
		childChanges:   childChanges,
	}, nil
}

func (m *Metrics) JobLaunched(ctx context.Context, placement string, processes int) {
	if m == nil {
		return
	}
	m.jobsLaunched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("placement", placement),
		attribute.Int("processes", processes)))
}

func (m *Metrics) LaunchFailed(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.launchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) ChildChanged(ctx context.Context, change string) {
	if m == nil {
		return
	}
	m.childChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("change", change)))
}
