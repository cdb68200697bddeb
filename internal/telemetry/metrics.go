package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/attendance"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session lifecycle metrics
	SessionsCreatedTotal   metric.Int64Counter
	SessionsExpiredTotal   metric.Int64Counter
	SessionsFinalizedTotal metric.Int64Counter

	// Scan protocol metrics
	ScansAcceptedTotal metric.Int64Counter
	ScansRejectedTotal metric.Int64Counter

	// Roster stream metrics
	ActiveRosterStreams         metric.Int64UpDownCounter
	RosterSnapshotsDroppedTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"attendance.sessions.created.total",
		metric.WithDescription("Total number of QR sessions created"),
		metric.WithUnit("{session}"),
	)

	m.SessionsExpiredTotal, _ = meter.Int64Counter(
		"attendance.sessions.expired.total",
		metric.WithDescription("Total number of sessions deactivated at TTL"),
		metric.WithUnit("{session}"),
	)

	m.SessionsFinalizedTotal, _ = meter.Int64Counter(
		"attendance.sessions.finalized.total",
		metric.WithDescription("Total number of sessions archived to history"),
		metric.WithUnit("{session}"),
	)

	m.ScansAcceptedTotal, _ = meter.Int64Counter(
		"attendance.scans.accepted.total",
		metric.WithDescription("Total number of scans admitted into a session roster"),
		metric.WithUnit("{scan}"),
	)

	m.ScansRejectedTotal, _ = meter.Int64Counter(
		"attendance.scans.rejected.total",
		metric.WithDescription("Total number of scans rejected by protocol checks"),
		metric.WithUnit("{scan}"),
	)

	m.ActiveRosterStreams, _ = meter.Int64UpDownCounter(
		"attendance.roster.streams.active",
		metric.WithDescription("Number of active roster snapshot streams"),
		metric.WithUnit("{stream}"),
	)

	m.RosterSnapshotsDroppedTotal, _ = meter.Int64Counter(
		"attendance.roster.snapshots.dropped.total",
		metric.WithDescription("Total number of roster snapshots dropped due to slow consumers"),
		metric.WithUnit("{snapshot}"),
	)

	return m
}
