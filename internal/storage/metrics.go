package storage

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/kirokuhq/kiroku/internal/telemetry"
)

// RegisterPoolMetrics registers observable gauges for connection pool
// health. Call once after telemetry.Init.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("kiroku/storage")

	_, _ = meter.Int64ObservableGauge("kiroku.pool.acquired_conns",
		metric.WithDescription("Connections currently acquired from the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().AcquiredConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kiroku.pool.idle_conns",
		metric.WithDescription("Idle connections in the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().IdleConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kiroku.pool.total_conns",
		metric.WithDescription("Total connections in the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().TotalConns()))
			return nil
		}),
	)
}
