package core

import (
	"context"
	"time"
)

// MetricsCollector records per-request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// HealthProbe checks one critical dependency for GET /health.
type HealthProbe interface {
	// Name returns a short identifier such as "database".
	Name() string

	// Check must respect the context deadline.
	Check(ctx context.Context) error
}
