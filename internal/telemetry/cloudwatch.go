// Package telemetry publishes service metrics to CloudWatch.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"mandatesync/internal/types"
)

// DefaultPutTimeout bounds a single PutMetricData call.
const DefaultPutTimeout = 2 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics records HTTP request metrics and webhook outcomes.
// Writes are sent in the background; callers never wait on CloudWatch.
//
// Metrics emitted:
//   - APIRequests: Dims {Endpoint, Status}
//   - APILatency: Dims {Endpoint}
//   - WebhookOutcome: Dims {EventType, Result}
type CloudWatchMetrics struct {
	client     CloudWatchClient
	namespace  string
	putTimeout time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup
}

// MetricsOption configures a CloudWatchMetrics.
type MetricsOption func(*CloudWatchMetrics)

// WithPutTimeout overrides DefaultPutTimeout.
func WithPutTimeout(d time.Duration) MetricsOption {
	return func(m *CloudWatchMetrics) {
		if d > 0 {
			m.putTimeout = d
		}
	}
}

// NewCloudWatchMetrics creates a collector. An empty namespace falls back to
// types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger, opts ...MetricsOption) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	m := &CloudWatchMetrics{
		client:     client,
		namespace:  namespace,
		putTimeout: DefaultPutTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordRequest emits request count and latency for one HTTP request.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	endpointDim := dimension(types.DimEndpoint, method+" "+endpoint)
	m.put(context.Background(), "request",
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequests),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{endpointDim, dimension(types.DimStatus, status)},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{endpointDim},
		},
	)
}

// RecordOutcome emits one WebhookOutcome datapoint.
func (m *CloudWatchMetrics) RecordOutcome(ctx context.Context, eventType, result string) {
	if eventType == "" {
		eventType = "unknown"
	}
	m.put(ctx, "webhook outcome", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricWebhookOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dimension(types.DimEventType, eventType),
			dimension(types.DimResult, result),
		},
	})
}

// RecordExternalFailure counts a failed call to an upstream provider.
func (m *CloudWatchMetrics) RecordExternalFailure(ctx context.Context, provider string) {
	m.put(ctx, "external failure", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricExternalAPIFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dimension(types.DimProvider, provider)},
	})
}

// put sends data in the background under its own deadline, detached from
// the caller's cancellation. Metric loss is logged, never returned.
func (m *CloudWatchMetrics) put(parent context.Context, what string, data ...cwtypes.MetricDatum) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.putTimeout)
		defer cancel()

		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: data,
		})
		if err != nil && m.logger != nil {
			m.logger.WarnContext(ctx, "failed to record "+what+" metric", "error", err)
		}
	}()
}

// Flush waits for in-flight writes, or until ctx is done.
func (m *CloudWatchMetrics) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dimension(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Noop discards all metrics. It is used when metrics are disabled.
type Noop struct{}

func (Noop) RecordRequest(string, string, string, time.Duration) {}
func (Noop) RecordOutcome(context.Context, string, string)       {}
func (Noop) RecordExternalFailure(context.Context, string)       {}
func (Noop) Flush(context.Context) error                         { return nil }
