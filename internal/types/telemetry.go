package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricWebhookOutcome     = "WebhookOutcome"
	MetricAPILatency         = "APILatency"
	MetricAPIRequests        = "APIRequests"
	MetricExternalAPIFailure = "ExternalAPIFailure"

	// Dimension Keys
	DimEndpoint  = "Endpoint"
	DimStatus    = "Status"
	DimProvider  = "Provider"
	DimEventType = "EventType"
	DimResult    = "Result"

	// Metric Namespace
	MetricNamespace = "MandateSync"
)
