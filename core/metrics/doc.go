// Package metrics defines the sink interfaces used to export assignment
// metrics. Sinks implement MetricsSink and may implement any of the optional
// recorder interfaces; callers check for them with a type assertion.
package metrics
