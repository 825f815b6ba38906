package geosync

import "time"

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordCycleDuration records how long a pull or push cycle took
	RecordCycleDuration(op, model string, d time.Duration)

	// RecordRecords records how many records a cycle moved
	RecordRecords(op, model string, count int)

	// RecordConflicts records how many conflicts a pull detected
	RecordConflicts(model string, count int)

	// RecordCycleErrors records fatal cycle errors
	RecordCycleErrors(op, model, reason string)
}

// NoOpMetricsCollector is a stub implementation that discards metrics.
type NoOpMetricsCollector struct{}

func (*NoOpMetricsCollector) RecordCycleDuration(op, model string, d time.Duration) {}
func (*NoOpMetricsCollector) RecordRecords(op, model string, count int)             {}
func (*NoOpMetricsCollector) RecordConflicts(model string, count int)               {}
func (*NoOpMetricsCollector) RecordCycleErrors(op, model, reason string)            {}
