package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncJobs counts jobs reaching a status.
	IncJobs(status string)

	// ObserveJobDuration records the processing time of a finished job.
	ObserveJobDuration(status string, duration time.Duration)

	// SetJobsInFlight sets the number of jobs being processed.
	SetJobsInFlight(count int)

	// IncWindows counts windows passing through a pipeline stage.
	IncWindows(stage string)

	// ObserveInference records one predictor call.
	ObserveInference(success bool, duration time.Duration)

	// IncInferenceRetries counts retried predictor calls.
	IncInferenceRetries()

	// AddVectors counts extracted vectors.
	AddVectors(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncJobs implements MetricsCollector.
func (n *NoOpMetrics) IncJobs(_ string) {}

// ObserveJobDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveJobDuration(_ string, _ time.Duration) {}

// SetJobsInFlight implements MetricsCollector.
func (n *NoOpMetrics) SetJobsInFlight(_ int) {}

// IncWindows implements MetricsCollector.
func (n *NoOpMetrics) IncWindows(_ string) {}

// ObserveInference implements MetricsCollector.
func (n *NoOpMetrics) ObserveInference(_ bool, _ time.Duration) {}

// IncInferenceRetries implements MetricsCollector.
func (n *NoOpMetrics) IncInferenceRetries() {}

// AddVectors implements MetricsCollector.
func (n *NoOpMetrics) AddVectors(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
