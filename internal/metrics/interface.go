package metrics

// Collector is the interface for metrics collection. Implementations: the
// Prometheus-backed collector and the no-op default.
type Collector interface {
	RecordOperation(operation, status string, durationMs int64)
	RecordError(operation, errorType string)
	SetStorageCount(storageType string, count int64)
}
