package metrics

// NoopCollector is the default collector when metrics are disabled.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordOperation(operation, status string, durationMs int64) {}

func (n *NoopCollector) RecordError(operation, errorType string) {}

func (n *NoopCollector) SetStorageCount(storageType string, count int64) {}
