package metrics

import (
	"time"
)

// MeasureDBQuery wraps a ledger operation with timing instrumentation.
// Usage:
//
//	defer metrics.MeasureDBQuery(m, "record_verification", "postgres")()
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}
