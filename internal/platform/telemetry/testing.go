package telemetry

import "go.opentelemetry.io/otel/sdk/metric/metricdata"

// CounterValue sums the data points of the named int64 counter in rm.
// It returns 0 when the counter recorded nothing.
func CounterValue(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}
