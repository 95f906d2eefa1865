package webserver

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lattice-net/netweb/internal/metrics"
)

// newTestMetrics returns a Metrics instance registered against a fresh
// registry, so running many tests in one process never collides on
// prometheus's global DefaultRegisterer.
func newTestMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}
