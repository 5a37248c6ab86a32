package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Observe("consume", "ok")
	m.Observe("consume", "not_found")
	m.Observe("consume", "not_found")
	m.Swept(3)
	m.Swept(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("consume", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("consume", "not_found")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.swept))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe("reveal", "ok")
		m.Swept(1)
	})
}
