package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe so components can run without a registry.
type Metrics struct {
	operations *prometheus.CounterVec
	swept      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contact_broker",
			Name:      "operations_total",
			Help:      "Broker operations by name and outcome.",
		}, []string{"op", "result"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contact_broker",
			Name:      "swept_total",
			Help:      "Contact requests marked EXPIRED by the sweeper.",
		}),
	}
	reg.MustRegister(m.operations, m.swept)
	return m
}

func (m *Metrics) Observe(op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
