package telemetry

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/huykn/reactive-sync/types"
)

// PrometheusObserver exports recorded metrics as Prometheus series.
type PrometheusObserver struct {
	duration  *prometheus.HistogramVec
	total     *prometheus.CounterVec
	mutations prometheus.Counter
}

// NewPrometheusObserver creates the collectors and registers them on reg
// (or the default registerer if nil). Collectors that are already
// registered are reused.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reactive_sync_operation_duration_seconds",
		Help:    "Duration of tracked sync operations",
		Buckets: []float64{0.025, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind", "result"})
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactive_sync_operations_total",
		Help: "Tracked sync operations by kind and result",
	}, []string{"kind", "result"})
	mutations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactive_sync_mutations_total",
		Help: "Mutation operations recorded",
	})

	var err error
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if total, err = register(reg, total); err != nil {
		return nil, err
	}
	if mutations, err = register(reg, mutations); err != nil {
		return nil, err
	}

	return &PrometheusObserver{duration: duration, total: total, mutations: mutations}, nil
}

// Observe implements Observer.
func (p *PrometheusObserver) Observe(m types.PerformanceMetric) {
	kind := operationKind(m.Operation)
	result := "success"
	if !m.Success {
		result = "failure"
	}
	p.duration.WithLabelValues(kind, result).Observe(m.Duration.Seconds())
	p.total.WithLabelValues(kind, result).Inc()
	if strings.Contains(m.Operation, "mutation") {
		p.mutations.Inc()
	}
}

// operationKind keeps label cardinality bounded: "refetch:users" → "refetch".
func operationKind(op string) string {
	if i := strings.IndexByte(op, ':'); i > 0 {
		return op[:i]
	}
	return op
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
