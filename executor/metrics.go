package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricTasksSpawned  = "tasks_spawned_total"
	MetricTasksPanicked = "tasks_panicked_total"
	MetricTasksInflight = "tasks_inflight"
	MetricTasksPending  = "tasks_pending"

	kindAsync    = "async"
	kindBlocking = "blocking"
)

type metrics struct {
	spawned  *prometheus.CounterVec
	panicked *prometheus.CounterVec
	inflight prometheus.Gauge
	pending  prometheus.GaugeFunc
}

// newMetrics creates the executor metrics. They are always updated, and
// exported only if registered.
func newMetrics(name string, pending func() float64) *metrics {
	labels := prometheus.Labels{"runtime": name}
	return &metrics{
		spawned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "asyncrt",
				Name:        MetricTasksSpawned,
				Help:        "Number of tasks spawned, by kind.",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		panicked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "asyncrt",
				Name:        MetricTasksPanicked,
				Help:        "Number of tasks resolved with a panic, by kind.",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   "asyncrt",
				Name:        MetricTasksInflight,
				Help:        "Number of async tasks spawned and not yet resolved.",
				ConstLabels: labels,
			},
		),
		pending: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   "asyncrt",
				Name:        MetricTasksPending,
				Help:        "Number of async tasks ready to run and waiting for a worker.",
				ConstLabels: labels,
			},
			pending,
		),
	}
}

// register registers all or none of the metrics.
func (m *metrics) register(reg prometheus.Registerer) error {
	registered := []prometheus.Collector{}
	for _, c := range []prometheus.Collector{m.spawned, m.panicked, m.inflight, m.pending} {
		if err := reg.Register(c); err != nil {
			for _, r := range registered {
				reg.Unregister(r)
			}
			return err
		}
		registered = append(registered, c)
	}
	return nil
}

func (m *metrics) unregister(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{m.spawned, m.panicked, m.inflight, m.pending} {
		reg.Unregister(c)
	}
}
