// Package metrics collects scenario and probe counts and writes them in the
// node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ScenariosTotal   *prometheus.CounterVec
	ScenarioDuration *prometheus.HistogramVec
	ProbesTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		ScenariosTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dotcap",
				Name:      "scenarios_total",
				Help:      "Scenarios run, by result.",
			},
			[]string{"result"},
		),
		ScenarioDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dotcap",
				Name:      "scenario_duration_seconds",
				Help:      "Wall time of each scenario including setup and teardown.",
				Buckets:   []float64{5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"scenario"},
		),
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dotcap",
				Name:      "probes_total",
				Help:      "Reachability probes sent, by outcome.",
			},
			[]string{"outcome"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.ScenariosTotal, m.ScenarioDuration, m.ProbesTotal)
	return m
}

func (m *Metrics) ObserveScenario(name, result string, d time.Duration) {
	m.ScenariosTotal.WithLabelValues(result).Inc()
	m.ScenarioDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) ObserveProbe(ok bool) {
	outcome := "lost"
	if ok {
		outcome = "reply"
	}
	m.ProbesTotal.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes every metric to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
