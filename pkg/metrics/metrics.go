// Package metrics exports chain runs as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/andrej220/provchain/pkg/chain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector records step and run outcomes. It implements chain.Observer.
type Collector struct {
	registry     *prometheus.Registry
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	runs         *prometheus.CounterVec
}

var _ chain.Observer = (*Collector)(nil)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provchain_steps_total",
				Help: "Total number of finished chain steps",
			},
			[]string{"step", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provchain_step_duration_seconds",
				Help:    "Duration of chain steps up to forwarding",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"step"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provchain_runs_total",
				Help: "Total number of chain runs by final state",
			},
			[]string{"state", "reason"},
		),
	}
	c.registry.MustRegister(
		c.steps, c.stepDuration, c.runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) StepFinished(step string, elapsed time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.steps.WithLabelValues(step, outcome).Inc()
	c.stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
}

func (c *Collector) RunFinished(rep *chain.Report) {
	c.runs.WithLabelValues(string(rep.State), string(rep.Reason)).Inc()
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
