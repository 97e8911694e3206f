// Package metrics exposes driver and instance activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lemonberrylabs/particlefx/pkg/runtime"
	"github.com/lemonberrylabs/particlefx/pkg/types"
)

const namespace = "particlefx"

// Metrics collects driver activity. It implements runtime.Listener.
type Metrics struct {
	registry *prometheus.Registry

	ticks             prometheus.Counter
	evaluations       prometheus.Counter
	instancesStarted  *prometheus.CounterVec
	instancesDisabled *prometheus.CounterVec
	instancesFinished *prometheus.CounterVec
	liveInstances     prometheus.Gauge
	liveParticles     prometheus.Gauge
	tickDuration      prometheus.Histogram
}

var _ runtime.Listener = (*Metrics)(nil)

// New creates the metric set on its own registry, together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of driver ticks",
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "formula_evaluations_total",
			Help:      "Total number of per-particle formula evaluations",
		}),
		instancesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_started_total",
				Help:      "Total number of effect instances started",
			},
			[]string{"effect"},
		),
		instancesDisabled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_disabled_total",
				Help:      "Total number of effect instances disabled by an evaluation error",
			},
			[]string{"effect", "tag"},
		),
		instancesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_finished_total",
				Help:      "Total number of effect instances that ran to completion",
			},
			[]string{"effect"},
		),
		liveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_instances",
			Help:      "Number of running effect instances after the last tick",
		}),
		liveParticles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_particles",
			Help:      "Number of live particles after the last tick",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent stepping all instances in one tick",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks,
		m.evaluations,
		m.instancesStarted,
		m.instancesDisabled,
		m.instancesFinished,
		m.liveInstances,
		m.liveParticles,
		m.tickDuration,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) InstanceStarted(inst runtime.InstanceSnapshot) {
	m.instancesStarted.WithLabelValues(inst.EffectID).Inc()
}

func (m *Metrics) InstanceDisabled(inst runtime.InstanceSnapshot, err error) {
	tag := types.TagOf(err)
	if tag == "" {
		tag = "unknown"
	}
	m.instancesDisabled.WithLabelValues(inst.EffectID, tag).Inc()
}

func (m *Metrics) InstanceFinished(inst runtime.InstanceSnapshot) {
	m.instancesFinished.WithLabelValues(inst.EffectID).Inc()
}

func (m *Metrics) Ticked(stats runtime.TickStats) {
	m.ticks.Inc()
	m.evaluations.Add(float64(stats.Evaluations))
	m.liveInstances.Set(float64(stats.Instances))
	m.liveParticles.Set(float64(stats.Particles))
	m.tickDuration.Observe(stats.Duration.Seconds())
}
