// Package metrics exposes step pipeline counters to Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"turtleworld.ai/internal/sim/world"
)

// StepCollector implements world.StepObserver.
type StepCollector struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	Steps        prometheus.Counter
	Timeouts     prometheus.Counter
	StepDuration prometheus.Histogram
	Bodies       prometheus.Gauge
	Objects      prometheus.Gauge
	Reported     prometheus.Gauge
	Influences   *prometheus.CounterVec
	Motions      *prometheus.CounterVec
}

// NewStepCollector registers the step metrics against reg, defaulting to the
// global registry when nil.
func NewStepCollector(reg prometheus.Registerer) (*StepCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &StepCollector{
		reg:      reg,
		gatherer: gatherer,
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turtleworld_steps_total",
			Help: "Completed environment steps.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turtleworld_step_timeouts_total",
			Help: "Steps forced forward by the influence timeout.",
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "turtleworld_step_duration_seconds",
			Help:    "Wall time of a step from perception to notification.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		Bodies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turtleworld_active_bodies",
			Help: "Bodies registered after the last step.",
		}),
		Objects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turtleworld_objects",
			Help: "Objects in the world after the last step.",
		}),
		Reported: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turtleworld_step_reported_ratio",
			Help: "Share of expected bodies that reported in the last step.",
		}),
		Influences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turtleworld_influences_total",
			Help: "Resolved influences by kind.",
		}, []string{"kind"}),
		Motions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turtleworld_motion_outcomes_total",
			Help: "Motion results by status and boundary outcome.",
		}, []string{"status", "boundary"}),
	}
	for name, col := range map[string]prometheus.Collector{
		"turtleworld_steps_total":           c.Steps,
		"turtleworld_step_timeouts_total":   c.Timeouts,
		"turtleworld_step_duration_seconds": c.StepDuration,
		"turtleworld_active_bodies":         c.Bodies,
		"turtleworld_objects":               c.Objects,
		"turtleworld_step_reported_ratio":   c.Reported,
		"turtleworld_influences_total":      c.Influences,
		"turtleworld_motion_outcomes_total": c.Motions,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	return c, nil
}

func (c *StepCollector) ObserveStep(r world.StepReport) {
	if c == nil {
		return
	}
	c.Steps.Inc()
	if r.TimedOut {
		c.Timeouts.Inc()
	}
	c.StepDuration.Observe(r.Wall.Seconds())
	c.Bodies.Set(float64(r.Bodies))
	c.Objects.Set(float64(r.Objects))
	if r.Expected > 0 {
		c.Reported.Set(float64(r.Reported) / float64(r.Expected))
	} else {
		c.Reported.Set(1)
	}
	for kind, n := range r.Influences {
		c.Influences.WithLabelValues(string(kind)).Add(float64(n))
	}
	for m, n := range r.Motions {
		c.Motions.WithLabelValues(string(m.Status), string(m.Boundary)).Add(float64(n))
	}
}

// AddGaugeFunc registers a gauge sampled from fn at scrape time.
func (c *StepCollector) AddGaugeFunc(name, help string, fn func() float64) error {
	return c.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *StepCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
