// Package metrics exports simulation events as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gogpu/nbody"
	"github.com/gogpu/nbody/gpucore"
)

// Observer records nbody simulation events.
type Observer struct {
	frames     prometheus.Counter
	paused     prometheus.Counter
	aborts     prometheus.Counter
	frameTime  prometheus.Histogram
	deltaTime  prometheus.Gauge
	submits    *prometheus.CounterVec
	submitTime *prometheus.HistogramVec
	barriers   *prometheus.CounterVec
}

var _ nbody.Observer = (*Observer)(nil)

// New registers the simulation metrics with reg.
func New(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		frames: f.NewCounter(prometheus.CounterOpts{
			Name: "nbody_frames_total",
			Help: "Frames presented",
		}),
		paused: f.NewCounter(prometheus.CounterOpts{
			Name: "nbody_paused_frames_total",
			Help: "Frames presented with a zero step",
		}),
		aborts: f.NewCounter(prometheus.CounterOpts{
			Name: "nbody_frame_aborts_total",
			Help: "Frames aborted by a recording or submission failure",
		}),
		frameTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nbody_frame_seconds",
			Help:    "Host time to record, submit and present a frame",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		deltaTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "nbody_step_seconds",
			Help: "Simulation step of the latest frame",
		}),
		submits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nbody_submissions_total",
			Help: "Queue submissions by role",
		}, []string{"role"}),
		submitTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nbody_submission_seconds",
			Help:    "Host time to record and submit by role",
			Buckets: prometheus.DefBuckets,
		}, []string{"role"}),
		barriers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nbody_ownership_barriers_total",
			Help: "Queue family ownership barriers by kind",
		}, []string{"kind"}),
	}
}

// ObserveSubmit implements nbody.Observer.
func (o *Observer) ObserveSubmit(role gpucore.QueueRole, d time.Duration) {
	o.submits.WithLabelValues(role.String()).Inc()
	o.submitTime.WithLabelValues(role.String()).Observe(d.Seconds())
}

// ObserveFrame implements nbody.Observer.
func (o *Observer) ObserveFrame(s nbody.FrameStats) {
	o.frames.Inc()
	if s.Paused {
		o.paused.Inc()
	}
	o.frameTime.Observe(s.Duration.Seconds())
	o.deltaTime.Set(float64(s.DeltaTime))
	o.barriers.WithLabelValues("release").Add(float64(s.Releases))
	o.barriers.WithLabelValues("acquire").Add(float64(s.Acquires))
}

// ObserveAbort implements nbody.Observer.
func (o *Observer) ObserveAbort(error) {
	o.aborts.Inc()
}
