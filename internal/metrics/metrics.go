// Package metrics exposes Prometheus counters for the control loops.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexus"

// Recorder holds every metric of the process. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	refreshes     *prometheus.CounterVec
	probes        *prometheus.CounterVec
	switches      *prometheus.CounterVec
	identity      *prometheus.CounterVec
	tickDuration  *prometheus.HistogramVec
	accounts      *prometheus.GaugeVec
	persistErrors prometheus.Counter
}

// New creates a recorder on a private registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		refreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Token refresh attempts by outcome category",
			},
			[]string{"trigger", "category"},
		),
		probes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_probe_total",
				Help:      "Status probes by outcome category",
			},
			[]string{"category"},
		),
		switches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "autoswitch_ticks_total",
				Help:      "Auto-switch ticks by outcome",
			},
			[]string{"outcome"},
		),
		identity: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_changes_total",
				Help:      "Machine identity operations by action and result",
			},
			[]string{"action", "result"},
		),
		tickDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loop_tick_duration_seconds",
				Help:      "Duration of control loop ticks",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"loop"},
		),
		accounts: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "accounts",
				Help:      "Managed accounts by status",
			},
			[]string{"status"},
		),
		persistErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_save_errors_total",
				Help:      "Failed snapshot saves",
			},
		),
	}
}

// Refresh counts one refresh outcome. trigger is "scheduled" or "manual".
func (r *Recorder) Refresh(trigger, category string) {
	if r == nil {
		return
	}
	if category == "" {
		category = "ok"
	}
	r.refreshes.WithLabelValues(trigger, category).Inc()
}

// Probe counts one probe outcome.
func (r *Recorder) Probe(category string) {
	if r == nil {
		return
	}
	if category == "" {
		category = "ok"
	}
	r.probes.WithLabelValues(category).Inc()
}

// AutoSwitch counts one auto-switch tick outcome.
func (r *Recorder) AutoSwitch(outcome string) {
	if r == nil {
		return
	}
	r.switches.WithLabelValues(outcome).Inc()
}

// Identity counts one identity operation.
func (r *Recorder) Identity(action string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.identity.WithLabelValues(action, result).Inc()
}

// ObserveTick records how long a loop tick took.
func (r *Recorder) ObserveTick(loop string, d time.Duration) {
	if r == nil {
		return
	}
	r.tickDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// SetAccounts replaces the per-status account gauge.
func (r *Recorder) SetAccounts(byStatus map[string]int) {
	if r == nil {
		return
	}
	r.accounts.Reset()
	for status, n := range byStatus {
		r.accounts.WithLabelValues(status).Set(float64(n))
	}
}

// PersistError counts a failed snapshot save.
func (r *Recorder) PersistError() {
	if r == nil {
		return
	}
	r.persistErrors.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
