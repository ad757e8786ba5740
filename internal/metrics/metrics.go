// Package metrics records per-run counters and writes them as a Prometheus
// textfile for node_exporter's textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "adaliases"

// LookupSuccess is the result label of a lookup that returned aliases.
const LookupSuccess = "success"

// Recorder holds the collectors of one run on a private registry. A nil
// *Recorder discards every observation.
type Recorder struct {
	registry *prometheus.Registry

	UsersFetched   prometheus.Gauge
	EntriesDropped prometheus.Gauge
	RowsWritten    prometheus.Counter
	Lookups        *prometheus.CounterVec
	RunDuration    *prometheus.GaugeVec
	RunSuccess     *prometheus.GaugeVec
	LastSuccess    *prometheus.GaugeVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		UsersFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "directory", Name: "users_fetched",
			Help: "Directory users with an employee identifier returned by the last search.",
		}),
		EntriesDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "directory", Name: "entries_dropped",
			Help: "Directory entries discarded by the last search.",
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "report", Name: "rows_written_total",
			Help: "Rows committed to report files.",
		}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "identity", Name: "alias_lookups_total",
			Help: "Alias lookups by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "run", Name: "duration_seconds",
			Help: "Wall time of the run.",
		}, []string{"mode"}),
		RunSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "run", Name: "success",
			Help: "1 if the run completed its mode without a fatal error.",
		}, []string{"mode"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "run", Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}, []string{"mode"}),
	}

	r.registry.MustRegister(
		r.UsersFetched,
		r.EntriesDropped,
		r.RowsWritten,
		r.Lookups,
		r.RunDuration,
		r.RunSuccess,
		r.LastSuccess,
	)
	return r
}

// Registry exposes the private registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveFetch records the outcome of a directory search.
func (r *Recorder) ObserveFetch(users, dropped int) {
	if r == nil {
		return
	}
	r.UsersFetched.Set(float64(users))
	r.EntriesDropped.Set(float64(dropped))
}

// ObserveLookup counts one alias lookup under result.
func (r *Recorder) ObserveLookup(result string) {
	if r == nil {
		return
	}
	r.Lookups.WithLabelValues(result).Inc()
}

// AddRows counts committed report rows.
func (r *Recorder) AddRows(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.RowsWritten.Add(float64(n))
}

// ObserveRun records the run outcome for mode.
func (r *Recorder) ObserveRun(mode string, duration time.Duration, success bool, now time.Time) {
	if r == nil {
		return
	}
	r.RunDuration.WithLabelValues(mode).Set(duration.Seconds())
	if success {
		r.RunSuccess.WithLabelValues(mode).Set(1)
		r.LastSuccess.WithLabelValues(mode).Set(float64(now.Unix()))
		return
	}
	r.RunSuccess.WithLabelValues(mode).Set(0)
}

// WriteTextfile writes the collected metrics to path in the text exposition
// format. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
