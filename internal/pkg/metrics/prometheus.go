// Package metrics records fetch pipeline outcomes for Prometheus and keeps a
// per-source summary for the health endpoint.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scorito"

// Pipeline stages observed by ObserveStage.
const (
	StageRender    = "render"
	StageNormalize = "normalize"
	StageStore     = "store"
)

// Recorder owns its own registry so tests and processes never share state.
type Recorder struct {
	registry *prometheus.Registry

	outcomes    *prometheus.CounterVec
	stageTime   *prometheus.HistogramVec
	runTime     *prometheus.HistogramVec
	records     *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	triggers    *prometheus.CounterVec
	queueDepth  prometheus.Gauge

	mu      sync.RWMutex
	sources map[string]SourceStats
}

// SourceStats is the last known state of one source.
type SourceStats struct {
	Source       string        `json:"source"`
	Sport        string        `json:"sport"`
	LastState    string        `json:"last_state"`
	LastError    string        `json:"last_error,omitempty"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration_ns"`
	Records      int           `json:"records"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)

	r := &Recorder{
		registry: reg,
		sources:  make(map[string]SourceStats),
	}

	r.outcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "outcomes_total",
		Help:      "Fetch jobs by terminal state",
	}, []string{"sport", "source", "state"})

	r.stageTime = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each pipeline stage",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"sport", "stage"})

	r.runTime = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "run_duration_seconds",
		Help:      "End-to-end fetch job duration",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 240},
	}, []string{"sport"})

	r.records = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "records",
		Help:      "Records written by the last successful fetch",
	}, []string{"sport", "source"})

	r.lastSuccess = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "last_success_unixtime",
		Help:      "Unix time of the last successful cache write",
	}, []string{"sport", "source"})

	r.triggers = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresh",
		Name:      "triggers_total",
		Help:      "Refresh requests by result",
	}, []string{"source", "result"})

	r.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "refresh",
		Name:      "queue_depth",
		Help:      "Jobs waiting in the refresh queue after the last enqueue",
	})

	return r
}

// ObserveOutcome records a finished job. errMsg is empty unless the job failed.
func (r *Recorder) ObserveOutcome(sport, source, state string, records int, errMsg string, took time.Duration) {
	r.outcomes.WithLabelValues(sport, source, state).Inc()
	r.runTime.WithLabelValues(sport).Observe(took.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.sources[source]
	st.Source = source
	st.Sport = sport
	st.LastState = state
	st.LastError = errMsg
	st.LastRun = time.Now().UTC()
	st.LastDuration = took
	st.Runs++
	if errMsg != "" {
		st.Failures++
	}
	if records > 0 {
		st.Records = records
		r.records.WithLabelValues(sport, source).Set(float64(records))
		r.lastSuccess.WithLabelValues(sport, source).SetToCurrentTime()
	}
	r.sources[source] = st
}

func (r *Recorder) ObserveStage(sport, stage string, took time.Duration) {
	r.stageTime.WithLabelValues(sport, stage).Observe(took.Seconds())
}

func (r *Recorder) ObserveTrigger(source, result string) {
	r.triggers.WithLabelValues(source, result).Inc()
}

func (r *Recorder) SetQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// Snapshot returns per-source stats sorted by source key.
func (r *Recorder) Snapshot() []SourceStats {
	r.mu.RLock()
	out := make([]SourceStats, 0, len(r.sources))
	for _, st := range r.sources {
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
