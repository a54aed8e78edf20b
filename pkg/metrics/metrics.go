package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Guest metrics
	GuestsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vmagent_guests_total",
			Help: "Total number of guests on this host by state",
		},
		[]string{"state"},
	)

	// Dispatch metrics
	DispatchedInstructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmagent_instructions_dispatched_total",
			Help: "Total number of instructions completed successfully by action",
		},
		[]string{"action"},
	)

	DispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmagent_instructions_failed_total",
			Help: "Total number of instructions that ended in a failure response by action",
		},
		[]string{"action"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vmagent_instruction_duration_seconds",
			Help:    "Instruction handling duration in seconds by action",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600}, // create/migrate run minutes
		},
		[]string{"action"},
	)

	AdmissionSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmagent_admission_skips_total",
			Help: "Total number of queue iterations skipped because the host was loaded",
		},
	)

	// Emitter metrics
	EmittedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmagent_emitted_messages_total",
			Help: "Total number of upstream messages emitted by kind",
		},
		[]string{"kind"},
	)

	BusErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmagent_bus_errors_total",
			Help: "Total number of bus operations that failed",
		},
	)

	// Event metrics
	LifecycleEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmagent_lifecycle_events_total",
			Help: "Total number of hypervisor lifecycle callbacks handled",
		},
	)

	// Performance-collection metrics
	PerfSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmagent_perf_samples_total",
			Help: "Total number of performance samples emitted by kind",
		},
		[]string{"kind"},
	)

	PerfCursors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmagent_perf_cursors",
			Help: "Current number of performance cursors held",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(GuestsTotal)
	prometheus.MustRegister(DispatchedInstructions)
	prometheus.MustRegister(DispatchFailures)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(AdmissionSkips)
	prometheus.MustRegister(EmittedMessages)
	prometheus.MustRegister(BusErrors)
	prometheus.MustRegister(LifecycleEvents)
	prometheus.MustRegister(PerfSamples)
	prometheus.MustRegister(PerfCursors)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
