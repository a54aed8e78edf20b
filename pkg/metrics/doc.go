/*
Package metrics provides Prometheus metrics collection and exposition for the
agent.

The metrics package defines and registers the agent's metrics using the
Prometheus client library, providing observability into guest counts,
instruction dispatch, upstream emission, and the performance-collection
engine. Metrics are exposed via HTTP endpoint for scraping by Prometheus
servers; liveness and readiness handlers ride on the same listener.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry               │          │
	│  │  - Global DefaultRegistry                  │          │
	│  │  - MustRegister at package init            │          │
	│  │  - Automatic Go runtime metrics            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                │          │
	│  │                                            │          │
	│  │  Guests: defined/active counts             │          │
	│  │  Dispatch: per-action success/failure,     │          │
	│  │            handling duration, admission    │          │
	│  │  Emitter: per-kind message counts,         │          │
	│  │           bus error count                  │          │
	│  │  Events: lifecycle callback count          │          │
	│  │  Perf: sample counts, live cursor gauge    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           HTTP Endpoints                   │          │
	│  │  /metrics  - Prometheus exposition         │          │
	│  │  /health   - component health summary      │          │
	│  │  /ready    - hypervisor + bus readiness    │          │
	│  │  /live     - process liveness              │          │
	│  └────────────────────────────────────────────┘          │
	│                                                          │
	└──────────────────────────────────────────────────────────┘

# Usage

Counters and gauges are package-level variables incremented at the call site:

	metrics.DispatchedInstructions.WithLabelValues("create_guest").Inc()
	metrics.PerfCursors.Set(float64(store.Len()))

Durations use the Timer helper:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatchDuration, action)

The health checker tracks named components; the supervisor registers
"hypervisor" and "bus" on startup and flips them as connections come and go.
*/
package metrics
