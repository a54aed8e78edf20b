/*
Package log provides structured logging for the agent using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

The agent's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                   │          │
	│  │  - Zerolog instance                        │          │
	│  │  - Initialized via log.Init()              │          │
	│  │  - Thread-safe for concurrent use          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                    │          │
	│  │  - Level: debug/info/warn/error            │          │
	│  │  - Format: JSON or console (human)         │          │
	│  │  - Output: stdout, file, or custom writer  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Child Loggers                      │          │
	│  │  - WithComponent("dispatch")               │          │
	│  │  - WithGuestID(uuid)                       │          │
	│  │  - WithNodeID(id) / WithAction(name)       │          │
	│  └────────────────────────────────────────────┘          │
	│                                                          │
	└──────────────────────────────────────────────────────────┘

# Usage

Initialize once at startup, then log through the package-level helpers or a
child logger scoped to an engine or guest:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("perf-collector")
	logger.Info().Int("guests", n).Msg("sampling cycle complete")

	log.WithGuestID(uuid).Warn().Err(err).Msg("failed to read domain state")

Every engine derives its own component logger; the perf collector, the
lifecycle engine and the instruction consumer attach the guest UUID through
WithGuestID to messages about one guest, so that guest's history can be
filtered out of the combined stream.

Local logging is half the story: messages the control plane should see are
additionally mirrored upstream through pkg/emitter's LogEmitter, which wraps
this package rather than replacing it.
*/
package log
