// Package supervisor wires the engines together and owns their lifecycle:
// connect, start, wait for the event loop, register callbacks, run until
// signalled, tear down in reverse.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/jimv/vmagent/pkg/bus"
	"github.com/jimv/vmagent/pkg/config"
	"github.com/jimv/vmagent/pkg/dispatch"
	"github.com/jimv/vmagent/pkg/emitter"
	"github.com/jimv/vmagent/pkg/guest"
	"github.com/jimv/vmagent/pkg/guestagent"
	"github.com/jimv/vmagent/pkg/guestfs"
	"github.com/jimv/vmagent/pkg/heartbeat"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/lifecycle"
	"github.com/jimv/vmagent/pkg/log"
	"github.com/jimv/vmagent/pkg/metrics"
	"github.com/jimv/vmagent/pkg/perf"
	"github.com/jimv/vmagent/pkg/sshclient"
	"github.com/jimv/vmagent/pkg/storage"
)

// eventLoopStartupTimeout bounds the wait for the hypervisor event stream.
// Registering callbacks earlier races the daemon's timer initialization.
const eventLoopStartupTimeout = 10 * time.Second

// Supervisor owns every engine.
type Supervisor struct {
	cfg *config.Config
}

// New builds a supervisor for cfg.
func New(cfg *config.Config) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Run brings the agent up and blocks until ctx is cancelled. It returns only
// after every engine has drained.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := log.WithComponent("supervisor")

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to read hostname: %w", err)
	}
	nodeID := emitter.DeriveNodeID(hostname)
	logger.Info().Str("hostname", hostname).Uint64("node_id", nodeID).Msg("starting agent")

	// Fatal start-up errors: without the hypervisor or the bus there is no
	// agent.
	conn, err := hypervisor.Dial(s.cfg.Libvirt.Socket)
	if err != nil {
		metrics.RegisterComponent("hypervisor", false, err.Error())
		return err
	}
	defer conn.Close()
	metrics.RegisterComponent("hypervisor", true, "")

	b, err := bus.NewRedisBus(ctx, bus.Config{
		Addr:     s.cfg.Bus.Addr,
		Password: s.cfg.Bus.Password,
		DB:       s.cfg.Bus.DB,
	})
	if err != nil {
		metrics.RegisterComponent("bus", false, err.Error())
		return err
	}
	defer b.Close()
	metrics.RegisterComponent("bus", true, "")

	em := emitter.New(b, s.cfg.Bus.UpstreamQueue, hostname, nodeID)
	responses := emitter.NewResponseEmitter(em)
	logEmit := emitter.NewLogEmitter(em)
	guestEvents := emitter.NewGuestEventEmitter(em)
	hostEvents := emitter.NewHostEventEmitter(em)
	guestPerf := emitter.NewGuestPerfEmitter(em)
	hostPerf := emitter.NewHostPerfEmitter(em)

	agent := guestagent.New(guestagent.Config{
		TimeoutSeconds: s.cfg.GuestAgent.TimeoutSeconds,
		PollInterval:   s.cfg.GuestAgent.PollInterval(),
		PollAttempts:   s.cfg.GuestAgent.PollAttempts,
	})

	backends := storage.NewSet()

	// Each dispatch engine gets its own Env so the queue consumer's scene
	// tracking never crosses goroutines.
	newEnv := func(scene *guest.Scene) *guest.Env {
		return &guest.Env{
			Conn:               conn,
			Storage:            backends,
			Bus:                b,
			CreatingGuestQueue: s.cfg.Bus.CreatingGuestQueue,
			Events:             guestEvents,
			Log:                logEmit,
			Agent:              agent,
			Inspector:          guestfs.NewFish(),
			SSHDial:            sshclient.Dial,
			Scene:              scene,
		}
	}

	eventLoop := hypervisor.NewEventLoop(conn)
	lifecycleEngine := lifecycle.NewEngine(eventLoop, guestEvents, agent)

	queueConsumer := dispatch.NewQueueConsumer(
		b, s.cfg.Bus.DownstreamQueue, newEnv(guest.NewScene()),
		responses, logEmit, runtime.NumCPU())

	pubsubConsumer := dispatch.NewPubSubConsumer(
		b, s.cfg.Bus.InstructionChannel, newEnv(nil),
		responses, logEmit, hostname, s.cfg.Debug)

	collector := perf.NewCollector(conn, guestPerf, s.cfg.Perf.IntervalSeconds)
	hostCollector := perf.NewHostCollector(hostPerf, nodeID, s.cfg.Perf.IntervalSeconds)
	beat := heartbeat.NewEngine(hostEvents, nodeID)

	var metricsServer *http.Server
	if s.cfg.Metrics.Listen != "" {
		metricsServer = s.serveMetrics()
		defer metricsServer.Close()
	}

	var wg sync.WaitGroup
	start := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
		logger.Debug().Str("engine", name).Msg("engine started")
	}

	start("event-loop", func(ctx context.Context) {
		if err := eventLoop.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("event loop failed")
		}
	})
	start("queue-consumer", queueConsumer.Run)
	start("pubsub-consumer", func(ctx context.Context) {
		if err := pubsubConsumer.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("instruction consumer failed")
		}
	})
	start("perf-collector", collector.Run)
	start("host-perf-collector", hostCollector.Run)
	start("heartbeat", beat.Run)

	// Lifecycle callbacks only after the event stream is confirmed running.
	if err := eventLoop.WaitRunning(ctx, eventLoopStartupTimeout); err != nil {
		logger.Error().Err(err).Msg("event loop never came up")
	} else {
		lifecycleEngine.Register()
		logger.Info().Msg("lifecycle callbacks registered")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	lifecycleEngine.Deregister()
	wg.Wait()

	logger.Info().Msg("all engines drained")
	return nil
}

// serveMetrics exposes /metrics plus the health endpoints on the configured
// listener.
func (s *Supervisor) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	srv := &http.Server{Addr: s.cfg.Metrics.Listen, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Warn().Err(err).Msg("metrics listener failed")
		}
	}()
	return srv
}
