package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jimv/vmagent/pkg/config"
	"github.com/jimv/vmagent/pkg/log"
	"github.com/jimv/vmagent/pkg/metrics"
	"github.com/jimv/vmagent/pkg/pidfile"
	"github.com/jimv/vmagent/pkg/supervisor"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vmagent",
	Short: "Per-host virtualization agent",
	Long: `vmagent runs one-per-physical-host and owns the guests on its host.

It consumes control-plane instructions from the message bus, executes them
against the local hypervisor, and publishes lifecycle events, command
responses and periodic performance samples back upstream.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vmagent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().StringVar(&configPath, "config", "/etc/vmagent/agent.yaml",
		"Path to the agent configuration file")
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logLevel := log.Level(cfg.Log.Level)
	if cfg.Debug {
		logLevel = log.DebugLevel
	}
	log.Init(log.Config{Level: logLevel, JSONOutput: cfg.Log.JSON})
	metrics.SetVersion(Version)

	if cfg.Daemon && os.Getenv(daemonEnv) == "" {
		return daemonize()
	}

	pf, err := pidfile.Create(cfg.PidFile)
	if err != nil {
		return err
	}
	defer pf.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := supervisor.New(cfg).Run(ctx); err != nil {
		log.Errorf("agent terminated", err)
		return err
	}

	log.Info("agent stopped")
	return nil
}

// daemonEnv marks the re-executed child so it does not fork again.
const daemonEnv = "VMAGENT_DAEMONIZED"

// daemonize re-executes the agent detached from the controlling terminal and
// lets the parent exit cleanly.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()

	attr := &os.ProcAttr{
		Env:   append(os.Environ(), daemonEnv+"=1"),
		Files: []*os.File{devnull, devnull, devnull},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	proc, err := os.StartProcess(exe, os.Args, attr)
	if err != nil {
		return fmt.Errorf("failed to daemonize: %w", err)
	}
	return proc.Release()
}
