package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent's whole configuration surface, loaded from one YAML
// file. Every engine reads its knobs from here; nothing is taken from the
// environment or from flags besides the config path itself.
type Config struct {
	Daemon  bool   `yaml:"daemon"`
	Debug   bool   `yaml:"debug"`
	PidFile string `yaml:"pidfile"`

	Bus       BusConfig        `yaml:"bus"`
	Libvirt   LibvirtConfig    `yaml:"libvirt"`
	Log       LogConfig        `yaml:"log"`
	Perf      PerfConfig       `yaml:"performance"`
	GuestAgent GuestAgentConfig `yaml:"guest_agent"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// BusConfig holds the Redis connection parameters and the queue/channel names
// the agent talks through.
type BusConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	DownstreamQueue    string `yaml:"downstream_queue"`
	InstructionChannel string `yaml:"instruction_channel"`
	UpstreamQueue      string `yaml:"upstream_queue"`
	CreatingGuestQueue string `yaml:"creating_guest_queue"`
}

// LibvirtConfig locates the local hypervisor daemon.
type LibvirtConfig struct {
	Socket string `yaml:"socket"`
}

// LogConfig mirrors pkg/log's Config in YAML form.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PerfConfig tunes the performance-collection engine.
type PerfConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// GuestAgentConfig tunes the in-guest command channel.
type GuestAgentConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
	PollAttempts   int `yaml:"poll_attempts"`
}

// PollInterval returns the poll gap as a duration.
func (g GuestAgentConfig) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalMS) * time.Millisecond
}

// MetricsConfig configures the local metrics/health HTTP listener. An empty
// address disables the listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with every field set to its shipping default.
func Default() *Config {
	return &Config{
		PidFile: "/var/run/vmagent.pid",
		Bus: BusConfig{
			Addr:               "127.0.0.1:6379",
			DownstreamQueue:    "downstream_queue",
			InstructionChannel: "instruction_channel",
			UpstreamQueue:      "upstream_queue",
			CreatingGuestQueue: "creating_guest",
		},
		Libvirt: LibvirtConfig{
			Socket: "/var/run/libvirt/libvirt-sock",
		},
		Log: LogConfig{
			Level: "info",
		},
		Perf: PerfConfig{
			IntervalSeconds: 60,
		},
		GuestAgent: GuestAgentConfig{
			TimeoutSeconds: 3,
			PollIntervalMS: 1,
			PollAttempts:   1000,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9300",
		},
	}
}

// Load reads path, overlays it onto the defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations no engine could run with.
func (c *Config) Validate() error {
	if c.Bus.Addr == "" {
		return fmt.Errorf("bus.addr must not be empty")
	}
	if c.Bus.DownstreamQueue == "" || c.Bus.InstructionChannel == "" ||
		c.Bus.UpstreamQueue == "" || c.Bus.CreatingGuestQueue == "" {
		return fmt.Errorf("every bus queue/channel name must be set")
	}
	if c.Libvirt.Socket == "" {
		return fmt.Errorf("libvirt.socket must not be empty")
	}
	if c.Perf.IntervalSeconds <= 0 {
		return fmt.Errorf("performance.interval_seconds must be positive, got %d", c.Perf.IntervalSeconds)
	}
	if c.GuestAgent.PollAttempts <= 0 {
		return fmt.Errorf("guest_agent.poll_attempts must be positive, got %d", c.GuestAgent.PollAttempts)
	}
	if c.PidFile == "" {
		return fmt.Errorf("pidfile must not be empty")
	}
	return nil
}
