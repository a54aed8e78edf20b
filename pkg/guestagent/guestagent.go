// Package guestagent wraps the in-guest agent command channel: execute a
// command inside the guest, poll its status to completion, and the handful
// of one-shot guest-* commands the operations use (ping, set-time).
package guestagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jimv/vmagent/pkg/hypervisor"
)

// Config tunes the channel. The poll loop preserves the original cadence by
// default (1000 attempts of 1ms, roughly one second) but both knobs are
// configuration now rather than literals.
type Config struct {
	// TimeoutSeconds is passed to the hypervisor's agent-command call.
	TimeoutSeconds int
	PollInterval   time.Duration
	PollAttempts   int
}

// DefaultConfig mirrors the original cadence.
func DefaultConfig() Config {
	return Config{
		TimeoutSeconds: 3,
		PollInterval:   time.Millisecond,
		PollAttempts:   1000,
	}
}

// Channel issues agent commands against domains.
type Channel struct {
	cfg Config
}

// New builds a Channel with cfg; zero fields fall back to the defaults.
func New(cfg Config) *Channel {
	def := DefaultConfig()
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = def.TimeoutSeconds
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = def.PollAttempts
	}
	return &Channel{cfg: cfg}
}

// ExecStatus is the completion state of one in-guest command.
type ExecStatus struct {
	Exited   bool
	ExitCode int
	// OutData is the decoded captured stdout.
	OutData []byte
}

type agentCommand struct {
	Execute   string      `json:"execute"`
	Arguments interface{} `json:"arguments"`
}

func marshalCommand(execute string, args interface{}) string {
	b, _ := json.Marshal(agentCommand{Execute: execute, Arguments: args})
	return string(b)
}

// Ping probes the guest agent. A timely reply distinguishes running from
// booting.
func (c *Channel) Ping(ctx context.Context, dom hypervisor.Domain) bool {
	_, err := dom.AgentCommand(ctx, marshalCommand("guest-ping", struct{}{}), c.cfg.TimeoutSeconds)
	return err == nil
}

// SetTime synchronizes the guest clock to nowNs nanoseconds since the epoch.
func (c *Channel) SetTime(ctx context.Context, dom hypervisor.Domain, nowNs int64) error {
	_, err := dom.AgentCommand(ctx, marshalCommand("guest-set-time", map[string]int64{"time": nowNs}), c.cfg.TimeoutSeconds)
	if err != nil {
		return fmt.Errorf("failed to set guest time: %w", err)
	}
	return nil
}

// Exec starts path with args inside the guest and returns the in-guest pid.
func (c *Channel) Exec(ctx context.Context, dom hypervisor.Domain, path string, args []string, captureOutput bool) (int, error) {
	cmd := marshalCommand("guest-exec", map[string]interface{}{
		"path":           path,
		"arg":            args,
		"capture-output": captureOutput,
	})

	raw, err := dom.AgentCommand(ctx, cmd, c.cfg.TimeoutSeconds)
	if err != nil {
		return 0, fmt.Errorf("failed to exec %s in guest: %w", path, err)
	}

	var reply struct {
		Return struct {
			PID int `json:"pid"`
		} `json:"return"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return 0, fmt.Errorf("failed to decode guest-exec reply: %w", err)
	}
	return reply.Return.PID, nil
}

// ExecStatus polls the command-status endpoint until the command exits or the
// attempt budget runs out. A command still running after the budget is
// reported with Exited == false, not as an error; the caller treats it as
// not-ready.
func (c *Channel) ExecStatus(ctx context.Context, dom hypervisor.Domain, pid int) (ExecStatus, error) {
	cmd := marshalCommand("guest-exec-status", map[string]int{"pid": pid})

	var reply struct {
		Return struct {
			Exited   bool   `json:"exited"`
			ExitCode int    `json:"exitcode"`
			OutData  string `json:"out-data"`
		} `json:"return"`
	}

	for i := 0; i < c.cfg.PollAttempts && !reply.Return.Exited; i++ {
		raw, err := dom.AgentCommand(ctx, cmd, c.cfg.TimeoutSeconds)
		if err != nil {
			return ExecStatus{}, fmt.Errorf("failed to query exec status of pid %d: %w", pid, err)
		}

		reply.Return.OutData = ""
		if err := json.Unmarshal([]byte(raw), &reply); err != nil {
			return ExecStatus{}, fmt.Errorf("failed to decode exec status: %w", err)
		}

		if !reply.Return.Exited {
			select {
			case <-ctx.Done():
				return ExecStatus{}, ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}

	out, err := base64.StdEncoding.DecodeString(reply.Return.OutData)
	if err != nil {
		return ExecStatus{}, fmt.Errorf("failed to decode exec output: %w", err)
	}

	return ExecStatus{
		Exited:   reply.Return.Exited,
		ExitCode: reply.Return.ExitCode,
		OutData:  out,
	}, nil
}

// MemoryInfo harvests /proc/meminfo from inside the guest. Values are keyed
// by field name; units (usually kB) ride along in a parallel map.
func (c *Channel) MemoryInfo(ctx context.Context, dom hypervisor.Domain) (map[string]string, map[string]string, error) {
	pid, err := c.Exec(ctx, dom, "cat", []string{"/proc/meminfo"}, true)
	if err != nil {
		return nil, nil, err
	}

	status, err := c.ExecStatus(ctx, dom, pid)
	if err != nil {
		return nil, nil, err
	}
	if !status.Exited {
		return nil, nil, fmt.Errorf("meminfo harvest did not complete")
	}

	values := make(map[string]string)
	units := make(map[string]string)
	for _, line := range strings.Split(string(status.OutData), "\n") {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(v)
		if len(fields) == 0 {
			continue
		}
		values[k] = fields[0]
		if len(fields) > 1 {
			units[k] = fields[1]
		}
	}
	return values, units, nil
}
