package guestagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jimv/vmagent/pkg/hypervisor"
)

// agentDomain fakes just the agent channel of a domain.
type agentDomain struct {
	hypervisor.Domain

	// replies maps execute name to a queue of raw replies.
	replies map[string][]string
	calls   map[string]int
}

func (d *agentDomain) AgentCommand(ctx context.Context, cmd string, timeoutSeconds int) (string, error) {
	var parsed struct {
		Execute string `json:"execute"`
	}
	if err := json.Unmarshal([]byte(cmd), &parsed); err != nil {
		return "", err
	}
	d.calls[parsed.Execute]++

	queue := d.replies[parsed.Execute]
	if len(queue) == 0 {
		return "", fmt.Errorf("no reply for %s", parsed.Execute)
	}
	reply := queue[0]
	if len(queue) > 1 {
		d.replies[parsed.Execute] = queue[1:]
	}
	return reply, nil
}

func newAgentDomain() *agentDomain {
	return &agentDomain{
		replies: make(map[string][]string),
		calls:   make(map[string]int),
	}
}

func fastChannel(attempts int) *Channel {
	return New(Config{PollInterval: time.Microsecond, PollAttempts: attempts})
}

func TestExecStatusPollsUntilExit(t *testing.T) {
	dom := newAgentDomain()
	out := base64.StdEncoding.EncodeToString([]byte("done"))
	dom.replies["guest-exec-status"] = []string{
		`{"return":{"exited":false}}`,
		`{"return":{"exited":false}}`,
		fmt.Sprintf(`{"return":{"exited":true,"exitcode":0,"out-data":"%s"}}`, out),
	}

	status, err := fastChannel(1000).ExecStatus(context.Background(), dom, 42)
	if err != nil {
		t.Fatalf("ExecStatus() error = %v", err)
	}

	if !status.Exited {
		t.Error("command should have exited")
	}
	if string(status.OutData) != "done" {
		t.Errorf("out-data = %q", status.OutData)
	}
	if dom.calls["guest-exec-status"] != 3 {
		t.Errorf("polled %d times, want 3", dom.calls["guest-exec-status"])
	}
}

func TestExecStatusGivesUpAfterBudget(t *testing.T) {
	dom := newAgentDomain()
	dom.replies["guest-exec-status"] = []string{`{"return":{"exited":false}}`}

	status, err := fastChannel(50).ExecStatus(context.Background(), dom, 42)
	if err != nil {
		t.Fatalf("ExecStatus() error = %v, a non-exiting command is not an error", err)
	}

	if status.Exited {
		t.Error("command should still be running")
	}
	if dom.calls["guest-exec-status"] != 50 {
		t.Errorf("polled %d times, want exactly the 50-attempt budget", dom.calls["guest-exec-status"])
	}
}

func TestExecReturnsPID(t *testing.T) {
	dom := newAgentDomain()
	dom.replies["guest-exec"] = []string{`{"return":{"pid":777}}`}

	pid, err := fastChannel(10).Exec(context.Background(), dom, "/bin/sh", []string{"-c", "true"}, true)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if pid != 777 {
		t.Errorf("pid = %d, want 777", pid)
	}
}

func TestPing(t *testing.T) {
	dom := newAgentDomain()
	dom.replies["guest-ping"] = []string{`{"return":{}}`}

	c := fastChannel(10)
	if !c.Ping(context.Background(), dom) {
		t.Error("Ping() should succeed when the agent answers")
	}

	// No reply queued: the agent is unreachable.
	if c.Ping(context.Background(), newAgentDomain()) {
		t.Error("Ping() should fail when the agent does not answer")
	}
}

func TestMemoryInfo(t *testing.T) {
	dom := newAgentDomain()
	meminfo := "MemTotal:       16316448 kB\nMemFree:         6278376 kB\nHugePages_Total:       0\n"
	out := base64.StdEncoding.EncodeToString([]byte(meminfo))
	dom.replies["guest-exec"] = []string{`{"return":{"pid":5}}`}
	dom.replies["guest-exec-status"] = []string{
		fmt.Sprintf(`{"return":{"exited":true,"out-data":"%s"}}`, out),
	}

	values, units, err := fastChannel(10).MemoryInfo(context.Background(), dom)
	if err != nil {
		t.Fatalf("MemoryInfo() error = %v", err)
	}

	if values["MemTotal"] != "16316448" || units["MemTotal"] != "kB" {
		t.Errorf("MemTotal = %q %q", values["MemTotal"], units["MemTotal"])
	}
	if values["HugePages_Total"] != "0" {
		t.Errorf("HugePages_Total = %q", values["HugePages_Total"])
	}
	if _, ok := units["HugePages_Total"]; ok {
		t.Error("HugePages_Total has no unit")
	}
}
