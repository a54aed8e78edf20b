package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jimv/vmagent/pkg/bus"
	"github.com/jimv/vmagent/pkg/types"
)

// fakeBus records pushes and can be told to fail.
type fakeBus struct {
	pushed  []string
	queues  []string
	pushErr error
}

func (f *fakeBus) LPop(ctx context.Context, queue string) (string, error) { return "", bus.ErrEmpty }

func (f *fakeBus) RPush(ctx context.Context, queue string, message string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.queues = append(f.queues, queue)
	f.pushed = append(f.pushed, message)
	return nil
}

func (f *fakeBus) Publish(ctx context.Context, channel string, message string) error { return nil }

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (bus.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBus) Close() error { return nil }

func newTestEmitter(b bus.Bus) *Emitter {
	e := New(b, "upstream_queue", "host-1", 42)
	e.now = func() time.Time { return time.Unix(1700000000, 0) }
	e.sleep = func(time.Duration) {}
	return e
}

func TestEmitEnvelope(t *testing.T) {
	fb := &fakeBus{}
	e := newTestEmitter(fb)

	err := e.Emit(context.Background(), types.EmitKindHostEvent, "heartbeat", map[string]uint64{"node_id": 42})
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	if len(fb.pushed) != 1 {
		t.Fatalf("expected 1 push, got %d", len(fb.pushed))
	}
	if fb.queues[0] != "upstream_queue" {
		t.Errorf("queue = %q, want upstream_queue", fb.queues[0])
	}

	var msg types.UpstreamMessage
	if err := json.Unmarshal([]byte(fb.pushed[0]), &msg); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}

	if msg.Kind != types.EmitKindHostEvent {
		t.Errorf("kind = %q", msg.Kind)
	}
	if msg.Type != "heartbeat" {
		t.Errorf("type = %q", msg.Type)
	}
	if msg.TimestampS != 1700000000 {
		t.Errorf("timestamp = %d", msg.TimestampS)
	}
	if msg.Host != "host-1" {
		t.Errorf("host = %q", msg.Host)
	}
	if msg.NodeID != 42 {
		t.Errorf("node_id = %d", msg.NodeID)
	}
	if msg.TimestampS > time.Now().Unix() {
		t.Error("timestamp is in the future")
	}
}

func TestEmitBusFailureSleepsAndAbsorbs(t *testing.T) {
	fb := &fakeBus{pushErr: errors.New("connection refused")}
	e := New(fb, "upstream_queue", "host-1", 42)

	var slept time.Duration
	e.sleep = func(d time.Duration) { slept = d }

	if err := e.Emit(context.Background(), types.EmitKindLog, "info", "hello"); err != nil {
		t.Fatalf("Emit() should absorb bus errors, got %v", err)
	}
	if slept != backpressureDelay {
		t.Errorf("slept %v, want %v", slept, backpressureDelay)
	}
}

func TestDeriveNodeID(t *testing.T) {
	// md5("localhost") = 421aa90e079fa326b6494f812ad13e79; read as one hex
	// number its decimal form starts with the 16 digits below.
	id := DeriveNodeID("localhost")
	if id != 8786747627890303 {
		t.Errorf("DeriveNodeID(localhost) = %d, want 8786747627890303", id)
	}

	// Deterministic across calls.
	if DeriveNodeID("localhost") != id {
		t.Error("DeriveNodeID is not deterministic")
	}

	// Different hostnames land on different identities.
	if DeriveNodeID("otherhost") == id {
		t.Error("distinct hostnames should not collide")
	}
}

func TestResponseEmitterCarriesPassback(t *testing.T) {
	fb := &fakeBus{}
	r := NewResponseEmitter(newTestEmitter(fb))

	passback := json.RawMessage(`{"job_id":7}`)
	r.Success(context.Background(), "guest", "create_guest", "u-1", map[string]string{"k": "v"}, passback)
	r.Failure(context.Background(), "guest", "create_guest", "u-1", nil, passback)

	if len(fb.pushed) != 2 {
		t.Fatalf("expected 2 pushes, got %d", len(fb.pushed))
	}

	for i, want := range []string{"success", "failure"} {
		var msg types.UpstreamMessage
		if err := json.Unmarshal([]byte(fb.pushed[i]), &msg); err != nil {
			t.Fatalf("failed to decode envelope: %v", err)
		}
		if msg.Type != want {
			t.Errorf("type = %q, want %q", msg.Type, want)
		}

		var body ResponsePayload
		if err := json.Unmarshal(msg.Message, &body); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if string(body.PassbackParameters) != `{"job_id":7}` {
			t.Errorf("passback = %s", body.PassbackParameters)
		}
		if body.Action != "create_guest" || body.UUID != "u-1" {
			t.Errorf("addressing lost: %+v", body)
		}
	}
}
