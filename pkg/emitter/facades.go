package emitter

import (
	"context"
	"encoding/json"

	"github.com/jimv/vmagent/pkg/log"
	"github.com/jimv/vmagent/pkg/types"
)

// LogEmitter mirrors local log lines onto the upstream queue so the control
// plane sees what each host saw.
type LogEmitter struct {
	e *Emitter
}

// NewLogEmitter wraps e for log emissions.
func NewLogEmitter(e *Emitter) *LogEmitter {
	return &LogEmitter{e: e}
}

func (l *LogEmitter) emit(ctx context.Context, level types.LogLevel, msg string) {
	switch level {
	case types.LogLevelDebug:
		log.Debug(msg)
	case types.LogLevelInfo:
		log.Info(msg)
	case types.LogLevelWarn:
		log.Warn(msg)
	case types.LogLevelError, types.LogLevelCritical:
		log.Error(msg)
	default:
		log.Debug(msg)
	}

	_ = l.e.Emit(ctx, types.EmitKindLog, string(level), msg)
}

func (l *LogEmitter) Debug(ctx context.Context, msg string) { l.emit(ctx, types.LogLevelDebug, msg) }
func (l *LogEmitter) Info(ctx context.Context, msg string)  { l.emit(ctx, types.LogLevelInfo, msg) }
func (l *LogEmitter) Warn(ctx context.Context, msg string)  { l.emit(ctx, types.LogLevelWarn, msg) }
func (l *LogEmitter) Error(ctx context.Context, msg string) { l.emit(ctx, types.LogLevelError, msg) }

// GuestEventPayload is the message body of every guest_event emission.
type GuestEventPayload struct {
	UUID              string `json:"uuid"`
	OSTemplateImageID string `json:"os_template_image_id,omitempty"`
	MigratingInfo     string `json:"migrating_info,omitempty"`
	XML               string `json:"xml,omitempty"`
	Progress          int    `json:"progress"`
}

// GuestEventEmitter publishes guest lifecycle transitions.
type GuestEventEmitter struct {
	e *Emitter
}

// NewGuestEventEmitter wraps e for guest_event emissions.
func NewGuestEventEmitter(e *Emitter) *GuestEventEmitter {
	return &GuestEventEmitter{e: e}
}

// State reports a plain state transition for uuid.
func (g *GuestEventEmitter) State(ctx context.Context, state types.GuestState, uuid string) {
	_ = g.e.Emit(ctx, types.EmitKindGuestEvent, string(state), GuestEventPayload{UUID: uuid})
}

// Creating reports create progress for uuid, 0-100.
func (g *GuestEventEmitter) Creating(ctx context.Context, uuid string, progress int) {
	_ = g.e.Emit(ctx, types.EmitKindGuestEvent, string(types.GuestStateCreating),
		GuestEventPayload{UUID: uuid, Progress: progress})
}

// Migrating reports migration progress detail for uuid.
func (g *GuestEventEmitter) Migrating(ctx context.Context, uuid string, info string) {
	_ = g.e.Emit(ctx, types.EmitKindGuestEvent, string(types.GuestStateMigrating),
		GuestEventPayload{UUID: uuid, MigratingInfo: info})
}

// SnapshotConverting reports template-conversion progress for uuid, 0-100.
func (g *GuestEventEmitter) SnapshotConverting(ctx context.Context, uuid, osTemplateImageID string, progress int) {
	_ = g.e.Emit(ctx, types.EmitKindGuestEvent, string(types.GuestStateSnapshotConverting),
		GuestEventPayload{UUID: uuid, OSTemplateImageID: osTemplateImageID, Progress: progress})
}

// Update carries a refreshed domain definition for uuid.
func (g *GuestEventEmitter) Update(ctx context.Context, uuid string, xml string) {
	_ = g.e.Emit(ctx, types.EmitKindGuestEvent, string(types.GuestStateUpdate),
		GuestEventPayload{UUID: uuid, XML: xml})
}

// HostEventEmitter publishes host-level events, currently just the heartbeat.
type HostEventEmitter struct {
	e *Emitter
}

// NewHostEventEmitter wraps e for host_event emissions.
func NewHostEventEmitter(e *Emitter) *HostEventEmitter {
	return &HostEventEmitter{e: e}
}

// Heartbeat emits the fixed-interval liveness beacon carrying the node_id.
func (h *HostEventEmitter) Heartbeat(ctx context.Context, nodeID uint64) {
	_ = h.e.Emit(ctx, types.EmitKindHostEvent, string(types.HostEventHeartbeat),
		map[string]uint64{"node_id": nodeID})
}

// ResponsePayload is the message body of every response emission. It carries
// the original instruction's addressing so the control plane can correlate.
type ResponsePayload struct {
	Object             string          `json:"_object"`
	Action             string          `json:"action"`
	UUID               string          `json:"uuid"`
	Data               interface{}     `json:"data,omitempty"`
	PassbackParameters json.RawMessage `json:"passback_parameters,omitempty"`
}

// ResponseEmitter publishes command outcomes.
type ResponseEmitter struct {
	e *Emitter
}

// NewResponseEmitter wraps e for response emissions.
func NewResponseEmitter(e *Emitter) *ResponseEmitter {
	return &ResponseEmitter{e: e}
}

// Success reports a completed instruction, echoing its passback parameters.
func (r *ResponseEmitter) Success(ctx context.Context, object, action, uuid string, data interface{}, passback json.RawMessage) {
	_ = r.e.Emit(ctx, types.EmitKindResponse, string(types.ResponseStateSuccess), ResponsePayload{
		Object: object, Action: action, UUID: uuid, Data: data, PassbackParameters: passback,
	})
}

// Failure reports a failed instruction, echoing its passback parameters.
func (r *ResponseEmitter) Failure(ctx context.Context, object, action, uuid string, data interface{}, passback json.RawMessage) {
	_ = r.e.Emit(ctx, types.EmitKindResponse, string(types.ResponseStateFailure), ResponsePayload{
		Object: object, Action: action, UUID: uuid, Data: data, PassbackParameters: passback,
	})
}

// GuestPerfEmitter publishes per-guest performance samples.
type GuestPerfEmitter struct {
	e *Emitter
}

// NewGuestPerfEmitter wraps e for guest performance emissions.
func NewGuestPerfEmitter(e *Emitter) *GuestPerfEmitter {
	return &GuestPerfEmitter{e: e}
}

func (g *GuestPerfEmitter) emit(ctx context.Context, typ types.GuestCollectionPerformanceDataKind, data interface{}) {
	_ = g.e.Emit(ctx, types.EmitKindGuestCollectionPerf, string(typ),
		map[string]interface{}{"data": data})
}

// CPUMemory emits one interval's cpu/memory samples.
func (g *GuestPerfEmitter) CPUMemory(ctx context.Context, data interface{}) {
	g.emit(ctx, types.GuestPerfCPUMemory, data)
}

// Traffic emits one interval's interface samples.
func (g *GuestPerfEmitter) Traffic(ctx context.Context, data interface{}) {
	g.emit(ctx, types.GuestPerfTraffic, data)
}

// DiskIO emits one interval's block-device samples.
func (g *GuestPerfEmitter) DiskIO(ctx context.Context, data interface{}) {
	g.emit(ctx, types.GuestPerfDiskIO, data)
}

// HostPerfEmitter publishes host-level performance samples.
type HostPerfEmitter struct {
	e *Emitter
}

// NewHostPerfEmitter wraps e for host performance emissions.
func NewHostPerfEmitter(e *Emitter) *HostPerfEmitter {
	return &HostPerfEmitter{e: e}
}

func (h *HostPerfEmitter) emit(ctx context.Context, typ types.HostCollectionPerformanceDataKind, data interface{}) {
	_ = h.e.Emit(ctx, types.EmitKindHostCollectionPerf, string(typ),
		map[string]interface{}{"data": data})
}

// CPUMemory emits one interval's host cpu/memory sample.
func (h *HostPerfEmitter) CPUMemory(ctx context.Context, data interface{}) {
	h.emit(ctx, types.HostPerfCPUMemory, data)
}

// Traffic emits one interval's host interface sample.
func (h *HostPerfEmitter) Traffic(ctx context.Context, data interface{}) {
	h.emit(ctx, types.HostPerfTraffic, data)
}

// DiskUsageIO emits one interval's host disk usage/io sample.
func (h *HostPerfEmitter) DiskUsageIO(ctx context.Context, data interface{}) {
	h.emit(ctx, types.HostPerfDiskUsageIO, data)
}
