// Package audit emits and queries the engine's audit trail. Every
// state-changing operation, session creation, and access check produces one
// event. Emission is fire-and-forget: a failed enqueue is logged, never
// surfaced to the caller.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Event is one audit record.
type Event struct {
	Op        string            `json:"op"`
	Principal string            `json:"principal"`
	Entity    string            `json:"entity"`
	EntityID  string            `json:"entity_id"`
	Outcome   string            `json:"outcome"`
	At        time.Time         `json:"at"`
	Props     map[string]string `json:"props,omitempty"`
}

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// TaskTypeRecord is the asynq task type carrying one audit event.
const TaskTypeRecord = "audit:record"

// AsynqRecorder enqueues events for the background worker to persist.
type AsynqRecorder struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqRecorder constructs a recorder over an asynq client.
func NewAsynqRecorder(client *asynq.Client, logger *slog.Logger) *AsynqRecorder {
	return &AsynqRecorder{client: client, logger: logger}
}

var _ Recorder = (*AsynqRecorder)(nil)

// Record enqueues the event. The event timestamp is stamped here when the
// caller left it zero so queue latency does not skew the trail.
func (r *AsynqRecorder) Record(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("audit marshal", slog.Any("error", err))
		return
	}
	if _, err := r.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeRecord, payload)); err != nil {
		r.logger.Error("audit enqueue", slog.String("op", event.Op), slog.Any("error", err))
	}
}

// NopRecorder discards events. Used in tests and when auditing is disabled.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Event) {}
