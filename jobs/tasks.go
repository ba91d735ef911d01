package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bastion-iam/bastion/internal/audit"
	jobmetrics "github.com/bastion-iam/bastion/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditPurge trims the audit trail down to the retention
	// window. Enqueued by the scheduler.
	TaskTypeAuditPurge = "audit:purge"
)

// AuditWriter persists and trims audit events. Implemented by
// audit.Writer.
type AuditWriter interface {
	Write(ctx context.Context, event audit.Event) error
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPurgePayload carries the retention window for a purge run.
type AuditPurgePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPurgeTask constructs the purge task the scheduler enqueues.
func NewAuditPurgeTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPurgePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditPurge, data), nil
}

// AuditTasks bundles the handlers that drain the audit queue.
type AuditTasks struct {
	writer  AuditWriter
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewAuditTasks constructs the handlers. metrics may be nil.
func NewAuditTasks(writer AuditWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditTasks {
	return &AuditTasks{writer: writer, logger: logger, metrics: metrics}
}

// HandleRecord persists one enqueued audit event. A payload that cannot
// be decoded is dropped rather than retried.
func (t *AuditTasks) HandleRecord(ctx context.Context, task *asynq.Task) error {
	tracker := t.metrics.Track("audit_record")
	var event audit.Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		t.logger.Error("audit record decode", slog.Any("error", err))
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	if err := t.writer.Write(ctx, event); err != nil {
		t.logger.Error("audit record write", slog.String("op", event.Op), slog.Any("error", err))
		return tracker.End(err)
	}
	t.metrics.AddEvents(event.Outcome, 1)
	return tracker.End(nil)
}

// HandlePurge deletes audit events older than the retention window.
func (t *AuditTasks) HandlePurge(ctx context.Context, task *asynq.Task) error {
	tracker := t.metrics.Track("audit_purge")
	var payload AuditPurgePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -payload.RetentionDays)
	removed, err := t.writer.Purge(ctx, cutoff)
	if err != nil {
		t.logger.Error("audit purge", slog.Any("error", err))
		return tracker.End(err)
	}
	t.logger.Info("audit purge", slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff))
	return tracker.End(nil)
}
