package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/bastion-iam/bastion/internal/audit"
)

type fakeWriter struct {
	written  []audit.Event
	writeErr error
	cutoffs  []time.Time
}

func (w *fakeWriter) Write(ctx context.Context, event audit.Event) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	w.written = append(w.written, event)
	return nil
}

func (w *fakeWriter) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	w.cutoffs = append(w.cutoffs, cutoff)
	return 3, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleRecordPersistsEvent(t *testing.T) {
	w := &fakeWriter{}
	tasks := NewAuditTasks(w, discardLogger(), nil)

	task := asynq.NewTask(audit.TaskTypeRecord,
		[]byte(`{"op":"user.create","principal":"alice","entity":"user","entity_id":"bob","outcome":"success"}`))
	require.NoError(t, tasks.HandleRecord(context.Background(), task))
	require.Len(t, w.written, 1)
	require.Equal(t, "user.create", w.written[0].Op)
	require.Equal(t, "alice", w.written[0].Principal)
}

func TestHandleRecordDropsBadPayload(t *testing.T) {
	w := &fakeWriter{}
	tasks := NewAuditTasks(w, discardLogger(), nil)

	err := tasks.HandleRecord(context.Background(), asynq.NewTask(audit.TaskTypeRecord, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, w.written)
}

func TestHandleRecordSurfacesWriteFailure(t *testing.T) {
	w := &fakeWriter{writeErr: errors.New("pool down")}
	tasks := NewAuditTasks(w, discardLogger(), nil)

	task := asynq.NewTask(audit.TaskTypeRecord, []byte(`{"op":"x"}`))
	require.Error(t, tasks.HandleRecord(context.Background(), task))
}

func TestHandlePurgeDefaultsRetention(t *testing.T) {
	w := &fakeWriter{}
	tasks := NewAuditTasks(w, discardLogger(), nil)

	task, err := NewAuditPurgeTask(0)
	require.NoError(t, err)
	require.NoError(t, tasks.HandlePurge(context.Background(), task))
	require.Len(t, w.cutoffs, 1)

	// Zero retention falls back to 90 days.
	want := time.Now().UTC().AddDate(0, 0, -90)
	require.WithinDuration(t, want, w.cutoffs[0], time.Minute)
}
