package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSignoffReminder nudges the party whose signature an entity is
	// still waiting for.
	TaskSignoffReminder = "signoff:reminder"
	// TaskSignoffDigest scans every project for half-signed entities and
	// fans reminders out per finding.
	TaskSignoffDigest = "signoff:digest"
)

// SignoffReminderPayload identifies one half-signed entity.
type SignoffReminderPayload struct {
	EntityType  string `json:"entity_type"`
	RefID       string `json:"ref_id"`
	ProjectID   int64  `json:"project_id"`
	PendingSide string `json:"pending_side"`
}

// NewSignoffReminderTask constructs an Asynq task.
func NewSignoffReminderTask(payload SignoffReminderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSignoffReminder, data), nil
}

// HandleSignoffReminderTask processes TaskSignoffReminder tasks.
func HandleSignoffReminderTask(ctx context.Context, t *asynq.Task) error {
	var payload SignoffReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: route through the notification channel once one exists.
	slog.Default().Info("sign-off reminder",
		slog.String("entity_type", payload.EntityType),
		slog.String("ref_id", payload.RefID),
		slog.Int64("project_id", payload.ProjectID),
		slog.String("pending_side", payload.PendingSide),
	)
	return nil
}

// SignoffDigestPayload configures one digest run.
type SignoffDigestPayload struct {
	// BatchSize caps how many reminders a single run may enqueue.
	BatchSize int `json:"batch_size"`
}

// NewSignoffDigestTask constructs an Asynq task.
func NewSignoffDigestTask(batchSize int) (*asynq.Task, error) {
	data, err := json.Marshal(SignoffDigestPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSignoffDigest, data), nil
}
