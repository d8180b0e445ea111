package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// PendingSignoff is one entity still waiting for a counterparty
// signature.
type PendingSignoff struct {
	EntityType  string
	RefID       string
	ProjectID   int64
	PendingSide string
}

// ReminderEnqueuer submits reminder tasks; satisfied by *Client.
type ReminderEnqueuer interface {
	EnqueueSignoffReminder(ctx context.Context, payload SignoffReminderPayload) (*asynq.TaskInfo, error)
}

// SignoffDigestJob scans for half-signed entities and enqueues one
// reminder per finding.
type SignoffDigestJob struct {
	Pool   *pgxpool.Pool
	Client ReminderEnqueuer
	Logger *slog.Logger
	clock  func() time.Time

	// scan overrides the pool-backed scanners in tests.
	scan []func(ctx context.Context) ([]PendingSignoff, error)
}

// NewSignoffDigestJob initialises the digest handler.
func NewSignoffDigestJob(pool *pgxpool.Pool, client ReminderEnqueuer, logger *slog.Logger) *SignoffDigestJob {
	j := &SignoffDigestJob{
		Pool:   pool,
		Client: client,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	j.scan = []func(ctx context.Context) ([]PendingSignoff, error){
		j.scanBaselines,
		j.scanCertificates,
		j.scanDeliverables,
	}
	return j
}

// Handle executes one digest run.
func (j *SignoffDigestJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("signoff digest: handler not configured")
	}
	var payload SignoffDigestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = 200
	}

	start := j.now()
	logger := j.logger().With(slog.Int("batch_size", payload.BatchSize))
	logger.Info("starting sign-off digest")

	var mu sync.Mutex
	var pending []PendingSignoff
	g, gctx := errgroup.WithContext(ctx)
	for _, scan := range j.scan {
		g.Go(func() error {
			found, err := scan(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			pending = append(pending, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("digest scan failed", slog.Any("error", err))
		return err
	}

	if len(pending) > payload.BatchSize {
		pending = pending[:payload.BatchSize]
	}

	enqueued := 0
	for _, p := range pending {
		_, err := j.Client.EnqueueSignoffReminder(ctx, SignoffReminderPayload{
			EntityType:  p.EntityType,
			RefID:       p.RefID,
			ProjectID:   p.ProjectID,
			PendingSide: p.PendingSide,
		})
		if err != nil {
			logger.Warn("enqueue reminder",
				slog.String("entity_type", p.EntityType),
				slog.String("ref_id", p.RefID),
				slog.Any("error", err),
			)
			continue
		}
		enqueued++
	}

	logger.Info("completed sign-off digest",
		slog.Int("pending", len(pending)),
		slog.Int("enqueued", enqueued),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *SignoffDigestJob) scanBaselines(ctx context.Context) ([]PendingSignoff, error) {
	return j.collect(ctx, `SELECT b.id::text, m.project_id, `+caseColumns("b")+`
FROM baselines b
JOIN milestones m ON m.id = b.milestone_id
WHERE b.status = 'UNLOCKED'
  AND (b.supplier_signed_at IS NULL) <> (b.customer_signed_at IS NULL)`, "baseline")
}

func (j *SignoffDigestJob) scanCertificates(ctx context.Context) ([]PendingSignoff, error) {
	return j.collect(ctx, `SELECT c.id::text, m.project_id, `+caseColumns("c")+`
FROM certificates c
JOIN milestones m ON m.id = c.milestone_id
WHERE c.status <> 'SIGNED'
  AND (c.supplier_signed_at IS NULL) <> (c.customer_signed_at IS NULL)`, "certificate")
}

func (j *SignoffDigestJob) scanDeliverables(ctx context.Context) ([]PendingSignoff, error) {
	return j.collect(ctx, `SELECT d.id::text, d.project_id, `+caseColumns("d")+`
FROM deliverables d
WHERE d.status = 'REVIEW_COMPLETE'
  AND (d.supplier_signed_at IS NULL) <> (d.customer_signed_at IS NULL)`, "deliverable")
}

func caseColumns(alias string) string {
	return `CASE WHEN ` + alias + `.supplier_signed_at IS NULL THEN 'supplier' ELSE 'customer' END`
}

func (j *SignoffDigestJob) collect(ctx context.Context, query, entityType string) ([]PendingSignoff, error) {
	if j.Pool == nil {
		return nil, errors.New("signoff digest: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingSignoff
	for rows.Next() {
		p := PendingSignoff{EntityType: entityType}
		if err := rows.Scan(&p.RefID, &p.ProjectID, &p.PendingSide); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (j *SignoffDigestJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSignoffDigest))
	}
	return slog.Default().With(slog.String("job", TaskSignoffDigest))
}

func (j *SignoffDigestJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
