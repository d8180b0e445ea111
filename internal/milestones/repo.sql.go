package milestones

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pm/meridian-pm/internal/shared"
	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// PGRepository implements RepositoryPort on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateMilestone inserts a milestone row.
func (r *PGRepository) CreateMilestone(ctx context.Context, m Milestone) (Milestone, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO milestones (project_id, name, due_date, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
RETURNING id, created_at, updated_at`, m.ProjectID, m.Name, m.DueDate).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// GetMilestone fetches one milestone.
func (r *PGRepository) GetMilestone(ctx context.Context, id int64) (Milestone, error) {
	var m Milestone
	err := r.pool.QueryRow(ctx, `SELECT id, project_id, name, due_date, created_at, updated_at
FROM milestones WHERE id=$1`, id).
		Scan(&m.ID, &m.ProjectID, &m.Name, &m.DueDate, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, shared.ErrNotFound
		}
		return Milestone{}, err
	}
	return m, nil
}

// ListMilestones fetches milestones for a project.
func (r *PGRepository) ListMilestones(ctx context.Context, projectID int64) ([]Milestone, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, name, due_date, created_at, updated_at
FROM milestones WHERE project_id=$1 ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Milestone
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Name, &m.DueDate, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const baselineColumns = `id, milestone_id, version, status, supplier_signed_at, COALESCE(supplier_signed_by,0), customer_signed_at, COALESCE(customer_signed_by,0), locked, owner_id, created_at, updated_at`

// CreateBaseline inserts a baseline row with the next version number
// for its milestone.
func (r *PGRepository) CreateBaseline(ctx context.Context, b Baseline) (Baseline, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO baselines (id, milestone_id, version, status, locked, owner_id, created_at, updated_at)
VALUES ($1, $2, (SELECT COALESCE(MAX(version),0)+1 FROM baselines WHERE milestone_id=$2), $3, false, $4, NOW(), NOW())
RETURNING version, created_at, updated_at`, b.ID, b.MilestoneID, string(b.Status), b.OwnerID).
		Scan(&b.Version, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// GetBaseline fetches one baseline.
func (r *PGRepository) GetBaseline(ctx context.Context, id uuid.UUID) (Baseline, error) {
	var b Baseline
	var status string
	err := r.pool.QueryRow(ctx, `SELECT `+baselineColumns+` FROM baselines WHERE id=$1`, id).
		Scan(&b.ID, &b.MilestoneID, &b.Version, &status, &b.SupplierSignedAt, &b.SupplierSignedBy,
			&b.CustomerSignedAt, &b.CustomerSignedBy, &b.Locked, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Baseline{}, shared.ErrNotFound
		}
		return Baseline{}, err
	}
	b.Status = workflow.Status(status)
	return b, nil
}

// ListBaselines fetches baselines for a milestone, newest version
// first.
func (r *PGRepository) ListBaselines(ctx context.Context, milestoneID int64) ([]Baseline, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+baselineColumns+` FROM baselines WHERE milestone_id=$1 ORDER BY version DESC`, milestoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Baseline
	for rows.Next() {
		var b Baseline
		var status string
		if err := rows.Scan(&b.ID, &b.MilestoneID, &b.Version, &status, &b.SupplierSignedAt, &b.SupplierSignedBy,
			&b.CustomerSignedAt, &b.CustomerSignedBy, &b.Locked, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Status = workflow.Status(status)
		items = append(items, b)
	}
	return items, rows.Err()
}

// CASBaseline applies the next snapshot only when the row still
// matches the previous one. The guarded columns are status, both
// signature timestamps and the lock flag; zero affected rows means the
// caller decided on stale facts.
func (r *PGRepository) CASBaseline(ctx context.Context, prev, next Baseline) error {
	tag, err := r.pool.Exec(ctx, `UPDATE baselines
SET status=$1, supplier_signed_at=$2, supplier_signed_by=$3, customer_signed_at=$4, customer_signed_by=$5, locked=$6, updated_at=NOW()
WHERE id=$7
  AND status=$8
  AND supplier_signed_at IS NOT DISTINCT FROM $9
  AND customer_signed_at IS NOT DISTINCT FROM $10
  AND locked=$11`,
		string(next.Status), next.SupplierSignedAt, nullableID(next.SupplierSignedBy), next.CustomerSignedAt, nullableID(next.CustomerSignedBy), next.Locked,
		prev.ID, string(prev.Status), prev.SupplierSignedAt, prev.CustomerSignedAt, prev.Locked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: baseline %s changed concurrently", workflow.ErrStaleState, prev.ID)
	}
	return nil
}

const certificateColumns = `id, milestone_id, title, status, supplier_signed_at, COALESCE(supplier_signed_by,0), customer_signed_at, COALESCE(customer_signed_by,0), owner_id, created_at, updated_at`

// CreateCertificate inserts a certificate row.
func (r *PGRepository) CreateCertificate(ctx context.Context, c Certificate) (Certificate, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO certificates (id, milestone_id, title, status, owner_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING created_at, updated_at`, c.ID, c.MilestoneID, c.Title, string(c.Status), c.OwnerID).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetCertificate fetches one certificate.
func (r *PGRepository) GetCertificate(ctx context.Context, id uuid.UUID) (Certificate, error) {
	var c Certificate
	var status string
	err := r.pool.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id=$1`, id).
		Scan(&c.ID, &c.MilestoneID, &c.Title, &status, &c.SupplierSignedAt, &c.SupplierSignedBy,
			&c.CustomerSignedAt, &c.CustomerSignedBy, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Certificate{}, shared.ErrNotFound
		}
		return Certificate{}, err
	}
	c.Status = workflow.Status(status)
	return c, nil
}

// ListCertificates fetches certificates for a milestone.
func (r *PGRepository) ListCertificates(ctx context.Context, milestoneID int64) ([]Certificate, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE milestone_id=$1 ORDER BY created_at`, milestoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Certificate
	for rows.Next() {
		var c Certificate
		var status string
		if err := rows.Scan(&c.ID, &c.MilestoneID, &c.Title, &status, &c.SupplierSignedAt, &c.SupplierSignedBy,
			&c.CustomerSignedAt, &c.CustomerSignedBy, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Status = workflow.Status(status)
		items = append(items, c)
	}
	return items, rows.Err()
}

// CASCertificate applies the next snapshot only when the row still
// matches the previous one.
func (r *PGRepository) CASCertificate(ctx context.Context, prev, next Certificate) error {
	tag, err := r.pool.Exec(ctx, `UPDATE certificates
SET status=$1, supplier_signed_at=$2, supplier_signed_by=$3, customer_signed_at=$4, customer_signed_by=$5, updated_at=NOW()
WHERE id=$6
  AND status=$7
  AND supplier_signed_at IS NOT DISTINCT FROM $8
  AND customer_signed_at IS NOT DISTINCT FROM $9`,
		string(next.Status), next.SupplierSignedAt, nullableID(next.SupplierSignedBy), next.CustomerSignedAt, nullableID(next.CustomerSignedBy),
		prev.ID, string(prev.Status), prev.SupplierSignedAt, prev.CustomerSignedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: certificate %s changed concurrently", workflow.ErrStaleState, prev.ID)
	}
	return nil
}

// nullableID maps the zero signer ID to NULL so cleared signatures
// round-trip as absent.
func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

var _ RepositoryPort = (*PGRepository)(nil)
