package deliverables

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

const deliverableColumns = `id, project_id, title, description, status, supplier_signed_at, COALESCE(supplier_signed_by,0), customer_signed_at, COALESCE(customer_signed_by,0), owner_id, created_at, updated_at`

// Create inserts a deliverable row.
func (r *PGRepository) Create(ctx context.Context, d Deliverable) (Deliverable, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO deliverables (id, project_id, title, description, status, owner_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
RETURNING created_at, updated_at`, d.ID, d.ProjectID, d.Title, d.Description, string(d.Status), d.OwnerID).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// Get fetches one deliverable.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Deliverable, error) {
	var d Deliverable
	var status string
	err := r.pool.QueryRow(ctx, `SELECT `+deliverableColumns+` FROM deliverables WHERE id=$1`, id).
		Scan(&d.ID, &d.ProjectID, &d.Title, &d.Description, &status, &d.SupplierSignedAt, &d.SupplierSignedBy,
			&d.CustomerSignedAt, &d.CustomerSignedBy, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deliverable{}, shared.ErrNotFound
		}
		return Deliverable{}, err
	}
	d.Status = workflow.Status(status)
	return d, nil
}

// List fetches deliverables for a project.
func (r *PGRepository) List(ctx context.Context, projectID int64) ([]Deliverable, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deliverableColumns+` FROM deliverables WHERE project_id=$1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Deliverable
	for rows.Next() {
		var d Deliverable
		var status string
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Description, &status, &d.SupplierSignedAt, &d.SupplierSignedBy,
			&d.CustomerSignedAt, &d.CustomerSignedBy, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Status = workflow.Status(status)
		items = append(items, d)
	}
	return items, rows.Err()
}

// CAS applies the next snapshot only when the row still matches the
// previous one.
func (r *PGRepository) CAS(ctx context.Context, prev, next Deliverable) error {
	tag, err := r.pool.Exec(ctx, `UPDATE deliverables
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
		return fmt.Errorf("%w: deliverable %s changed concurrently", workflow.ErrStaleState, prev.ID)
	}
	return nil
}

// Delete removes a deliverable row.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM deliverables WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

var _ RepositoryPort = (*PGRepository)(nil)
