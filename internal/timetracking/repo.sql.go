package timetracking

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

const timesheetColumns = `id, project_id, week_start, hours, note, status, owner_id, created_at, updated_at`

// CreateTimesheet inserts a timesheet row.
func (r *PGRepository) CreateTimesheet(ctx context.Context, t Timesheet) (Timesheet, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO timesheets (id, project_id, week_start, hours, note, status, owner_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
RETURNING created_at, updated_at`, t.ID, t.ProjectID, t.WeekStart, t.Hours, t.Note, string(t.Status), t.OwnerID).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// GetTimesheet fetches one timesheet.
func (r *PGRepository) GetTimesheet(ctx context.Context, id uuid.UUID) (Timesheet, error) {
	var t Timesheet
	var status string
	err := r.pool.QueryRow(ctx, `SELECT `+timesheetColumns+` FROM timesheets WHERE id=$1`, id).
		Scan(&t.ID, &t.ProjectID, &t.WeekStart, &t.Hours, &t.Note, &status, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Timesheet{}, shared.ErrNotFound
		}
		return Timesheet{}, err
	}
	t.Status = workflow.Status(status)
	return t, nil
}

// ListTimesheets fetches timesheets for a project.
func (r *PGRepository) ListTimesheets(ctx context.Context, projectID int64) ([]Timesheet, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+timesheetColumns+` FROM timesheets WHERE project_id=$1 ORDER BY week_start DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Timesheet
	for rows.Next() {
		var t Timesheet
		var status string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.WeekStart, &t.Hours, &t.Note, &status, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = workflow.Status(status)
		items = append(items, t)
	}
	return items, rows.Err()
}

// CASTimesheetStatus moves the status only when the row still holds
// the expected one.
func (r *PGRepository) CASTimesheetStatus(ctx context.Context, id uuid.UUID, from, to workflow.Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE timesheets SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: timesheet %s changed concurrently", workflow.ErrStaleState, id)
	}
	return nil
}

const expenseColumns = `id, project_id, description, amount_cents, currency, is_chargeable, status, owner_id, created_at, updated_at`

// CreateExpense inserts an expense row.
func (r *PGRepository) CreateExpense(ctx context.Context, e Expense) (Expense, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO expenses (id, project_id, description, amount_cents, currency, is_chargeable, status, owner_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
RETURNING created_at, updated_at`, e.ID, e.ProjectID, e.Description, e.AmountCents, e.Currency, e.IsChargeable, string(e.Status), e.OwnerID).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// GetExpense fetches one expense.
func (r *PGRepository) GetExpense(ctx context.Context, id uuid.UUID) (Expense, error) {
	var e Expense
	var status string
	err := r.pool.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id=$1`, id).
		Scan(&e.ID, &e.ProjectID, &e.Description, &e.AmountCents, &e.Currency, &e.IsChargeable, &status, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Expense{}, shared.ErrNotFound
		}
		return Expense{}, err
	}
	e.Status = workflow.Status(status)
	return e, nil
}

// ListExpenses fetches expenses for a project.
func (r *PGRepository) ListExpenses(ctx context.Context, projectID int64) ([]Expense, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE project_id=$1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Expense
	for rows.Next() {
		var e Expense
		var status string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Description, &e.AmountCents, &e.Currency, &e.IsChargeable, &status, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Status = workflow.Status(status)
		items = append(items, e)
	}
	return items, rows.Err()
}

// CASExpenseStatus moves the status only when the row still holds the
// expected one.
func (r *PGRepository) CASExpenseStatus(ctx context.Context, id uuid.UUID, from, to workflow.Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE expenses SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expense %s changed concurrently", workflow.ErrStaleState, id)
	}
	return nil
}

var _ RepositoryPort = (*PGRepository)(nil)
