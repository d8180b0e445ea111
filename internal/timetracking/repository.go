package timetracking

import (
	"context"

	"github.com/google/uuid"

	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// RepositoryPort describes persistence operations used by Service. The
// CAS methods include the previous status in their WHERE clause and
// report workflow.ErrStaleState when no row matched.
type RepositoryPort interface {
	CreateTimesheet(ctx context.Context, t Timesheet) (Timesheet, error)
	GetTimesheet(ctx context.Context, id uuid.UUID) (Timesheet, error)
	ListTimesheets(ctx context.Context, projectID int64) ([]Timesheet, error)
	CASTimesheetStatus(ctx context.Context, id uuid.UUID, from, to workflow.Status) error

	CreateExpense(ctx context.Context, e Expense) (Expense, error)
	GetExpense(ctx context.Context, id uuid.UUID) (Expense, error)
	ListExpenses(ctx context.Context, projectID int64) ([]Expense, error)
	CASExpenseStatus(ctx context.Context, id uuid.UUID, from, to workflow.Status) error
}
