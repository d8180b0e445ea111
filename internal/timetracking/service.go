package timetracking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pm/meridian-pm/internal/authz"
	"github.com/meridian-pm/meridian-pm/internal/projects"
	"github.com/meridian-pm/meridian-pm/internal/shared"
	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// ProjectPort exposes the resolver and matrix loaders from the
// projects module.
type ProjectPort interface {
	Resolve(ctx context.Context, userID, projectID int64, impersonated authz.Role) (projects.Project, authz.EffectiveRole, error)
	Matrix(ctx context.Context, projectID int64) (authz.AuthorityMatrix, error)
}

// ApprovalPort records approval history events.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, entityType string, ref uuid.UUID, actorID int64, note string) error
}

// Service orchestrates timesheet and expense flows.
type Service struct {
	repo      RepositoryPort
	projects  ProjectPort
	approvals ApprovalPort
	logger    *slog.Logger
}

// NewService constructs the timetracking service.
func NewService(repo RepositoryPort, projectPort ProjectPort, approvals ApprovalPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, projects: projectPort, approvals: approvals, logger: logger}
}

// CreateTimesheetInput describes a new timesheet.
type CreateTimesheetInput struct {
	ProjectID int64
	WeekStart time.Time
	Hours     float64
	Note      string
}

// CreateTimesheet persists a draft timesheet owned by the caller.
func (s *Service) CreateTimesheet(ctx context.Context, userID int64, impersonated authz.Role, input CreateTimesheetInput) (Timesheet, error) {
	if input.Hours <= 0 {
		return Timesheet{}, fmt.Errorf("%w: hours must be positive", shared.ErrValidation)
	}
	if _, err := s.guardFeature(ctx, userID, impersonated, input.ProjectID, authz.FeatureTimesheets); err != nil {
		return Timesheet{}, err
	}
	return s.repo.CreateTimesheet(ctx, Timesheet{
		ProjectID: input.ProjectID,
		WeekStart: input.WeekStart,
		Hours:     input.Hours,
		Note:      input.Note,
		Status:    workflow.SheetDraft,
		OwnerID:   userID,
	})
}

// ListTimesheets fetches a project's timesheets.
func (s *Service) ListTimesheets(ctx context.Context, projectID int64) ([]Timesheet, error) {
	return s.repo.ListTimesheets(ctx, projectID)
}

// TransitionTimesheet walks one sheet lifecycle edge for a timesheet.
func (s *Service) TransitionTimesheet(ctx context.Context, userID int64, impersonated authz.Role, id uuid.UUID, from, to workflow.Status) (Timesheet, error) {
	t, err := s.repo.GetTimesheet(ctx, id)
	if err != nil {
		return Timesheet{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, t.ProjectID, impersonated)
	if err != nil {
		return Timesheet{}, err
	}
	matrix, err := s.projects.Matrix(ctx, t.ProjectID)
	if err != nil {
		return Timesheet{}, err
	}
	if !matrix.FeatureEnabled(authz.FeatureTimesheets) {
		return Timesheet{}, fmt.Errorf("%w: timesheets are disabled for this project", shared.ErrNotFound)
	}

	entity, err := workflow.Transition(t.Entity(), workflow.TransitionRequest{
		EntityType: authz.EntityTimesheet,
		From:       from,
		To:         to,
		Actor:      resolved,
		ActorID:    userID,
		Matrix:     matrix,
	})
	if err != nil {
		return Timesheet{}, err
	}
	if err := s.repo.CASTimesheetStatus(ctx, id, from, entity.Status); err != nil {
		return Timesheet{}, err
	}
	t.Status = entity.Status
	s.recordSheetHistory(ctx, "timesheet", id, userID, to)
	return t, nil
}

// CreateExpenseInput describes a new expense claim.
type CreateExpenseInput struct {
	ProjectID    int64
	Description  string
	AmountCents  int64
	Currency     string
	IsChargeable bool
}

// CreateExpense persists a draft expense owned by the caller.
func (s *Service) CreateExpense(ctx context.Context, userID int64, impersonated authz.Role, input CreateExpenseInput) (Expense, error) {
	if input.AmountCents <= 0 {
		return Expense{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if input.Description == "" {
		return Expense{}, fmt.Errorf("%w: description is required", shared.ErrValidation)
	}
	if input.Currency == "" {
		input.Currency = "EUR"
	}
	if _, err := s.guardFeature(ctx, userID, impersonated, input.ProjectID, authz.FeatureExpenses); err != nil {
		return Expense{}, err
	}
	e, err := s.repo.CreateExpense(ctx, Expense{
		ProjectID:    input.ProjectID,
		Description:  input.Description,
		AmountCents:  input.AmountCents,
		Currency:     input.Currency,
		IsChargeable: input.IsChargeable,
		Status:       workflow.SheetDraft,
		OwnerID:      userID,
	})
	if err != nil {
		return Expense{}, err
	}
	e.DisplayAmount = formatAmount(e.AmountCents, e.Currency)
	return e, nil
}

// GetExpense fetches one expense with its display amount filled.
func (s *Service) GetExpense(ctx context.Context, id uuid.UUID) (Expense, error) {
	e, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	e.DisplayAmount = formatAmount(e.AmountCents, e.Currency)
	return e, nil
}

// ListExpenses fetches a project's expenses with display amounts.
func (s *Service) ListExpenses(ctx context.Context, projectID int64) ([]Expense, error) {
	items, err := s.repo.ListExpenses(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].DisplayAmount = formatAmount(items[i].AmountCents, items[i].Currency)
	}
	return items, nil
}

// TransitionExpense walks one sheet lifecycle edge for an expense. The
// approval guard receives the expense's chargeable flag, which is what
// resolves the CONDITIONAL authority mode.
func (s *Service) TransitionExpense(ctx context.Context, userID int64, impersonated authz.Role, id uuid.UUID, from, to workflow.Status) (Expense, error) {
	e, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, e.ProjectID, impersonated)
	if err != nil {
		return Expense{}, err
	}
	matrix, err := s.projects.Matrix(ctx, e.ProjectID)
	if err != nil {
		return Expense{}, err
	}
	if !matrix.FeatureEnabled(authz.FeatureExpenses) {
		return Expense{}, fmt.Errorf("%w: expenses are disabled for this project", shared.ErrNotFound)
	}

	entity, err := workflow.Transition(e.Entity(), workflow.TransitionRequest{
		EntityType: authz.EntityExpense,
		From:       from,
		To:         to,
		Actor:      resolved,
		ActorID:    userID,
		Matrix:     matrix,
		Context:    authz.ApprovalContext{IsChargeable: e.IsChargeable},
	})
	if err != nil {
		return Expense{}, err
	}
	if err := s.repo.CASExpenseStatus(ctx, id, from, entity.Status); err != nil {
		return Expense{}, err
	}
	e.Status = entity.Status
	e.DisplayAmount = formatAmount(e.AmountCents, e.Currency)
	s.recordSheetHistory(ctx, "expense", id, userID, to)
	return e, nil
}

func (s *Service) guardFeature(ctx context.Context, userID int64, impersonated authz.Role, projectID int64, feature authz.Feature) (authz.AuthorityMatrix, error) {
	if _, _, err := s.projects.Resolve(ctx, userID, projectID, impersonated); err != nil {
		return authz.AuthorityMatrix{}, err
	}
	matrix, err := s.projects.Matrix(ctx, projectID)
	if err != nil {
		return authz.AuthorityMatrix{}, err
	}
	if !matrix.FeatureEnabled(feature) {
		return authz.AuthorityMatrix{}, fmt.Errorf("%w: %s are disabled for this project", shared.ErrNotFound, feature)
	}
	return matrix, nil
}

func (s *Service) recordSheetHistory(ctx context.Context, entityType string, id uuid.UUID, userID int64, to workflow.Status) {
	var err error
	switch to {
	case workflow.SheetSubmitted:
		err = s.approvals.EnsureSubmit(ctx, entityType, id, userID, "")
	case workflow.SheetValidated:
		err = s.approvals.Record(ctx, shared.ApprovalLog{EntityType: entityType, RefID: id, ActorID: userID, Action: shared.ApprovalApprove})
	case workflow.SheetRejected:
		err = s.approvals.Record(ctx, shared.ApprovalLog{EntityType: entityType, RefID: id, ActorID: userID, Action: shared.ApprovalReject})
	default:
		return
	}
	if err != nil {
		s.logger.Warn("record sheet history", slog.String("entity_type", entityType), slog.Any("error", err))
	}
}
