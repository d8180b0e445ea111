package deliverables

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

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval history events.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, entityType string, ref uuid.UUID, actorID int64, note string) error
}

// Service orchestrates the deliverable lifecycle.
type Service struct {
	repo      RepositoryPort
	projects  ProjectPort
	audit     AuditPort
	approvals ApprovalPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the deliverables service.
func NewService(repo RepositoryPort, projectPort ProjectPort, audit AuditPort, approvals ApprovalPort, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		projects:  projectPort,
		audit:     audit,
		approvals: approvals,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateInput describes creation payload.
type CreateInput struct {
	ProjectID   int64
	Title       string
	Description string
}

// Create persists a new deliverable in its initial status.
func (s *Service) Create(ctx context.Context, userID int64, impersonated authz.Role, input CreateInput) (Deliverable, error) {
	if input.Title == "" {
		return Deliverable{}, fmt.Errorf("%w: title is required", shared.ErrValidation)
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, input.ProjectID, impersonated)
	if err != nil {
		return Deliverable{}, err
	}
	matrix, err := s.projects.Matrix(ctx, input.ProjectID)
	if err != nil {
		return Deliverable{}, err
	}
	if !matrix.FeatureEnabled(authz.FeatureDeliverables) {
		return Deliverable{}, fmt.Errorf("%w: deliverables are disabled for this project", shared.ErrNotFound)
	}
	if !authz.SupplierSide(resolved.Effective) && !resolved.HasFullAdminCapabilities {
		return Deliverable{}, fmt.Errorf("%w: %s may not create deliverables", workflow.ErrUnauthorized, resolved.Effective)
	}
	return s.repo.Create(ctx, Deliverable{
		ProjectID:   input.ProjectID,
		Title:       input.Title,
		Description: input.Description,
		Status:      workflow.DeliverableNotStarted,
		OwnerID:     userID,
	})
}

// Get fetches one deliverable.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Deliverable, error) {
	return s.repo.Get(ctx, id)
}

// List fetches deliverables for a project.
func (s *Service) List(ctx context.Context, projectID int64) ([]Deliverable, error) {
	return s.repo.List(ctx, projectID)
}

// View pairs a deliverable with its derived state and the caller's
// capabilities.
type View struct {
	Deliverable    Deliverable             `json:"deliverable"`
	SignOffStatus  workflow.SignOffStatus  `json:"sign_off_status"`
	ApprovalStatus workflow.ApprovalStatus `json:"approval_status"`
	Capabilities   workflow.Capabilities   `json:"capabilities"`
}

// ViewFor loads a deliverable with everything a client needs to render
// it for the acting user.
func (s *Service) ViewFor(ctx context.Context, userID int64, impersonated authz.Role, id uuid.UUID) (View, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, d.ProjectID, impersonated)
	if err != nil {
		return View{}, err
	}
	matrix, err := s.projects.Matrix(ctx, d.ProjectID)
	if err != nil {
		return View{}, err
	}
	entity := d.Entity()
	approvalCtx := authz.ApprovalContext{}
	return View{
		Deliverable:    d,
		SignOffStatus:  workflow.DeriveStatus(entity),
		ApprovalStatus: workflow.ApprovalStatusFor(entity, matrix, authz.EntityDeliverable, approvalCtx),
		Capabilities:   workflow.CapabilitiesFor(entity, authz.EntityDeliverable, resolved, userID, matrix, approvalCtx),
	}, nil
}

// TransitionInput carries one lifecycle move. From is the status the
// caller decided against; a mismatch with the stored row fails with
// ErrStaleState before anything is written.
type TransitionInput struct {
	ID   uuid.UUID
	From workflow.Status
	To   workflow.Status
	Note string
}

// Transition validates and applies one lifecycle edge through the
// state machine, then persists it with a compare-and-set update.
func (s *Service) Transition(ctx context.Context, userID int64, impersonated authz.Role, input TransitionInput) (Deliverable, error) {
	d, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return Deliverable{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, d.ProjectID, impersonated)
	if err != nil {
		return Deliverable{}, err
	}
	matrix, err := s.projects.Matrix(ctx, d.ProjectID)
	if err != nil {
		return Deliverable{}, err
	}
	if !matrix.FeatureEnabled(authz.FeatureDeliverables) {
		return Deliverable{}, fmt.Errorf("%w: deliverables are disabled for this project", shared.ErrNotFound)
	}

	approvalCtx := authz.ApprovalContext{}

	// Delivery additionally requires the sign-off to be complete under
	// the configured authority; the transition guard alone only checks
	// who may walk the edge.
	if input.To == workflow.DeliverableDelivered && !workflow.IsComplete(d.Entity(), matrix, authz.EntityDeliverable) {
		return Deliverable{}, fmt.Errorf("%w: sign-off incomplete", workflow.ErrInvalidTransition)
	}

	entity, err := workflow.Transition(d.Entity(), workflow.TransitionRequest{
		EntityType: authz.EntityDeliverable,
		From:       input.From,
		To:         input.To,
		Actor:      resolved,
		ActorID:    userID,
		Matrix:     matrix,
		Context:    approvalCtx,
	})
	if err != nil {
		return Deliverable{}, err
	}

	next := d.withEntity(entity)
	if err := s.repo.CAS(ctx, d, next); err != nil {
		return Deliverable{}, err
	}

	s.recordTransition(ctx, next, userID, input)
	return next, nil
}

// SignInput carries one signature attempt.
type SignInput struct {
	ID            uuid.UUID
	Side          workflow.Side
	AssumedStatus workflow.Status
}

// Sign applies one party's signature from ReviewComplete.
func (s *Service) Sign(ctx context.Context, userID int64, impersonated authz.Role, input SignInput) (Deliverable, error) {
	d, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return Deliverable{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, d.ProjectID, impersonated)
	if err != nil {
		return Deliverable{}, err
	}
	matrix, err := s.projects.Matrix(ctx, d.ProjectID)
	if err != nil {
		return Deliverable{}, err
	}
	if !matrix.FeatureEnabled(authz.FeatureDeliverables) {
		return Deliverable{}, fmt.Errorf("%w: deliverables are disabled for this project", shared.ErrNotFound)
	}
	if input.AssumedStatus != "" && input.AssumedStatus != d.Status {
		return Deliverable{}, fmt.Errorf("%w: expected %s, deliverable is %s", workflow.ErrStaleState, input.AssumedStatus, d.Status)
	}

	approvalCtx := authz.ApprovalContext{}
	if !authz.CanApprove(matrix, authz.EntityDeliverable, resolved.Effective, approvalCtx) {
		return Deliverable{}, fmt.Errorf("%w: %s lacks approval authority for deliverables", workflow.ErrUnauthorized, resolved.Effective)
	}
	switch input.Side {
	case workflow.SideSupplier:
		if !authz.SupplierSide(resolved.Effective) {
			return Deliverable{}, fmt.Errorf("%w: supplier signature requires a supplier-side role", workflow.ErrUnauthorized)
		}
	case workflow.SideCustomer:
		if !authz.CustomerSide(resolved.Effective) {
			return Deliverable{}, fmt.Errorf("%w: customer signature requires a customer-side role", workflow.ErrUnauthorized)
		}
	default:
		return Deliverable{}, fmt.Errorf("%w: unknown signing side %q", workflow.ErrInvalidTransition, input.Side)
	}

	entity, err := workflow.ApplySignature(d.Entity(), authz.EntityDeliverable, input.Side, userID, s.now())
	if err != nil {
		return Deliverable{}, err
	}

	next := d.withEntity(entity)
	if err := s.repo.CAS(ctx, d, next); err != nil {
		return Deliverable{}, err
	}

	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		EntityType: "deliverable",
		RefID:      next.ID,
		ActorID:    userID,
		Action:     shared.ApprovalSign,
		Note:       string(input.Side),
	}); err != nil {
		s.logger.Warn("record deliverable signature", slog.Any("error", err))
	}
	return next, nil
}

// Delete removes a deliverable that never left its initial status.
func (s *Service) Delete(ctx context.Context, userID int64, impersonated authz.Role, id uuid.UUID) error {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, d.ProjectID, impersonated)
	if err != nil {
		return err
	}
	matrix, err := s.projects.Matrix(ctx, d.ProjectID)
	if err != nil {
		return err
	}
	caps := workflow.CapabilitiesFor(d.Entity(), authz.EntityDeliverable, resolved, userID, matrix, authz.ApprovalContext{})
	if !caps.CanDelete {
		return fmt.Errorf("%w: deliverable may no longer be deleted", workflow.ErrUnauthorized)
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) recordTransition(ctx context.Context, d Deliverable, userID int64, input TransitionInput) {
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   "deliverable.transition",
		Entity:   "deliverable",
		EntityID: d.ID.String(),
		Meta:     map[string]any{"from": string(input.From), "to": string(input.To)},
	}); err != nil {
		s.logger.Warn("audit deliverable transition", slog.Any("error", err))
	}

	var action shared.ApprovalAction
	switch input.To {
	case workflow.DeliverableSubmitted:
		if err := s.approvals.EnsureSubmit(ctx, "deliverable", d.ID, userID, input.Note); err != nil {
			s.logger.Warn("record deliverable submit", slog.Any("error", err))
		}
		return
	case workflow.DeliverableReviewComplete:
		action = shared.ApprovalApprove
	case workflow.DeliverableReturned:
		action = shared.ApprovalReject
	default:
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		EntityType: "deliverable",
		RefID:      d.ID,
		ActorID:    userID,
		Action:     action,
		Note:       input.Note,
	}); err != nil {
		s.logger.Warn("record deliverable review", slog.Any("error", err))
	}
}
