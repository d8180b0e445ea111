package milestones

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
}

// Service orchestrates milestone, baseline and certificate flows.
type Service struct {
	repo      RepositoryPort
	projects  ProjectPort
	audit     AuditPort
	approvals ApprovalPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the milestones service.
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

// CreateMilestoneInput describes creation payload.
type CreateMilestoneInput struct {
	ProjectID int64
	Name      string
	DueDate   *time.Time
}

// CreateMilestone persists a milestone. Creation needs an elevated
// role or full admin capability on the project.
func (s *Service) CreateMilestone(ctx context.Context, userID int64, impersonated authz.Role, input CreateMilestoneInput) (Milestone, error) {
	if input.Name == "" {
		return Milestone{}, fmt.Errorf("%w: name is required", shared.ErrValidation)
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, input.ProjectID, impersonated)
	if err != nil {
		return Milestone{}, err
	}
	if !authz.Elevated(resolved.Effective) && !resolved.HasFullAdminCapabilities {
		return Milestone{}, fmt.Errorf("%w: %s may not create milestones", workflow.ErrUnauthorized, resolved.Effective)
	}
	return s.repo.CreateMilestone(ctx, Milestone{
		ProjectID: input.ProjectID,
		Name:      input.Name,
		DueDate:   input.DueDate,
	})
}

// GetMilestone fetches one milestone.
func (s *Service) GetMilestone(ctx context.Context, id int64) (Milestone, error) {
	return s.repo.GetMilestone(ctx, id)
}

// ListMilestones fetches milestones for a project.
func (s *Service) ListMilestones(ctx context.Context, projectID int64) ([]Milestone, error) {
	return s.repo.ListMilestones(ctx, projectID)
}

// CreateBaseline opens a new unlocked baseline version for the
// milestone.
func (s *Service) CreateBaseline(ctx context.Context, userID int64, impersonated authz.Role, milestoneID int64) (Baseline, error) {
	milestone, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return Baseline{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, milestone.ProjectID, impersonated)
	if err != nil {
		return Baseline{}, err
	}
	matrix, err := s.projects.Matrix(ctx, milestone.ProjectID)
	if err != nil {
		return Baseline{}, err
	}
	if !matrix.FeatureEnabled(authz.FeatureBaselines) {
		return Baseline{}, fmt.Errorf("%w: baselines are disabled for this project", shared.ErrNotFound)
	}
	if !authz.Elevated(resolved.Effective) && !resolved.HasFullAdminCapabilities {
		return Baseline{}, fmt.Errorf("%w: %s may not create baselines", workflow.ErrUnauthorized, resolved.Effective)
	}
	return s.repo.CreateBaseline(ctx, Baseline{
		MilestoneID: milestoneID,
		Status:      workflow.BaselineUnlocked,
		OwnerID:     userID,
	})
}

// GetBaseline fetches one baseline.
func (s *Service) GetBaseline(ctx context.Context, id uuid.UUID) (Baseline, error) {
	return s.repo.GetBaseline(ctx, id)
}

// ListBaselines fetches a milestone's baseline versions.
func (s *Service) ListBaselines(ctx context.Context, milestoneID int64) ([]Baseline, error) {
	return s.repo.ListBaselines(ctx, milestoneID)
}

// BaselineView pairs a baseline with its derived approval state and
// the caller's capabilities.
type BaselineView struct {
	Baseline       Baseline                `json:"baseline"`
	SignOffStatus  workflow.SignOffStatus  `json:"sign_off_status"`
	ApprovalStatus workflow.ApprovalStatus `json:"approval_status"`
	Capabilities   workflow.Capabilities   `json:"capabilities"`
}

// BaselineViewFor loads a baseline with everything a client needs to
// render it for the acting user.
func (s *Service) BaselineViewFor(ctx context.Context, userID int64, impersonated authz.Role, id uuid.UUID) (BaselineView, error) {
	baseline, err := s.repo.GetBaseline(ctx, id)
	if err != nil {
		return BaselineView{}, err
	}
	milestone, err := s.repo.GetMilestone(ctx, baseline.MilestoneID)
	if err != nil {
		return BaselineView{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, milestone.ProjectID, impersonated)
	if err != nil {
		return BaselineView{}, err
	}
	matrix, err := s.projects.Matrix(ctx, milestone.ProjectID)
	if err != nil {
		return BaselineView{}, err
	}
	entity := baseline.Entity()
	approvalCtx := authz.ApprovalContext{}
	return BaselineView{
		Baseline:       baseline,
		SignOffStatus:  workflow.DeriveStatus(entity),
		ApprovalStatus: workflow.ApprovalStatusFor(entity, matrix, authz.EntityBaseline, approvalCtx),
		Capabilities:   workflow.CapabilitiesFor(entity, authz.EntityBaseline, resolved, userID, matrix, approvalCtx),
	}, nil
}

// SignBaselineInput carries one signature attempt. AssumedStatus is
// the status the caller rendered its decision against.
type SignBaselineInput struct {
	BaselineID    uuid.UUID
	Side          workflow.Side
	AssumedStatus workflow.Status
}

// SignBaseline applies one party's signature. When the signature set
// completes under the configured authority the baseline locks in the
// same compare-and-set update; a concurrent writer surfaces as
// ErrStaleState and the caller re-reads.
func (s *Service) SignBaseline(ctx context.Context, userID int64, impersonated authz.Role, input SignBaselineInput) (Baseline, error) {
	baseline, err := s.repo.GetBaseline(ctx, input.BaselineID)
	if err != nil {
		return Baseline{}, err
	}
	milestone, err := s.repo.GetMilestone(ctx, baseline.MilestoneID)
	if err != nil {
		return Baseline{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, milestone.ProjectID, impersonated)
	if err != nil {
		return Baseline{}, err
	}
	matrix, err := s.projects.Matrix(ctx, milestone.ProjectID)
	if err != nil {
		return Baseline{}, err
	}
	if !matrix.FeatureEnabled(authz.FeatureBaselines) {
		return Baseline{}, fmt.Errorf("%w: baselines are disabled for this project", shared.ErrNotFound)
	}
	if input.AssumedStatus != "" && input.AssumedStatus != baseline.Status {
		return Baseline{}, fmt.Errorf("%w: expected %s, baseline is %s", workflow.ErrStaleState, input.AssumedStatus, baseline.Status)
	}

	approvalCtx := authz.ApprovalContext{}
	if err := requireSigningAuthority(resolved, matrix, authz.EntityBaseline, input.Side, approvalCtx); err != nil {
		return Baseline{}, err
	}

	entity, err := workflow.ApplySignature(baseline.Entity(), authz.EntityBaseline, input.Side, userID, s.now())
	if err != nil {
		return Baseline{}, err
	}

	// Completeness under the matrix locks the baseline in the same
	// write.
	if workflow.IsComplete(entity, matrix, authz.EntityBaseline) {
		entity, err = workflow.Transition(entity, workflow.TransitionRequest{
			EntityType: authz.EntityBaseline,
			From:       workflow.BaselineUnlocked,
			To:         workflow.BaselineLocked,
			Actor:      resolved,
			ActorID:    userID,
			Matrix:     matrix,
			Context:    approvalCtx,
		})
		if err != nil {
			return Baseline{}, err
		}
	}

	next := baseline.withEntity(entity)
	if err := s.repo.CASBaseline(ctx, baseline, next); err != nil {
		return Baseline{}, err
	}

	s.recordSignature(ctx, "baseline", next.ID, userID, input.Side, next.Locked)
	return next, nil
}

// ResetBaseline is the privileged escape hatch: it unlocks the
// baseline and clears both signatures. Full admin capability is
// required; everything about the call is audited.
func (s *Service) ResetBaseline(ctx context.Context, userID int64, impersonated authz.Role, id uuid.UUID) (Baseline, error) {
	baseline, err := s.repo.GetBaseline(ctx, id)
	if err != nil {
		return Baseline{}, err
	}
	milestone, err := s.repo.GetMilestone(ctx, baseline.MilestoneID)
	if err != nil {
		return Baseline{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, milestone.ProjectID, impersonated)
	if err != nil {
		return Baseline{}, err
	}
	if !resolved.HasFullAdminCapabilities {
		return Baseline{}, fmt.Errorf("%w: baseline reset requires full admin capability", workflow.ErrUnauthorized)
	}

	entity := baseline.Entity()
	if baseline.Locked {
		matrix, err := s.projects.Matrix(ctx, milestone.ProjectID)
		if err != nil {
			return Baseline{}, err
		}
		entity, err = workflow.Transition(entity, workflow.TransitionRequest{
			EntityType: authz.EntityBaseline,
			From:       workflow.BaselineLocked,
			To:         workflow.BaselineUnlocked,
			Actor:      resolved,
			ActorID:    userID,
			Matrix:     matrix,
		})
		if err != nil {
			return Baseline{}, err
		}
	}
	// Stale signatures would immediately re-complete and relock, so the
	// reset clears both sides along with the lock.
	entity = workflow.ResetSignatures(entity)

	next := baseline.withEntity(entity)
	if err := s.repo.CASBaseline(ctx, baseline, next); err != nil {
		return Baseline{}, err
	}

	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   "baseline.reset",
		Entity:   "baseline",
		EntityID: next.ID.String(),
		Meta:     map[string]any{"milestone_id": milestone.ID, "impersonating": resolved.IsImpersonating},
	}); err != nil {
		s.logger.Warn("audit baseline reset", slog.Any("error", err))
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		EntityType: "baseline",
		RefID:      next.ID,
		ActorID:    userID,
		Action:     shared.ApprovalReset,
	}); err != nil {
		s.logger.Warn("record baseline reset", slog.Any("error", err))
	}
	return next, nil
}

// CreateCertificate opens a draft acceptance certificate for the
// milestone.
func (s *Service) CreateCertificate(ctx context.Context, userID int64, impersonated authz.Role, milestoneID int64, title string) (Certificate, error) {
	if title == "" {
		return Certificate{}, fmt.Errorf("%w: title is required", shared.ErrValidation)
	}
	milestone, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return Certificate{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, milestone.ProjectID, impersonated)
	if err != nil {
		return Certificate{}, err
	}
	matrix, err := s.projects.Matrix(ctx, milestone.ProjectID)
	if err != nil {
		return Certificate{}, err
	}
	if !matrix.FeatureEnabled(authz.FeatureCertificates) {
		return Certificate{}, fmt.Errorf("%w: certificates are disabled for this project", shared.ErrNotFound)
	}
	if !authz.Elevated(resolved.Effective) && !resolved.HasFullAdminCapabilities {
		return Certificate{}, fmt.Errorf("%w: %s may not create certificates", workflow.ErrUnauthorized, resolved.Effective)
	}
	return s.repo.CreateCertificate(ctx, Certificate{
		MilestoneID: milestoneID,
		Title:       title,
		Status:      workflow.CertificateDraft,
		OwnerID:     userID,
	})
}

// GetCertificate fetches one certificate.
func (s *Service) GetCertificate(ctx context.Context, id uuid.UUID) (Certificate, error) {
	return s.repo.GetCertificate(ctx, id)
}

// ListCertificates fetches a milestone's certificates.
func (s *Service) ListCertificates(ctx context.Context, milestoneID int64) ([]Certificate, error) {
	return s.repo.ListCertificates(ctx, milestoneID)
}

// SignCertificateInput carries one signature attempt.
type SignCertificateInput struct {
	CertificateID uuid.UUID
	Side          workflow.Side
	AssumedStatus workflow.Status
}

// SignCertificate applies one party's signature and refreshes the
// cached status column from the ledger view.
func (s *Service) SignCertificate(ctx context.Context, userID int64, impersonated authz.Role, input SignCertificateInput) (Certificate, error) {
	cert, err := s.repo.GetCertificate(ctx, input.CertificateID)
	if err != nil {
		return Certificate{}, err
	}
	milestone, err := s.repo.GetMilestone(ctx, cert.MilestoneID)
	if err != nil {
		return Certificate{}, err
	}
	_, resolved, err := s.projects.Resolve(ctx, userID, milestone.ProjectID, impersonated)
	if err != nil {
		return Certificate{}, err
	}
	matrix, err := s.projects.Matrix(ctx, milestone.ProjectID)
	if err != nil {
		return Certificate{}, err
	}
	if !matrix.FeatureEnabled(authz.FeatureCertificates) {
		return Certificate{}, fmt.Errorf("%w: certificates are disabled for this project", shared.ErrNotFound)
	}
	if input.AssumedStatus != "" && input.AssumedStatus != cert.Status {
		return Certificate{}, fmt.Errorf("%w: expected %s, certificate is %s", workflow.ErrStaleState, input.AssumedStatus, cert.Status)
	}

	approvalCtx := authz.ApprovalContext{}
	if err := requireSigningAuthority(resolved, matrix, authz.EntityCertificate, input.Side, approvalCtx); err != nil {
		return Certificate{}, err
	}

	entity, err := workflow.ApplySignature(cert.Entity(), authz.EntityCertificate, input.Side, userID, s.now())
	if err != nil {
		return Certificate{}, err
	}
	// The status column caches the ledger view.
	entity.Status = workflow.CertificateStatus(entity, matrix)

	next := cert.withEntity(entity)
	if err := s.repo.CASCertificate(ctx, cert, next); err != nil {
		return Certificate{}, err
	}

	s.recordSignature(ctx, "certificate", next.ID, userID, input.Side, next.Status == workflow.CertificateSigned)
	return next, nil
}

// requireSigningAuthority gates a signature on the approval evaluator
// plus side alignment: the supplier signature needs a supplier-side
// effective role, mirrored for the customer side. Full admins still
// sign under their effective role, so an impersonating admin previews
// exactly what the lesser role could do.
func requireSigningAuthority(resolved authz.EffectiveRole, matrix authz.AuthorityMatrix, entityType authz.EntityType, side workflow.Side, ctx authz.ApprovalContext) error {
	if !authz.CanApprove(matrix, entityType, resolved.Effective, ctx) {
		return fmt.Errorf("%w: %s lacks approval authority for %s", workflow.ErrUnauthorized, resolved.Effective, entityType)
	}
	switch side {
	case workflow.SideSupplier:
		if !authz.SupplierSide(resolved.Effective) {
			return fmt.Errorf("%w: supplier signature requires a supplier-side role", workflow.ErrUnauthorized)
		}
	case workflow.SideCustomer:
		if !authz.CustomerSide(resolved.Effective) {
			return fmt.Errorf("%w: customer signature requires a customer-side role", workflow.ErrUnauthorized)
		}
	default:
		return fmt.Errorf("%w: unknown signing side %q", workflow.ErrInvalidTransition, side)
	}
	return nil
}

func (s *Service) recordSignature(ctx context.Context, entity string, id uuid.UUID, userID int64, side workflow.Side, completed bool) {
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   entity + ".sign",
		Entity:   entity,
		EntityID: id.String(),
		Meta:     map[string]any{"side": string(side), "completed": completed},
	}); err != nil {
		s.logger.Warn("audit signature", slog.Any("error", err))
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		EntityType: entity,
		RefID:      id,
		ActorID:    userID,
		Action:     shared.ApprovalSign,
		Note:       string(side),
	}); err != nil {
		s.logger.Warn("record signature", slog.Any("error", err))
	}
}
