package projects

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-pm/meridian-pm/internal/authz"
	"github.com/meridian-pm/meridian-pm/internal/shared"
)

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates project, membership and settings flows. It is
// also the home of the two loaders the rest of the application depends
// on: Actor (the per-request identity snapshot) and Matrix (the
// project's workflow configuration).
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs the projects service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// CreateProjectInput describes project creation payload.
type CreateProjectInput struct {
	Code          string
	Name          string
	SupplierOrgID int64
	CustomerOrgID int64
	CreatedBy     int64
}

// CreateProject persists a new project.
func (s *Service) CreateProject(ctx context.Context, input CreateProjectInput) (Project, error) {
	if input.Code == "" || input.Name == "" {
		return Project{}, fmt.Errorf("%w: code and name are required", shared.ErrValidation)
	}
	if input.SupplierOrgID == 0 || input.CustomerOrgID == 0 {
		return Project{}, fmt.Errorf("%w: supplier and customer organisations are required", shared.ErrValidation)
	}
	p, err := s.repo.CreateProject(ctx, Project{
		Code:          input.Code,
		Name:          input.Name,
		SupplierOrgID: input.SupplierOrgID,
		CustomerOrgID: input.CustomerOrgID,
		CreatedBy:     input.CreatedBy,
	})
	if err != nil {
		return Project{}, err
	}
	// The creator joins with full authority so the project is never
	// orphaned without an administrator.
	if err := s.repo.AddMember(ctx, Member{ProjectID: p.ID, UserID: input.CreatedBy, Role: authz.FullAuthorityRole}); err != nil {
		s.logger.Warn("add creator membership", slog.Any("error", err))
	}
	return p, nil
}

// GetProject fetches one project.
func (s *Service) GetProject(ctx context.Context, id int64) (Project, error) {
	return s.repo.GetProject(ctx, id)
}

// ListProjects returns the projects visible to the user.
func (s *Service) ListProjects(ctx context.Context, userID int64) ([]Project, error) {
	return s.repo.ListProjectsForUser(ctx, userID)
}

// AddMember records a membership with the given role.
func (s *Service) AddMember(ctx context.Context, projectID, userID int64, role authz.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", shared.ErrValidation, role)
	}
	return s.repo.AddMember(ctx, Member{ProjectID: projectID, UserID: userID, Role: role})
}

// RemoveMember drops a membership.
func (s *Service) RemoveMember(ctx context.Context, projectID, userID int64) error {
	return s.repo.RemoveMember(ctx, projectID, userID)
}

// ListMembers lists memberships for one project.
func (s *Service) ListMembers(ctx context.Context, projectID int64) ([]Member, error) {
	return s.repo.ListMembers(ctx, projectID)
}

// SettingInput describes one approval rule update.
type SettingInput struct {
	EntityType    authz.EntityType
	Required      bool
	Authority     authz.AuthorityMode
	DualSignature bool
}

// UpdateSetting validates and persists one approval rule row.
func (s *Service) UpdateSetting(ctx context.Context, projectID int64, actorID int64, input SettingInput) error {
	if !input.Authority.Valid() {
		return fmt.Errorf("%w: unknown authority mode %q", shared.ErrValidation, input.Authority)
	}
	known := false
	for _, et := range authz.EntityTypes() {
		if et == input.EntityType {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: unknown entity type %q", shared.ErrValidation, input.EntityType)
	}
	if err := s.repo.UpsertSetting(ctx, Setting{
		ProjectID:     projectID,
		EntityType:    input.EntityType,
		Required:      input.Required,
		Authority:     input.Authority,
		DualSignature: input.DualSignature,
	}); err != nil {
		return err
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "settings.update",
		Entity:   "project",
		EntityID: strconv.FormatInt(projectID, 10),
		Meta: map[string]any{
			"entity_type": string(input.EntityType),
			"authority":   string(input.Authority),
		},
	})
}

// UpdateFeature persists a feature toggle row.
func (s *Service) UpdateFeature(ctx context.Context, projectID int64, actorID int64, feature authz.Feature, enabled bool) error {
	if err := s.repo.UpsertFeature(ctx, FeatureToggle{ProjectID: projectID, Feature: feature, Enabled: enabled}); err != nil {
		return err
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "feature.update",
		Entity:   "project",
		EntityID: strconv.FormatInt(projectID, 10),
		Meta:     map[string]any{"feature": string(feature), "enabled": enabled},
	})
}

// Matrix loads the project's workflow configuration. Missing rows keep
// the zero-value maps so matrix defaults (BOTH, features on) apply at
// read time rather than being materialised here.
func (s *Service) Matrix(ctx context.Context, projectID int64) (authz.AuthorityMatrix, error) {
	settings, err := s.repo.ListSettings(ctx, projectID)
	if err != nil {
		return authz.AuthorityMatrix{}, err
	}
	toggles, err := s.repo.ListFeatures(ctx, projectID)
	if err != nil {
		return authz.AuthorityMatrix{}, err
	}

	matrix := authz.AuthorityMatrix{
		Rules:    make(map[authz.EntityType]authz.ApprovalRule, len(settings)),
		Features: make(map[authz.Feature]bool, len(toggles)),
	}
	for _, row := range settings {
		if row.Authority == authz.AuthorityConditional && row.EntityType != authz.EntityExpense {
			// CONDITIONAL outside expenses behaves like EITHER; flag the
			// configuration so operators notice.
			s.logger.Warn("conditional authority configured for non-expense type",
				slog.Int64("project_id", projectID),
				slog.String("entity_type", string(row.EntityType)))
		}
		matrix.Rules[row.EntityType] = authz.ApprovalRule{
			Required:      row.Required,
			Authority:     row.Authority,
			DualSignature: row.DualSignature,
		}
	}
	for _, row := range toggles {
		matrix.Features[row.Feature] = row.Enabled
	}
	return matrix, nil
}

// Actor builds the per-request identity snapshot for one user against
// one project. The impersonated role comes from the session and is an
// instruction only; the resolver decides whether it takes effect.
func (s *Service) Actor(ctx context.Context, userID, projectID int64, impersonated authz.Role) (authz.Actor, error) {
	isAdmin, err := s.repo.IsSystemAdmin(ctx, userID)
	if err != nil {
		return authz.Actor{}, err
	}
	orgIDs, err := s.repo.OrgAdminOrgs(ctx, userID)
	if err != nil {
		return authz.Actor{}, err
	}
	role, err := s.repo.MemberRole(ctx, projectID, userID)
	if err != nil {
		return authz.Actor{}, err
	}

	orgAdminOf := make(map[authz.OrgID]struct{}, len(orgIDs))
	for _, id := range orgIDs {
		orgAdminOf[authz.OrgID(id)] = struct{}{}
	}
	return authz.Actor{
		UserID:           userID,
		IsSystemAdmin:    isAdmin,
		OrgAdminOf:       orgAdminOf,
		ProjectRole:      role,
		ImpersonatedRole: impersonated,
	}, nil
}

// Resolve loads the project and computes the actor's effective role on
// it in one call. This is the entry point handlers use before any
// guarded operation.
func (s *Service) Resolve(ctx context.Context, userID, projectID int64, impersonated authz.Role) (Project, authz.EffectiveRole, error) {
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, authz.EffectiveRole{}, err
	}
	actor, err := s.Actor(ctx, userID, projectID, impersonated)
	if err != nil {
		return Project{}, authz.EffectiveRole{}, err
	}
	return project, authz.ResolveEffectiveRole(actor, project.Ref()), nil
}

// Overview fans out the per-entity-type counts concurrently.
func (s *Service) Overview(ctx context.Context, projectID int64) (Overview, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return Overview{}, err
	}

	counts := make([]int64, len(authz.EntityTypes()))
	var memberCount int64

	g, ctx := errgroup.WithContext(ctx)
	for i, et := range authz.EntityTypes() {
		g.Go(func() error {
			n, err := s.repo.CountEntities(ctx, projectID, et)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	g.Go(func() error {
		n, err := s.repo.CountMembers(ctx, projectID)
		if err != nil {
			return err
		}
		memberCount = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	overview := Overview{
		ProjectID:    projectID,
		EntityCounts: make(map[authz.EntityType]int64, len(counts)),
		MemberCount:  memberCount,
	}
	for i, et := range authz.EntityTypes() {
		overview.EntityCounts[et] = counts[i]
	}
	return overview, nil
}
