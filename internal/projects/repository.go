package projects

import (
	"context"

	"github.com/meridian-pm/meridian-pm/internal/authz"
)

// RepositoryPort describes persistence operations used by Service.
type RepositoryPort interface {
	CreateProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, id int64) (Project, error)
	ListProjectsForUser(ctx context.Context, userID int64) ([]Project, error)

	AddMember(ctx context.Context, m Member) error
	RemoveMember(ctx context.Context, projectID, userID int64) error
	ListMembers(ctx context.Context, projectID int64) ([]Member, error)
	MemberRole(ctx context.Context, projectID, userID int64) (authz.Role, error)

	UpsertSetting(ctx context.Context, s Setting) error
	ListSettings(ctx context.Context, projectID int64) ([]Setting, error)
	UpsertFeature(ctx context.Context, f FeatureToggle) error
	ListFeatures(ctx context.Context, projectID int64) ([]FeatureToggle, error)

	IsSystemAdmin(ctx context.Context, userID int64) (bool, error)
	OrgAdminOrgs(ctx context.Context, userID int64) ([]int64, error)

	CountEntities(ctx context.Context, projectID int64, entityType authz.EntityType) (int64, error)
	CountMembers(ctx context.Context, projectID int64) (int64, error)
}
