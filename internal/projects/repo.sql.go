package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pm/meridian-pm/internal/authz"
	"github.com/meridian-pm/meridian-pm/internal/shared"
)

// PGRepository implements RepositoryPort on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const projectColumns = `id, code, name, supplier_org_id, customer_org_id, created_by, created_at, updated_at`

// CreateProject inserts a project row.
func (r *PGRepository) CreateProject(ctx context.Context, p Project) (Project, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO projects (code, name, supplier_org_id, customer_org_id, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING `+projectColumns,
		p.Code, p.Name, p.SupplierOrgID, p.CustomerOrgID, p.CreatedBy).
		Scan(&p.ID, &p.Code, &p.Name, &p.SupplierOrgID, &p.CustomerOrgID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.ConstraintName == "uq_projects_code" {
			return Project{}, shared.ErrDuplicate
		}
		return Project{}, err
	}
	return p, nil
}

// GetProject fetches a project by ID.
func (r *PGRepository) GetProject(ctx context.Context, id int64) (Project, error) {
	var p Project
	err := r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.SupplierOrgID, &p.CustomerOrgID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, shared.ErrNotFound
		}
		return Project{}, err
	}
	return p, nil
}

// ListProjectsForUser returns projects the user can see: memberships
// plus everything in organisations the user administers.
func (r *PGRepository) ListProjectsForUser(ctx context.Context, userID int64) ([]Project, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT p.id, p.code, p.name, p.supplier_org_id, p.customer_org_id, p.created_by, p.created_at, p.updated_at
FROM projects p
LEFT JOIN project_members m ON m.project_id = p.id AND m.user_id = $1
LEFT JOIN org_admins oa ON oa.org_id IN (p.supplier_org_id, p.customer_org_id) AND oa.user_id = $1
WHERE m.user_id IS NOT NULL
   OR oa.user_id IS NOT NULL
   OR EXISTS (SELECT 1 FROM users u WHERE u.id = $1 AND u.is_system_admin)
ORDER BY p.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.SupplierOrgID, &p.CustomerOrgID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// AddMember inserts a membership row. Duplicate memberships map to
// shared.ErrDuplicate via the unique constraint.
func (r *PGRepository) AddMember(ctx context.Context, m Member) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO project_members (project_id, user_id, role, added_at)
VALUES ($1, $2, $3, NOW())`, m.ProjectID, m.UserID, string(m.Role))
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.ConstraintName == "uq_project_members" {
			return shared.ErrDuplicate
		}
		return err
	}
	return nil
}

// RemoveMember deletes a membership row.
func (r *PGRepository) RemoveMember(ctx context.Context, projectID, userID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM project_members WHERE project_id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListMembers fetches memberships for one project.
func (r *PGRepository) ListMembers(ctx context.Context, projectID int64) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT project_id, user_id, role, added_at
FROM project_members WHERE project_id=$1 ORDER BY added_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var role string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &role, &m.AddedAt); err != nil {
			return nil, err
		}
		m.Role = authz.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// MemberRole fetches the recorded role for one user, empty when not a
// member.
func (r *PGRepository) MemberRole(ctx context.Context, projectID, userID int64) (authz.Role, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM project_members WHERE project_id=$1 AND user_id=$2`, projectID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return authz.Role(role), nil
}

// UpsertSetting writes one approval rule row.
func (r *PGRepository) UpsertSetting(ctx context.Context, s Setting) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO project_settings (project_id, entity_type, required, authority, dual_signature, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (project_id, entity_type) DO UPDATE
SET required=EXCLUDED.required, authority=EXCLUDED.authority, dual_signature=EXCLUDED.dual_signature, updated_at=NOW()`,
		s.ProjectID, string(s.EntityType), s.Required, string(s.Authority), s.DualSignature)
	return err
}

// ListSettings fetches approval rule rows for one project.
func (r *PGRepository) ListSettings(ctx context.Context, projectID int64) ([]Setting, error) {
	rows, err := r.pool.Query(ctx, `SELECT project_id, entity_type, required, authority, dual_signature, updated_at
FROM project_settings WHERE project_id=$1`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var s Setting
		var entityType, authority string
		if err := rows.Scan(&s.ProjectID, &entityType, &s.Required, &authority, &s.DualSignature, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.EntityType = authz.EntityType(entityType)
		s.Authority = authz.AuthorityMode(authority)
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// UpsertFeature writes one feature toggle row.
func (r *PGRepository) UpsertFeature(ctx context.Context, f FeatureToggle) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO project_features (project_id, feature, enabled)
VALUES ($1, $2, $3)
ON CONFLICT (project_id, feature) DO UPDATE SET enabled=EXCLUDED.enabled`,
		f.ProjectID, string(f.Feature), f.Enabled)
	return err
}

// ListFeatures fetches feature toggle rows for one project.
func (r *PGRepository) ListFeatures(ctx context.Context, projectID int64) ([]FeatureToggle, error) {
	rows, err := r.pool.Query(ctx, `SELECT project_id, feature, enabled FROM project_features WHERE project_id=$1`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var toggles []FeatureToggle
	for rows.Next() {
		var f FeatureToggle
		var feature string
		if err := rows.Scan(&f.ProjectID, &feature, &f.Enabled); err != nil {
			return nil, err
		}
		f.Feature = authz.Feature(feature)
		toggles = append(toggles, f)
	}
	return toggles, rows.Err()
}

// IsSystemAdmin reports the user's global admin flag.
func (r *PGRepository) IsSystemAdmin(ctx context.Context, userID int64) (bool, error) {
	var isAdmin bool
	err := r.pool.QueryRow(ctx, `SELECT is_system_admin FROM users WHERE id=$1`, userID).Scan(&isAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return isAdmin, nil
}

// OrgAdminOrgs lists organisation IDs the user administers.
func (r *PGRepository) OrgAdminOrgs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT org_id FROM org_admins WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}

// CountEntities counts rows of one entity type scoped to the project.
func (r *PGRepository) CountEntities(ctx context.Context, projectID int64, entityType authz.EntityType) (int64, error) {
	var query string
	switch entityType {
	case authz.EntityBaseline:
		query = `SELECT COUNT(*) FROM baselines b JOIN milestones m ON m.id = b.milestone_id WHERE m.project_id=$1`
	case authz.EntityCertificate:
		query = `SELECT COUNT(*) FROM certificates c JOIN milestones m ON m.id = c.milestone_id WHERE m.project_id=$1`
	case authz.EntityDeliverable:
		query = `SELECT COUNT(*) FROM deliverables WHERE project_id=$1`
	case authz.EntityTimesheet:
		query = `SELECT COUNT(*) FROM timesheets WHERE project_id=$1`
	case authz.EntityExpense:
		query = `SELECT COUNT(*) FROM expenses WHERE project_id=$1`
	case authz.EntityVariation:
		query = `SELECT COUNT(*) FROM variations WHERE project_id=$1`
	default:
		return 0, fmt.Errorf("projects: unknown entity type %q", entityType)
	}
	var count int64
	if err := r.pool.QueryRow(ctx, query, projectID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountMembers counts memberships on the project.
func (r *PGRepository) CountMembers(ctx context.Context, projectID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM project_members WHERE project_id=$1`, projectID).Scan(&count)
	return count, err
}

var _ RepositoryPort = (*PGRepository)(nil)
