package projects

import (
	"time"

	"github.com/meridian-pm/meridian-pm/internal/authz"
)

// Organisation is a tenant. Every project links one supplier and one
// customer organisation.
type Organisation struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Project is the unit of collaboration between a supplier org and a
// customer org.
type Project struct {
	ID            int64
	Code          string
	Name          string
	SupplierOrgID int64
	CustomerOrgID int64
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Ref converts the project to the resolver's reference shape. The
// supplier org is the owning tenant for org-admin resolution.
func (p Project) Ref() authz.ProjectRef {
	return authz.ProjectRef{ID: p.ID, OrgID: authz.OrgID(p.SupplierOrgID)}
}

// Member is a user's membership on a project with its recorded role.
type Member struct {
	ProjectID int64
	UserID    int64
	Role      authz.Role
	AddedAt   time.Time
}

// Setting is one persisted approval rule row. One row per entity type;
// missing rows fall back to matrix defaults at load time.
type Setting struct {
	ProjectID     int64
	EntityType    authz.EntityType
	Required      bool
	Authority     authz.AuthorityMode
	DualSignature bool
	UpdatedAt     time.Time
}

// FeatureToggle is one persisted feature switch row.
type FeatureToggle struct {
	ProjectID int64
	Feature   authz.Feature
	Enabled   bool
}

// Overview aggregates per-entity-type counts for the project landing
// data.
type Overview struct {
	ProjectID    int64                     `json:"project_id"`
	EntityCounts map[authz.EntityType]int64 `json:"entity_counts"`
	MemberCount  int64                     `json:"member_count"`
}
