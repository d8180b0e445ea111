package milestones

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// Milestone groups baselines and acceptance certificates under a
// project.
type Milestone struct {
	ID        int64      `json:"id"`
	ProjectID int64      `json:"project_id"`
	Name      string     `json:"name"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Baseline is a milestone's locked plan of record. It is signable by
// both parties and locks itself once complete under the configured
// authority.
type Baseline struct {
	ID               uuid.UUID       `json:"id"`
	MilestoneID      int64           `json:"milestone_id"`
	Version          int             `json:"version"`
	Status           workflow.Status `json:"status"`
	SupplierSignedAt *time.Time      `json:"supplier_signed_at,omitempty"`
	SupplierSignedBy int64           `json:"supplier_signed_by,omitempty"`
	CustomerSignedAt *time.Time      `json:"customer_signed_at,omitempty"`
	CustomerSignedBy int64           `json:"customer_signed_by,omitempty"`
	Locked           bool            `json:"locked"`
	OwnerID          int64           `json:"owner_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Entity projects the baseline onto the workflow shape.
func (b Baseline) Entity() workflow.Entity {
	return workflow.Entity{
		ID:               b.ID,
		Status:           b.Status,
		SupplierSignedAt: b.SupplierSignedAt,
		SupplierSignedBy: b.SupplierSignedBy,
		CustomerSignedAt: b.CustomerSignedAt,
		CustomerSignedBy: b.CustomerSignedBy,
		Locked:           b.Locked,
		OwnerID:          b.OwnerID,
	}
}

func (b Baseline) withEntity(e workflow.Entity) Baseline {
	b.Status = e.Status
	b.SupplierSignedAt = e.SupplierSignedAt
	b.SupplierSignedBy = e.SupplierSignedBy
	b.CustomerSignedAt = e.CustomerSignedAt
	b.CustomerSignedBy = e.CustomerSignedBy
	b.Locked = e.Locked
	return b
}

// Certificate is a milestone acceptance certificate. Its stored status
// is a cache of the ledger view, never the authority.
type Certificate struct {
	ID               uuid.UUID       `json:"id"`
	MilestoneID      int64           `json:"milestone_id"`
	Title            string          `json:"title"`
	Status           workflow.Status `json:"status"`
	SupplierSignedAt *time.Time      `json:"supplier_signed_at,omitempty"`
	SupplierSignedBy int64           `json:"supplier_signed_by,omitempty"`
	CustomerSignedAt *time.Time      `json:"customer_signed_at,omitempty"`
	CustomerSignedBy int64           `json:"customer_signed_by,omitempty"`
	OwnerID          int64           `json:"owner_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Entity projects the certificate onto the workflow shape.
func (c Certificate) Entity() workflow.Entity {
	return workflow.Entity{
		ID:               c.ID,
		Status:           c.Status,
		SupplierSignedAt: c.SupplierSignedAt,
		SupplierSignedBy: c.SupplierSignedBy,
		CustomerSignedAt: c.CustomerSignedAt,
		CustomerSignedBy: c.CustomerSignedBy,
		OwnerID:          c.OwnerID,
	}
}

func (c Certificate) withEntity(e workflow.Entity) Certificate {
	c.Status = e.Status
	c.SupplierSignedAt = e.SupplierSignedAt
	c.SupplierSignedBy = e.SupplierSignedBy
	c.CustomerSignedAt = e.CustomerSignedAt
	c.CustomerSignedBy = e.CustomerSignedBy
	return c
}
