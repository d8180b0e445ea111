package deliverables

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// Deliverable is a unit of supplier work moving through the review and
// sign-off lifecycle.
type Deliverable struct {
	ID               uuid.UUID       `json:"id"`
	ProjectID        int64           `json:"project_id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Status           workflow.Status `json:"status"`
	SupplierSignedAt *time.Time      `json:"supplier_signed_at,omitempty"`
	SupplierSignedBy int64           `json:"supplier_signed_by,omitempty"`
	CustomerSignedAt *time.Time      `json:"customer_signed_at,omitempty"`
	CustomerSignedBy int64           `json:"customer_signed_by,omitempty"`
	OwnerID          int64           `json:"owner_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Entity projects the deliverable onto the workflow shape.
func (d Deliverable) Entity() workflow.Entity {
	return workflow.Entity{
		ID:               d.ID,
		Status:           d.Status,
		SupplierSignedAt: d.SupplierSignedAt,
		SupplierSignedBy: d.SupplierSignedBy,
		CustomerSignedAt: d.CustomerSignedAt,
		CustomerSignedBy: d.CustomerSignedBy,
		OwnerID:          d.OwnerID,
	}
}

func (d Deliverable) withEntity(e workflow.Entity) Deliverable {
	d.Status = e.Status
	d.SupplierSignedAt = e.SupplierSignedAt
	d.SupplierSignedBy = e.SupplierSignedBy
	d.CustomerSignedAt = e.CustomerSignedAt
	d.CustomerSignedBy = e.CustomerSignedBy
	return d
}
