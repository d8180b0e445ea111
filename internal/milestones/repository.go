package milestones

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort describes persistence operations used by Service.
// The CAS methods include the previous snapshot's status and signature
// fields in their WHERE clause and report workflow.ErrStaleState when
// no row matched.
type RepositoryPort interface {
	CreateMilestone(ctx context.Context, m Milestone) (Milestone, error)
	GetMilestone(ctx context.Context, id int64) (Milestone, error)
	ListMilestones(ctx context.Context, projectID int64) ([]Milestone, error)

	CreateBaseline(ctx context.Context, b Baseline) (Baseline, error)
	GetBaseline(ctx context.Context, id uuid.UUID) (Baseline, error)
	ListBaselines(ctx context.Context, milestoneID int64) ([]Baseline, error)
	CASBaseline(ctx context.Context, prev, next Baseline) error

	CreateCertificate(ctx context.Context, c Certificate) (Certificate, error)
	GetCertificate(ctx context.Context, id uuid.UUID) (Certificate, error)
	ListCertificates(ctx context.Context, milestoneID int64) ([]Certificate, error)
	CASCertificate(ctx context.Context, prev, next Certificate) error
}
