package deliverables

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort describes persistence operations used by Service. CAS
// guards status and both signature timestamps; zero matched rows means
// workflow.ErrStaleState.
type RepositoryPort interface {
	Create(ctx context.Context, d Deliverable) (Deliverable, error)
	Get(ctx context.Context, id uuid.UUID) (Deliverable, error)
	List(ctx context.Context, projectID int64) ([]Deliverable, error)
	CAS(ctx context.Context, prev, next Deliverable) error
	Delete(ctx context.Context, id uuid.UUID) error
}
