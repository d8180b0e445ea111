package deliverables

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pm/meridian-pm/internal/authz"
	"github.com/meridian-pm/meridian-pm/internal/projects"
	"github.com/meridian-pm/meridian-pm/internal/shared"
	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

type memRepo struct {
	items map[uuid.UUID]Deliverable
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[uuid.UUID]Deliverable)}
}

func (m *memRepo) Create(ctx context.Context, d Deliverable) (Deliverable, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.items[d.ID] = d
	return d, nil
}

func (m *memRepo) Get(ctx context.Context, id uuid.UUID) (Deliverable, error) {
	d, ok := m.items[id]
	if !ok {
		return Deliverable{}, shared.ErrNotFound
	}
	return d, nil
}

func (m *memRepo) List(ctx context.Context, projectID int64) ([]Deliverable, error) {
	var out []Deliverable
	for _, d := range m.items {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) CAS(ctx context.Context, prev, next Deliverable) error {
	current, ok := m.items[prev.ID]
	if !ok {
		return workflow.ErrStaleState
	}
	if current.Status != prev.Status ||
		(current.SupplierSignedAt == nil) != (prev.SupplierSignedAt == nil) ||
		(current.CustomerSignedAt == nil) != (prev.CustomerSignedAt == nil) {
		return workflow.ErrStaleState
	}
	m.items[prev.ID] = next
	return nil
}

func (m *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type stubProjects struct {
	roles  map[int64]authz.EffectiveRole
	matrix authz.AuthorityMatrix
}

func (s *stubProjects) Resolve(ctx context.Context, userID, projectID int64, impersonated authz.Role) (projects.Project, authz.EffectiveRole, error) {
	return projects.Project{ID: projectID}, s.roles[userID], nil
}

func (s *stubProjects) Matrix(ctx context.Context, projectID int64) (authz.AuthorityMatrix, error) {
	return s.matrix, nil
}

type recorder struct {
	approvals []shared.ApprovalLog
	submits   []uuid.UUID
	audits    []shared.AuditLog
}

func (r *recorder) Record(ctx context.Context, log shared.AuditLog) error {
	r.audits = append(r.audits, log)
	return nil
}

type approvalPort struct{ parent *recorder }

func (a approvalPort) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.parent.approvals = append(a.parent.approvals, log)
	return nil
}

func (a approvalPort) EnsureSubmit(ctx context.Context, entityType string, ref uuid.UUID, actorID int64, note string) error {
	for _, id := range a.parent.submits {
		if id == ref {
			return nil
		}
	}
	a.parent.submits = append(a.parent.submits, ref)
	return nil
}

const (
	ownerID      = int64(1)
	supplierID   = int64(2)
	customerID   = int64(3)
	bystanderID  = int64(4)
	adminUserID  = int64(5)
	otherOwnerID = int64(6)
)

func testRoles() map[int64]authz.EffectiveRole {
	return map[int64]authz.EffectiveRole{
		ownerID:      {ActualRole: authz.RoleSupplierMember, Effective: authz.RoleSupplierMember},
		supplierID:   {ActualRole: authz.RoleSupplierPM, Effective: authz.RoleSupplierPM, HasFullAdminCapabilities: true},
		customerID:   {ActualRole: authz.RoleCustomerPM, Effective: authz.RoleCustomerPM},
		bystanderID:  {ActualRole: authz.RoleViewer, Effective: authz.RoleViewer},
		adminUserID:  {ActualRole: authz.RoleSupplierPM, Effective: authz.RoleSupplierPM, HasFullAdminCapabilities: true},
		otherOwnerID: {ActualRole: authz.RoleCustomerMember, Effective: authz.RoleCustomerMember},
	}
}

func bothMatrix() authz.AuthorityMatrix {
	return authz.AuthorityMatrix{
		Rules: map[authz.EntityType]authz.ApprovalRule{
			authz.EntityDeliverable: {Required: true, Authority: authz.AuthorityBoth},
		},
	}
}

type fixture struct {
	repo *memRepo
	rec  *recorder
	svc  *Service
}

func newFixture(t *testing.T, matrix authz.AuthorityMatrix) *fixture {
	t.Helper()
	repo := newMemRepo()
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, &stubProjects{roles: testRoles(), matrix: matrix}, rec, approvalPort{parent: rec}, logger)
	return &fixture{repo: repo, rec: rec, svc: svc}
}

func (f *fixture) seed(t *testing.T) Deliverable {
	t.Helper()
	d, err := f.svc.Create(context.Background(), ownerID, "", CreateInput{ProjectID: 1, Title: "API docs"})
	require.NoError(t, err)
	return d
}

func (f *fixture) move(t *testing.T, userID int64, id uuid.UUID, from, to workflow.Status) Deliverable {
	t.Helper()
	d, err := f.svc.Transition(context.Background(), userID, "", TransitionInput{ID: id, From: from, To: to})
	require.NoError(t, err)
	return d
}

func TestDeliverableHappyPath(t *testing.T) {
	f := newFixture(t, bothMatrix())
	d := f.seed(t)

	d = f.move(t, ownerID, d.ID, workflow.DeliverableNotStarted, workflow.DeliverableInProgress)
	d = f.move(t, ownerID, d.ID, workflow.DeliverableInProgress, workflow.DeliverableSubmitted)
	d = f.move(t, customerID, d.ID, workflow.DeliverableSubmitted, workflow.DeliverableReviewComplete)
	require.Equal(t, workflow.DeliverableReviewComplete, d.Status)

	d, err := f.svc.Sign(context.Background(), supplierID, "", SignInput{ID: d.ID, Side: workflow.SideSupplier})
	require.NoError(t, err)
	d, err = f.svc.Sign(context.Background(), customerID, "", SignInput{ID: d.ID, Side: workflow.SideCustomer})
	require.NoError(t, err)
	require.Equal(t, workflow.SignOffSigned, workflow.DeriveStatus(d.Entity()))

	d = f.move(t, supplierID, d.ID, workflow.DeliverableReviewComplete, workflow.DeliverableDelivered)
	require.Equal(t, workflow.DeliverableDelivered, d.Status)
}

func TestDeliverableRejectAndResubmit(t *testing.T) {
	f := newFixture(t, bothMatrix())
	d := f.seed(t)

	d = f.move(t, ownerID, d.ID, workflow.DeliverableNotStarted, workflow.DeliverableInProgress)
	d = f.move(t, ownerID, d.ID, workflow.DeliverableInProgress, workflow.DeliverableSubmitted)
	d = f.move(t, customerID, d.ID, workflow.DeliverableSubmitted, workflow.DeliverableReturned)
	require.Equal(t, workflow.DeliverableReturned, d.Status)

	// The owner resubmits straight from the returned status.
	d = f.move(t, ownerID, d.ID, workflow.DeliverableReturned, workflow.DeliverableSubmitted)
	require.Equal(t, workflow.DeliverableSubmitted, d.Status)
}

func TestDeliverableReviewRequiresCustomerSide(t *testing.T) {
	f := newFixture(t, bothMatrix())
	d := f.seed(t)

	d = f.move(t, ownerID, d.ID, workflow.DeliverableNotStarted, workflow.DeliverableInProgress)
	d = f.move(t, ownerID, d.ID, workflow.DeliverableInProgress, workflow.DeliverableSubmitted)

	_, err := f.svc.Transition(context.Background(), ownerID, "", TransitionInput{
		ID: d.ID, From: workflow.DeliverableSubmitted, To: workflow.DeliverableReviewComplete,
	})
	require.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestDeliverableStaleSnapshot(t *testing.T) {
	f := newFixture(t, bothMatrix())
	d := f.seed(t)

	f.move(t, ownerID, d.ID, workflow.DeliverableNotStarted, workflow.DeliverableInProgress)

	// A second client still sees NOT_STARTED.
	_, err := f.svc.Transition(context.Background(), ownerID, "", TransitionInput{
		ID: d.ID, From: workflow.DeliverableNotStarted, To: workflow.DeliverableInProgress,
	})
	require.ErrorIs(t, err, workflow.ErrStaleState)
}

func TestDeliverableDeliveryRequiresCompleteSignOff(t *testing.T) {
	f := newFixture(t, bothMatrix())
	d := f.seed(t)

	d = f.move(t, ownerID, d.ID, workflow.DeliverableNotStarted, workflow.DeliverableInProgress)
	d = f.move(t, ownerID, d.ID, workflow.DeliverableInProgress, workflow.DeliverableSubmitted)
	d = f.move(t, customerID, d.ID, workflow.DeliverableSubmitted, workflow.DeliverableReviewComplete)

	_, err := f.svc.Transition(context.Background(), supplierID, "", TransitionInput{
		ID: d.ID, From: workflow.DeliverableReviewComplete, To: workflow.DeliverableDelivered,
	})
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestDeliverableSignOnlyFromReviewComplete(t *testing.T) {
	f := newFixture(t, bothMatrix())
	d := f.seed(t)

	_, err := f.svc.Sign(context.Background(), supplierID, "", SignInput{ID: d.ID, Side: workflow.SideSupplier})
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestDeliverableCreateRequiresSupplierSide(t *testing.T) {
	f := newFixture(t, bothMatrix())

	_, err := f.svc.Create(context.Background(), customerID, "", CreateInput{ProjectID: 1, Title: "Docs"})
	require.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestDeliverableFeatureDisabled(t *testing.T) {
	matrix := bothMatrix()
	matrix.Features = map[authz.Feature]bool{authz.FeatureDeliverables: false}
	f := newFixture(t, matrix)

	_, err := f.svc.Create(context.Background(), ownerID, "", CreateInput{ProjectID: 1, Title: "Docs"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeliverableDeleteOnlyBeforeStart(t *testing.T) {
	f := newFixture(t, bothMatrix())
	d := f.seed(t)

	require.NoError(t, f.svc.Delete(context.Background(), ownerID, "", d.ID))

	d2 := f.seed(t)
	f.move(t, ownerID, d2.ID, workflow.DeliverableNotStarted, workflow.DeliverableInProgress)
	err := f.svc.Delete(context.Background(), ownerID, "", d2.ID)
	require.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestDeliverableSubmitRecordedOnce(t *testing.T) {
	f := newFixture(t, bothMatrix())
	d := f.seed(t)

	d = f.move(t, ownerID, d.ID, workflow.DeliverableNotStarted, workflow.DeliverableInProgress)
	d = f.move(t, ownerID, d.ID, workflow.DeliverableInProgress, workflow.DeliverableSubmitted)
	d = f.move(t, customerID, d.ID, workflow.DeliverableSubmitted, workflow.DeliverableReturned)
	f.move(t, ownerID, d.ID, workflow.DeliverableReturned, workflow.DeliverableSubmitted)

	require.Len(t, f.rec.submits, 1, "submit history entry is recorded once per deliverable")
}

func TestDeliverableViewCapabilitiesForOwner(t *testing.T) {
	f := newFixture(t, bothMatrix())
	d := f.seed(t)

	view, err := f.svc.ViewFor(context.Background(), ownerID, "", d.ID)
	require.NoError(t, err)
	require.True(t, view.Capabilities.CanEdit)
	require.True(t, view.Capabilities.CanDelete)
	require.False(t, view.Capabilities.CanReview)

	viewerView, err := f.svc.ViewFor(context.Background(), bystanderID, "", d.ID)
	require.NoError(t, err)
	require.False(t, viewerView.Capabilities.CanEdit)
	require.False(t, viewerView.Capabilities.CanSubmit)
}
