package milestones

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
	nextMilestoneID int64
	milestones      map[int64]Milestone
	baselines       map[uuid.UUID]Baseline
	certificates    map[uuid.UUID]Certificate
	failCASOnce     bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		nextMilestoneID: 1,
		milestones:      make(map[int64]Milestone),
		baselines:       make(map[uuid.UUID]Baseline),
		certificates:    make(map[uuid.UUID]Certificate),
	}
}

func (m *memRepo) CreateMilestone(ctx context.Context, ms Milestone) (Milestone, error) {
	ms.ID = m.nextMilestoneID
	m.nextMilestoneID++
	m.milestones[ms.ID] = ms
	return ms, nil
}

func (m *memRepo) GetMilestone(ctx context.Context, id int64) (Milestone, error) {
	ms, ok := m.milestones[id]
	if !ok {
		return Milestone{}, shared.ErrNotFound
	}
	return ms, nil
}

func (m *memRepo) ListMilestones(ctx context.Context, projectID int64) ([]Milestone, error) {
	var out []Milestone
	for _, ms := range m.milestones {
		if ms.ProjectID == projectID {
			out = append(out, ms)
		}
	}
	return out, nil
}

func (m *memRepo) CreateBaseline(ctx context.Context, b Baseline) (Baseline, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Version = 1
	for _, existing := range m.baselines {
		if existing.MilestoneID == b.MilestoneID && existing.Version >= b.Version {
			b.Version = existing.Version + 1
		}
	}
	m.baselines[b.ID] = b
	return b, nil
}

func (m *memRepo) GetBaseline(ctx context.Context, id uuid.UUID) (Baseline, error) {
	b, ok := m.baselines[id]
	if !ok {
		return Baseline{}, shared.ErrNotFound
	}
	return b, nil
}

func (m *memRepo) ListBaselines(ctx context.Context, milestoneID int64) ([]Baseline, error) {
	var out []Baseline
	for _, b := range m.baselines {
		if b.MilestoneID == milestoneID {
			out = append(out, b)
		}
	}
	return out, nil
}

func sameSignatureState(a, b workflow.Entity) bool {
	return a.Status == b.Status &&
		(a.SupplierSignedAt == nil) == (b.SupplierSignedAt == nil) &&
		(a.CustomerSignedAt == nil) == (b.CustomerSignedAt == nil) &&
		a.Locked == b.Locked
}

func (m *memRepo) CASBaseline(ctx context.Context, prev, next Baseline) error {
	if m.failCASOnce {
		m.failCASOnce = false
		return workflow.ErrStaleState
	}
	current, ok := m.baselines[prev.ID]
	if !ok || !sameSignatureState(current.Entity(), prev.Entity()) {
		return workflow.ErrStaleState
	}
	m.baselines[prev.ID] = next
	return nil
}

func (m *memRepo) CreateCertificate(ctx context.Context, c Certificate) (Certificate, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.certificates[c.ID] = c
	return c, nil
}

func (m *memRepo) GetCertificate(ctx context.Context, id uuid.UUID) (Certificate, error) {
	c, ok := m.certificates[id]
	if !ok {
		return Certificate{}, shared.ErrNotFound
	}
	return c, nil
}

func (m *memRepo) ListCertificates(ctx context.Context, milestoneID int64) ([]Certificate, error) {
	var out []Certificate
	for _, c := range m.certificates {
		if c.MilestoneID == milestoneID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memRepo) CASCertificate(ctx context.Context, prev, next Certificate) error {
	current, ok := m.certificates[prev.ID]
	if !ok || !sameSignatureState(current.Entity(), prev.Entity()) {
		return workflow.ErrStaleState
	}
	m.certificates[prev.ID] = next
	return nil
}

// stubProjects resolves every user to a preconfigured role keyed by
// user ID.
type stubProjects struct {
	roles  map[int64]authz.EffectiveRole
	matrix authz.AuthorityMatrix
}

func (s *stubProjects) Resolve(ctx context.Context, userID, projectID int64, impersonated authz.Role) (projects.Project, authz.EffectiveRole, error) {
	return projects.Project{ID: projectID, SupplierOrgID: 10, CustomerOrgID: 20}, s.roles[userID], nil
}

func (s *stubProjects) Matrix(ctx context.Context, projectID int64) (authz.AuthorityMatrix, error) {
	return s.matrix, nil
}

type recorder struct {
	audits    []shared.AuditLog
	approvals []shared.ApprovalLog
}

func (r *recorder) Record(ctx context.Context, log shared.AuditLog) error {
	r.audits = append(r.audits, log)
	return nil
}

type approvalRecorder struct{ parent *recorder }

func (a approvalRecorder) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.parent.approvals = append(a.parent.approvals, log)
	return nil
}

const (
	supplierPMID     = int64(1)
	customerPMID     = int64(2)
	viewerID         = int64(3)
	supplierMemberID = int64(4)
	adminID          = int64(5)
)

func defaultRoles() map[int64]authz.EffectiveRole {
	return map[int64]authz.EffectiveRole{
		supplierPMID: {ActualRole: authz.RoleSupplierPM, Effective: authz.RoleSupplierPM, HasFullAdminCapabilities: true},
		customerPMID: {ActualRole: authz.RoleCustomerPM, Effective: authz.RoleCustomerPM},
		viewerID:     {ActualRole: authz.RoleViewer, Effective: authz.RoleViewer},
		supplierMemberID: {
			ActualRole: authz.RoleSupplierMember, Effective: authz.RoleSupplierMember,
		},
		adminID: {ActualRole: authz.RoleSupplierPM, Effective: authz.RoleSupplierPM, HasFullAdminCapabilities: true},
	}
}

func bothMatrix() authz.AuthorityMatrix {
	return authz.AuthorityMatrix{
		Rules: map[authz.EntityType]authz.ApprovalRule{
			authz.EntityBaseline:    {Required: true, Authority: authz.AuthorityBoth},
			authz.EntityCertificate: {Required: true, Authority: authz.AuthorityBoth},
		},
	}
}

type fixture struct {
	repo *memRepo
	proj *stubProjects
	rec  *recorder
	svc  *Service
}

func newFixture(t *testing.T, matrix authz.AuthorityMatrix) *fixture {
	t.Helper()
	repo := newMemRepo()
	proj := &stubProjects{roles: defaultRoles(), matrix: matrix}
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, proj, rec, approvalRecorder{parent: rec}, logger)
	return &fixture{repo: repo, proj: proj, rec: rec, svc: svc}
}

func (f *fixture) seedBaseline(t *testing.T) Baseline {
	t.Helper()
	ms, err := f.svc.CreateMilestone(context.Background(), supplierPMID, "", CreateMilestoneInput{ProjectID: 1, Name: "Phase 1"})
	require.NoError(t, err)
	b, err := f.svc.CreateBaseline(context.Background(), supplierPMID, "", ms.ID)
	require.NoError(t, err)
	return b
}

func TestSignBaselineBothPartiesLocks(t *testing.T) {
	f := newFixture(t, bothMatrix())
	b := f.seedBaseline(t)

	signed, err := f.svc.SignBaseline(context.Background(), supplierPMID, "", SignBaselineInput{
		BaselineID: b.ID, Side: workflow.SideSupplier, AssumedStatus: workflow.BaselineUnlocked,
	})
	require.NoError(t, err)
	require.NotNil(t, signed.SupplierSignedAt)
	require.False(t, signed.Locked)
	require.Equal(t, workflow.SignOffAwaitingCustomer, workflow.DeriveStatus(signed.Entity()))

	final, err := f.svc.SignBaseline(context.Background(), customerPMID, "", SignBaselineInput{
		BaselineID: b.ID, Side: workflow.SideCustomer, AssumedStatus: workflow.BaselineUnlocked,
	})
	require.NoError(t, err)
	require.True(t, final.Locked)
	require.Equal(t, workflow.BaselineLocked, final.Status)
	require.Equal(t, workflow.SignOffSigned, workflow.DeriveStatus(final.Entity()))
}

func TestSignBaselineEitherLocksOnFirstSignature(t *testing.T) {
	matrix := bothMatrix()
	matrix.Rules[authz.EntityBaseline] = authz.ApprovalRule{Required: true, Authority: authz.AuthorityEither}
	f := newFixture(t, matrix)
	b := f.seedBaseline(t)

	final, err := f.svc.SignBaseline(context.Background(), customerPMID, "", SignBaselineInput{
		BaselineID: b.ID, Side: workflow.SideCustomer,
	})
	require.NoError(t, err)
	require.True(t, final.Locked)
}

func TestSignBaselineViewerRejected(t *testing.T) {
	f := newFixture(t, bothMatrix())
	b := f.seedBaseline(t)

	_, err := f.svc.SignBaseline(context.Background(), viewerID, "", SignBaselineInput{
		BaselineID: b.ID, Side: workflow.SideSupplier,
	})
	require.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestSignBaselineWrongSideRejected(t *testing.T) {
	f := newFixture(t, bothMatrix())
	b := f.seedBaseline(t)

	_, err := f.svc.SignBaseline(context.Background(), supplierPMID, "", SignBaselineInput{
		BaselineID: b.ID, Side: workflow.SideCustomer,
	})
	require.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestSignBaselineStaleAssumption(t *testing.T) {
	f := newFixture(t, bothMatrix())
	b := f.seedBaseline(t)

	_, err := f.svc.SignBaseline(context.Background(), supplierPMID, "", SignBaselineInput{
		BaselineID: b.ID, Side: workflow.SideSupplier, AssumedStatus: workflow.BaselineLocked,
	})
	require.ErrorIs(t, err, workflow.ErrStaleState)
}

func TestSignBaselineConcurrentWriterSurfacesStale(t *testing.T) {
	f := newFixture(t, bothMatrix())
	b := f.seedBaseline(t)
	f.repo.failCASOnce = true

	_, err := f.svc.SignBaseline(context.Background(), supplierPMID, "", SignBaselineInput{
		BaselineID: b.ID, Side: workflow.SideSupplier,
	})
	require.ErrorIs(t, err, workflow.ErrStaleState)
}

func TestSignBaselineIdempotentRepeat(t *testing.T) {
	f := newFixture(t, bothMatrix())
	b := f.seedBaseline(t)

	first, err := f.svc.SignBaseline(context.Background(), supplierPMID, "", SignBaselineInput{
		BaselineID: b.ID, Side: workflow.SideSupplier,
	})
	require.NoError(t, err)

	again, err := f.svc.SignBaseline(context.Background(), supplierPMID, "", SignBaselineInput{
		BaselineID: b.ID, Side: workflow.SideSupplier,
	})
	require.NoError(t, err)
	require.Equal(t, first.SupplierSignedAt, again.SupplierSignedAt)
	require.Equal(t, first.SupplierSignedBy, again.SupplierSignedBy)
}

func TestSignBaselineFeatureDisabled(t *testing.T) {
	matrix := bothMatrix()
	matrix.Features = map[authz.Feature]bool{authz.FeatureBaselines: false}
	f := newFixture(t, matrix)

	ms, err := f.svc.CreateMilestone(context.Background(), supplierPMID, "", CreateMilestoneInput{ProjectID: 1, Name: "Phase 1"})
	require.NoError(t, err)
	_, err = f.svc.CreateBaseline(context.Background(), supplierPMID, "", ms.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestResetBaselineRequiresFullAdmin(t *testing.T) {
	f := newFixture(t, bothMatrix())
	b := f.seedBaseline(t)

	_, err := f.svc.ResetBaseline(context.Background(), customerPMID, "", b.ID)
	require.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestResetBaselineClearsLockAndSignatures(t *testing.T) {
	f := newFixture(t, bothMatrix())
	b := f.seedBaseline(t)

	_, err := f.svc.SignBaseline(context.Background(), supplierPMID, "", SignBaselineInput{BaselineID: b.ID, Side: workflow.SideSupplier})
	require.NoError(t, err)
	locked, err := f.svc.SignBaseline(context.Background(), customerPMID, "", SignBaselineInput{BaselineID: b.ID, Side: workflow.SideCustomer})
	require.NoError(t, err)
	require.True(t, locked.Locked)

	reset, err := f.svc.ResetBaseline(context.Background(), adminID, "", b.ID)
	require.NoError(t, err)
	require.False(t, reset.Locked)
	require.Equal(t, workflow.BaselineUnlocked, reset.Status)
	require.Nil(t, reset.SupplierSignedAt)
	require.Nil(t, reset.CustomerSignedAt)
	require.Zero(t, reset.SupplierSignedBy)
	require.Zero(t, reset.CustomerSignedBy)

	var sawReset bool
	for _, log := range f.rec.approvals {
		if log.Action == shared.ApprovalReset {
			sawReset = true
		}
	}
	require.True(t, sawReset, "reset must be recorded in approval history")
}

func TestCertificateStatusFollowsLedger(t *testing.T) {
	f := newFixture(t, bothMatrix())
	ms, err := f.svc.CreateMilestone(context.Background(), supplierPMID, "", CreateMilestoneInput{ProjectID: 1, Name: "Phase 1"})
	require.NoError(t, err)
	cert, err := f.svc.CreateCertificate(context.Background(), supplierPMID, "", ms.ID, "Acceptance")
	require.NoError(t, err)
	require.Equal(t, workflow.CertificateDraft, cert.Status)

	afterSupplier, err := f.svc.SignCertificate(context.Background(), supplierPMID, "", SignCertificateInput{
		CertificateID: cert.ID, Side: workflow.SideSupplier,
	})
	require.NoError(t, err)
	require.Equal(t, workflow.CertificatePendingCustomer, afterSupplier.Status)

	final, err := f.svc.SignCertificate(context.Background(), customerPMID, "", SignCertificateInput{
		CertificateID: cert.ID, Side: workflow.SideCustomer,
	})
	require.NoError(t, err)
	require.Equal(t, workflow.CertificateSigned, final.Status)
}

func TestCertificateSignOrderCommutes(t *testing.T) {
	f := newFixture(t, bothMatrix())
	ms, err := f.svc.CreateMilestone(context.Background(), supplierPMID, "", CreateMilestoneInput{ProjectID: 1, Name: "Phase 1"})
	require.NoError(t, err)
	cert, err := f.svc.CreateCertificate(context.Background(), supplierPMID, "", ms.ID, "Acceptance")
	require.NoError(t, err)

	afterCustomer, err := f.svc.SignCertificate(context.Background(), customerPMID, "", SignCertificateInput{
		CertificateID: cert.ID, Side: workflow.SideCustomer,
	})
	require.NoError(t, err)
	require.Equal(t, workflow.CertificatePendingSupplier, afterCustomer.Status)

	final, err := f.svc.SignCertificate(context.Background(), supplierPMID, "", SignCertificateInput{
		CertificateID: cert.ID, Side: workflow.SideSupplier,
	})
	require.NoError(t, err)
	require.Equal(t, workflow.CertificateSigned, final.Status)
}

func TestCreateMilestoneRequiresElevatedRole(t *testing.T) {
	f := newFixture(t, bothMatrix())

	_, err := f.svc.CreateMilestone(context.Background(), viewerID, "", CreateMilestoneInput{ProjectID: 1, Name: "Phase 1"})
	require.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestBaselineViewCapabilities(t *testing.T) {
	f := newFixture(t, bothMatrix())
	b := f.seedBaseline(t)

	view, err := f.svc.BaselineViewFor(context.Background(), supplierPMID, "", b.ID)
	require.NoError(t, err)
	require.True(t, view.Capabilities.CanSignAsSupplier)
	require.False(t, view.Capabilities.CanSignAsCustomer)
	require.Equal(t, workflow.SignOffNotSigned, view.SignOffStatus)
	require.True(t, view.ApprovalStatus.NeedsSupplier)
	require.True(t, view.ApprovalStatus.NeedsCustomer)
}
