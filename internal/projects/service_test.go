package projects

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pm/meridian-pm/internal/authz"
	"github.com/meridian-pm/meridian-pm/internal/shared"
)

type memRepo struct {
	nextID   int64
	projects map[int64]Project
	members  map[int64][]Member
	settings map[int64][]Setting
	features map[int64][]FeatureToggle
	admins   map[int64]bool
	orgAdmin map[int64][]int64
	counts   map[authz.EntityType]int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		nextID:   1,
		projects: make(map[int64]Project),
		members:  make(map[int64][]Member),
		settings: make(map[int64][]Setting),
		features: make(map[int64][]FeatureToggle),
		admins:   make(map[int64]bool),
		orgAdmin: make(map[int64][]int64),
		counts:   make(map[authz.EntityType]int64),
	}
}

func (m *memRepo) CreateProject(ctx context.Context, p Project) (Project, error) {
	p.ID = m.nextID
	m.nextID++
	m.projects[p.ID] = p
	return p, nil
}

func (m *memRepo) GetProject(ctx context.Context, id int64) (Project, error) {
	p, ok := m.projects[id]
	if !ok {
		return Project{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memRepo) ListProjectsForUser(ctx context.Context, userID int64) ([]Project, error) {
	var out []Project
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

func (m *memRepo) AddMember(ctx context.Context, mem Member) error {
	for _, existing := range m.members[mem.ProjectID] {
		if existing.UserID == mem.UserID {
			return shared.ErrDuplicate
		}
	}
	m.members[mem.ProjectID] = append(m.members[mem.ProjectID], mem)
	return nil
}

func (m *memRepo) RemoveMember(ctx context.Context, projectID, userID int64) error {
	list := m.members[projectID]
	for i, mem := range list {
		if mem.UserID == userID {
			m.members[projectID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *memRepo) ListMembers(ctx context.Context, projectID int64) ([]Member, error) {
	return m.members[projectID], nil
}

func (m *memRepo) MemberRole(ctx context.Context, projectID, userID int64) (authz.Role, error) {
	for _, mem := range m.members[projectID] {
		if mem.UserID == userID {
			return mem.Role, nil
		}
	}
	return "", nil
}

func (m *memRepo) UpsertSetting(ctx context.Context, s Setting) error {
	list := m.settings[s.ProjectID]
	for i, existing := range list {
		if existing.EntityType == s.EntityType {
			list[i] = s
			return nil
		}
	}
	m.settings[s.ProjectID] = append(list, s)
	return nil
}

func (m *memRepo) ListSettings(ctx context.Context, projectID int64) ([]Setting, error) {
	return m.settings[projectID], nil
}

func (m *memRepo) UpsertFeature(ctx context.Context, f FeatureToggle) error {
	list := m.features[f.ProjectID]
	for i, existing := range list {
		if existing.Feature == f.Feature {
			list[i] = f
			return nil
		}
	}
	m.features[f.ProjectID] = append(list, f)
	return nil
}

func (m *memRepo) ListFeatures(ctx context.Context, projectID int64) ([]FeatureToggle, error) {
	return m.features[projectID], nil
}

func (m *memRepo) IsSystemAdmin(ctx context.Context, userID int64) (bool, error) {
	return m.admins[userID], nil
}

func (m *memRepo) OrgAdminOrgs(ctx context.Context, userID int64) ([]int64, error) {
	return m.orgAdmin[userID], nil
}

func (m *memRepo) CountEntities(ctx context.Context, projectID int64, entityType authz.EntityType) (int64, error) {
	return m.counts[entityType], nil
}

func (m *memRepo) CountMembers(ctx context.Context, projectID int64) (int64, error) {
	return int64(len(m.members[projectID])), nil
}

type noopAudit struct{ records []shared.AuditLog }

func (a *noopAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.records = append(a.records, log)
	return nil
}

func newTestService(repo *memRepo) (*Service, *noopAudit) {
	audit := &noopAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, audit, logger), audit
}

func TestCreateProjectAddsCreatorAsFullAuthority(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	p, err := svc.CreateProject(context.Background(), CreateProjectInput{
		Code: "MPM-1", Name: "Pilot", SupplierOrgID: 10, CustomerOrgID: 20, CreatedBy: 7,
	})
	require.NoError(t, err)
	require.NotZero(t, p.ID)

	role, err := repo.MemberRole(context.Background(), p.ID, 7)
	require.NoError(t, err)
	require.Equal(t, authz.FullAuthorityRole, role)
}

func TestCreateProjectValidation(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	_, err := svc.CreateProject(context.Background(), CreateProjectInput{Name: "no code"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAddMemberRejectsUnknownRole(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	err := svc.AddMember(context.Background(), 1, 2, authz.Role("superuser"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAddMemberDuplicate(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	require.NoError(t, svc.AddMember(context.Background(), 1, 2, authz.RoleSupplierMember))
	err := svc.AddMember(context.Background(), 1, 2, authz.RoleSupplierMember)
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestMatrixAppliesStoredRowsAndDefaults(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	require.NoError(t, repo.UpsertSetting(context.Background(), Setting{
		ProjectID: 1, EntityType: authz.EntityDeliverable,
		Required: true, Authority: authz.AuthorityCustomerOnly,
	}))
	require.NoError(t, repo.UpsertFeature(context.Background(), FeatureToggle{
		ProjectID: 1, Feature: authz.FeatureExpenses, Enabled: false,
	}))

	matrix, err := svc.Matrix(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, authz.AuthorityCustomerOnly, matrix.Authority(authz.EntityDeliverable))
	// Unconfigured types fall back to the safest mode.
	require.Equal(t, authz.AuthorityBoth, matrix.Authority(authz.EntityBaseline))
	require.False(t, matrix.FeatureEnabled(authz.FeatureExpenses))
	// Absent toggles default to enabled.
	require.True(t, matrix.FeatureEnabled(authz.FeatureBaselines))
}

func TestUpdateSettingValidatesAndAudits(t *testing.T) {
	repo := newMemRepo()
	svc, audit := newTestService(repo)

	err := svc.UpdateSetting(context.Background(), 1, 7, SettingInput{
		EntityType: authz.EntityExpense, Authority: authz.AuthorityConditional,
	})
	require.NoError(t, err)
	require.Len(t, audit.records, 1)
	require.Equal(t, "settings.update", audit.records[0].Action)

	err = svc.UpdateSetting(context.Background(), 1, 7, SettingInput{
		EntityType: authz.EntityExpense, Authority: authz.AuthorityMode("SOMETIMES"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	err = svc.UpdateSetting(context.Background(), 1, 7, SettingInput{
		EntityType: authz.EntityType("invoice"), Authority: authz.AuthorityBoth,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestActorBuildsIdentitySnapshot(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	repo.orgAdmin[7] = []int64{10}
	require.NoError(t, repo.AddMember(context.Background(), Member{ProjectID: 1, UserID: 7, Role: authz.RoleCustomerMember}))

	actor, err := svc.Actor(context.Background(), 7, 1, authz.RoleViewer)
	require.NoError(t, err)
	require.Equal(t, int64(7), actor.UserID)
	require.False(t, actor.IsSystemAdmin)
	require.True(t, actor.IsOrgAdmin(authz.OrgID(10)))
	require.Equal(t, authz.RoleCustomerMember, actor.ProjectRole)
	require.Equal(t, authz.RoleViewer, actor.ImpersonatedRole)
}

func TestResolveOrgAdminGetsFullAuthority(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	p, err := svc.CreateProject(context.Background(), CreateProjectInput{
		Code: "MPM-2", Name: "Rollout", SupplierOrgID: 10, CustomerOrgID: 20, CreatedBy: 1,
	})
	require.NoError(t, err)
	repo.orgAdmin[9] = []int64{10}

	_, resolved, err := svc.Resolve(context.Background(), 9, p.ID, "")
	require.NoError(t, err)
	require.Equal(t, authz.FullAuthorityRole, resolved.ActualRole)
	require.True(t, resolved.HasFullAdminCapabilities)
	require.False(t, resolved.IsImpersonating)
}

func TestOverviewFansOutCounts(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	p, err := svc.CreateProject(context.Background(), CreateProjectInput{
		Code: "MPM-3", Name: "Counts", SupplierOrgID: 10, CustomerOrgID: 20, CreatedBy: 1,
	})
	require.NoError(t, err)
	repo.counts[authz.EntityDeliverable] = 4
	repo.counts[authz.EntityTimesheet] = 2

	overview, err := svc.Overview(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), overview.EntityCounts[authz.EntityDeliverable])
	require.Equal(t, int64(2), overview.EntityCounts[authz.EntityTimesheet])
	require.Equal(t, int64(0), overview.EntityCounts[authz.EntityBaseline])
	require.Equal(t, int64(1), overview.MemberCount)
}

func TestOverviewUnknownProject(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	_, err := svc.Overview(context.Background(), 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
