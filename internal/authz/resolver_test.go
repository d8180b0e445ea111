package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveSystemAdmin(t *testing.T) {
	actor := Actor{UserID: 1, IsSystemAdmin: true}
	project := ProjectRef{ID: 10, OrgID: 99}

	eff := ResolveEffectiveRole(actor, project)
	require.True(t, eff.HasFullAdminCapabilities)
	require.Equal(t, RoleSupplierPM, eff.ActualRole)
	require.Equal(t, RoleSupplierPM, eff.Effective)
	require.False(t, eff.IsImpersonating)
}

func TestSystemAdminFullCapabilitiesRegardlessOfProject(t *testing.T) {
	actor := Actor{UserID: 1, IsSystemAdmin: true}
	for _, org := range []OrgID{1, 2, 500} {
		eff := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: org})
		require.True(t, eff.HasFullAdminCapabilities, "org %d", org)
	}
}

func TestResolveOrgAdmin(t *testing.T) {
	actor := Actor{UserID: 2, OrgAdminOf: map[OrgID]struct{}{7: {}}}

	eff := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: 7})
	require.True(t, eff.HasFullAdminCapabilities)
	require.Equal(t, RoleSupplierPM, eff.ActualRole)

	// Admin of a different organisation carries nothing here.
	other := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: 8})
	require.False(t, other.HasFullAdminCapabilities)
	require.Equal(t, RoleViewer, other.ActualRole)
}

func TestResolveProjectRole(t *testing.T) {
	actor := Actor{UserID: 3, ProjectRole: RoleCustomerMember}
	eff := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: 1})
	require.Equal(t, RoleCustomerMember, eff.ActualRole)
	require.Equal(t, RoleCustomerMember, eff.Effective)
	require.False(t, eff.HasFullAdminCapabilities)
}

func TestResolveFullAuthorityProjectRole(t *testing.T) {
	actor := Actor{UserID: 3, ProjectRole: RoleSupplierPM}
	eff := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: 1})
	require.True(t, eff.HasFullAdminCapabilities)
}

func TestResolveFallbackIsViewerNotError(t *testing.T) {
	eff := ResolveEffectiveRole(Actor{UserID: 4}, ProjectRef{ID: 1, OrgID: 1})
	require.Equal(t, RoleViewer, eff.ActualRole)
	require.Equal(t, RoleViewer, eff.Effective)
	require.False(t, eff.HasFullAdminCapabilities)
}

func TestImpersonationRequiresFullAdmin(t *testing.T) {
	actor := Actor{
		UserID:           5,
		ProjectRole:      RoleSupplierMember,
		ImpersonatedRole: RoleCustomerPM,
	}
	eff := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: 1})
	// Without full admin capability the impersonated role is ignored.
	require.Equal(t, RoleSupplierMember, eff.Effective)
	require.False(t, eff.IsImpersonating)
}

func TestImpersonationPreviewsLesserRole(t *testing.T) {
	actor := Actor{
		UserID:           6,
		IsSystemAdmin:    true,
		ImpersonatedRole: RoleCustomerMember,
	}
	eff := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: 1})
	require.Equal(t, RoleSupplierPM, eff.ActualRole, "actual role keeps the identity")
	require.Equal(t, RoleCustomerMember, eff.Effective)
	require.True(t, eff.IsImpersonating)
	require.True(t, eff.HasFullAdminCapabilities)
}

func TestImpersonationSameRoleIsNotImpersonating(t *testing.T) {
	actor := Actor{
		UserID:           7,
		IsSystemAdmin:    true,
		ImpersonatedRole: RoleSupplierPM,
	}
	eff := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: 1})
	require.Equal(t, RoleSupplierPM, eff.Effective)
	require.False(t, eff.IsImpersonating)
}

func TestImpersonationRejectsUnknownRole(t *testing.T) {
	actor := Actor{
		UserID:           8,
		IsSystemAdmin:    true,
		ImpersonatedRole: Role("superuser"),
	}
	eff := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: 1})
	require.Equal(t, RoleSupplierPM, eff.Effective)
	require.False(t, eff.IsImpersonating)
}

func TestInvalidProjectRoleFallsBackToViewer(t *testing.T) {
	actor := Actor{UserID: 9, ProjectRole: Role("bogus")}
	eff := ResolveEffectiveRole(actor, ProjectRef{ID: 1, OrgID: 1})
	require.Equal(t, RoleViewer, eff.ActualRole)
}
