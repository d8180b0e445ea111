package authz

// OrgID identifies an organisation.
type OrgID int64

// Actor is the per-request identity snapshot the resolver works on.
// It is built by the caller (see projects.ActorLoader) and threaded as
// a value; there is no ambient session state inside the core.
type Actor struct {
	UserID        int64
	IsSystemAdmin bool
	OrgAdminOf    map[OrgID]struct{}
	// ProjectRole is the actor's recorded membership role on the
	// project under evaluation, empty when not a member.
	ProjectRole Role
	// ImpersonatedRole is the session-scoped "view as" role. It is
	// honoured only when the actor's actual permissions already carry
	// full administrative capability.
	ImpersonatedRole Role
}

// IsOrgAdmin reports whether the actor administers the organisation.
func (a Actor) IsOrgAdmin(org OrgID) bool {
	_, ok := a.OrgAdminOf[org]
	return ok
}

// ProjectRef carries the project fields the resolver needs.
type ProjectRef struct {
	ID    int64
	OrgID OrgID
}

// EffectiveRole is the resolver result. ActualRole is the true identity
// used for display; Effective is the role authorization decisions use.
// The two are distinct on purpose and must never be conflated.
type EffectiveRole struct {
	ActualRole               Role
	Effective                Role
	HasFullAdminCapabilities bool
	IsImpersonating          bool
}

// ResolveEffectiveRole computes the actor's roles for a project.
//
// Identity priority, highest first: system admin and organisation admin
// resolve to the full-authority project role (the role name is kept,
// never rewritten to "admin"); then the recorded project role; then
// viewer. Resolution always succeeds — an actor with no membership at
// all is a viewer, so authorization defaults closed instead of erroring.
func ResolveEffectiveRole(actor Actor, project ProjectRef) EffectiveRole {
	actual := RoleViewer
	switch {
	case actor.IsSystemAdmin:
		actual = FullAuthorityRole
	case actor.IsOrgAdmin(project.OrgID):
		actual = FullAuthorityRole
	case actor.ProjectRole.Valid():
		actual = actor.ProjectRole
	}

	fullAdmin := actor.IsSystemAdmin ||
		actor.IsOrgAdmin(project.OrgID) ||
		actor.ProjectRole == FullAuthorityRole

	effective := actual
	impersonating := false
	if fullAdmin && actor.ImpersonatedRole != "" && Impersonable(actor.ImpersonatedRole) {
		effective = actor.ImpersonatedRole
		impersonating = actor.ImpersonatedRole != actual
	}

	return EffectiveRole{
		ActualRole:               actual,
		Effective:                effective,
		HasFullAdminCapabilities: fullAdmin,
		IsImpersonating:          impersonating,
	}
}
