// Package authz contains the pure authorization core: role resolution,
// the per-project authority matrix, and the approval evaluator. All
// functions operate on immutable snapshots supplied by the caller and
// never touch storage.
package authz

// Role identifies a project-scoped authorization role.
type Role string

const (
	// RoleSupplierPM is the supplier-side project manager and the
	// full-authority role admins resolve to.
	RoleSupplierPM Role = "supplier_pm"
	// RoleSupplierMember is a supplier-side contributor.
	RoleSupplierMember Role = "supplier_member"
	// RoleCustomerPM is the customer-side project manager.
	RoleCustomerPM Role = "customer_pm"
	// RoleCustomerMember is a customer-side contributor.
	RoleCustomerMember Role = "customer_member"
	// RoleViewer is the fail-closed fallback with read-only access.
	RoleViewer Role = "viewer"
)

// FullAuthorityRole is the project role that carries full administrative
// capability without being a system or organisation admin.
const FullAuthorityRole = RoleSupplierPM

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSupplierPM, RoleSupplierMember, RoleCustomerPM, RoleCustomerMember, RoleViewer:
		return true
	}
	return false
}

// SupplierSide reports whether the role belongs to the supplier party.
// The side sets are fixed and disjoint.
func SupplierSide(r Role) bool {
	return r == RoleSupplierPM || r == RoleSupplierMember
}

// CustomerSide reports whether the role belongs to the customer party.
func CustomerSide(r Role) bool {
	return r == RoleCustomerPM || r == RoleCustomerMember
}

// Elevated reports whether the role manages a party. Used by the
// owner-or-elevated edit rule.
func Elevated(r Role) bool {
	return r == RoleSupplierPM || r == RoleCustomerPM
}

// impersonableRoles is the allow-list of roles an admin may preview.
// Impersonation only previews a lesser identity, never grants one.
var impersonableRoles = map[Role]struct{}{
	RoleSupplierPM:     {},
	RoleSupplierMember: {},
	RoleCustomerPM:     {},
	RoleCustomerMember: {},
	RoleViewer:         {},
}

// Impersonable reports whether r may be assumed via "view as".
func Impersonable(r Role) bool {
	_, ok := impersonableRoles[r]
	return ok
}
