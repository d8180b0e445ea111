package authz

// ApprovalContext carries entity facts that steer context-dependent
// authority. Today that is only the expense chargeable flag.
type ApprovalContext struct {
	IsChargeable bool
}

// CanApprove reports whether a role holds approval authority for the
// entity type under the project's matrix. The function is pure and
// total: every mode/role/context combination yields a boolean.
//
// Mode semantics:
//   - NONE: no approval gate; any role passes (edit rights are the
//     facade's concern, not the evaluator's).
//   - BOTH: each side signs its own half, so any party-side role
//     passes here; completeness is judged by the signature ledger.
//   - SUPPLIER_ONLY / CUSTOMER_ONLY: only the named side.
//   - EITHER: either side alone completes the entity.
//   - CONDITIONAL: for expenses, chargeable expenses are approved by
//     the customer and non-chargeable ones by the supplier. For any
//     other entity type CONDITIONAL behaves as EITHER; see the settings
//     loader, which warns when that combination is configured.
func CanApprove(matrix AuthorityMatrix, entityType EntityType, role Role, ctx ApprovalContext) bool {
	switch matrix.Authority(entityType) {
	case AuthorityNone:
		return true
	case AuthorityBoth:
		return SupplierSide(role) || CustomerSide(role)
	case AuthoritySupplierOnly:
		return SupplierSide(role)
	case AuthorityCustomerOnly:
		return CustomerSide(role)
	case AuthorityEither:
		return SupplierSide(role) || CustomerSide(role)
	case AuthorityConditional:
		if entityType == EntityExpense {
			if ctx.IsChargeable {
				return CustomerSide(role)
			}
			return SupplierSide(role)
		}
		return SupplierSide(role) || CustomerSide(role)
	}
	// Unknown mode: deny. Authority() normalises unset modes to BOTH,
	// so this branch only fires on corrupted configuration.
	return false
}
