package authz

// EntityType enumerates the workflow entity kinds a project tracks.
type EntityType string

const (
	EntityBaseline    EntityType = "baseline"
	EntityVariation   EntityType = "variation"
	EntityCertificate EntityType = "certificate"
	EntityDeliverable EntityType = "deliverable"
	EntityTimesheet   EntityType = "timesheet"
	EntityExpense     EntityType = "expense"
)

// EntityTypes lists every configurable entity type.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityBaseline,
		EntityVariation,
		EntityCertificate,
		EntityDeliverable,
		EntityTimesheet,
		EntityExpense,
	}
}

// AuthorityMode decides which party must approve an entity type.
type AuthorityMode string

const (
	AuthorityBoth         AuthorityMode = "BOTH"
	AuthoritySupplierOnly AuthorityMode = "SUPPLIER_ONLY"
	AuthorityCustomerOnly AuthorityMode = "CUSTOMER_ONLY"
	AuthorityEither       AuthorityMode = "EITHER"
	AuthorityNone         AuthorityMode = "NONE"
	AuthorityConditional  AuthorityMode = "CONDITIONAL"
)

// Valid reports whether m is a known authority mode.
func (m AuthorityMode) Valid() bool {
	switch m {
	case AuthorityBoth, AuthoritySupplierOnly, AuthorityCustomerOnly,
		AuthorityEither, AuthorityNone, AuthorityConditional:
		return true
	}
	return false
}

// ApprovalRule configures approval for one entity type.
type ApprovalRule struct {
	Required      bool
	Authority     AuthorityMode
	DualSignature bool
}

// Feature names a per-project feature toggle.
type Feature string

const (
	FeatureBaselines    Feature = "baselines"
	FeatureVariations   Feature = "variations"
	FeatureCertificates Feature = "certificates"
	FeatureDeliverables Feature = "deliverables"
	FeatureTimesheets   Feature = "timesheets"
	FeatureExpenses     Feature = "expenses"
)

// AuthorityMatrix is a project's workflow configuration: approval rules
// per entity type plus feature toggles. It is read-only during an
// evaluation; settings updates only affect evaluations that load the
// matrix afterwards.
type AuthorityMatrix struct {
	Rules    map[EntityType]ApprovalRule
	Features map[Feature]bool
}

// Authority returns the approval authority for the entity type. A
// configured rule with an unset mode, or a missing rule, defaults to
// BOTH: requiring both parties is the safest reading of an absent
// configuration.
func (m AuthorityMatrix) Authority(entityType EntityType) AuthorityMode {
	rule, ok := m.Rules[entityType]
	if !ok || !rule.Authority.Valid() {
		return AuthorityBoth
	}
	return rule.Authority
}

// FeatureEnabled reports whether a feature is on. Absent keys default
// to enabled so projects predating a toggle keep behaving as before.
func (m AuthorityMatrix) FeatureEnabled(feature Feature) bool {
	enabled, ok := m.Features[feature]
	if !ok {
		return true
	}
	return enabled
}

// RequiresDualSignature reports whether both parties must sign.
func (m AuthorityMatrix) RequiresDualSignature(entityType EntityType) bool {
	return m.Authority(entityType) == AuthorityBoth
}
