package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthorityDefaultsToBoth(t *testing.T) {
	var empty AuthorityMatrix
	require.Equal(t, AuthorityBoth, empty.Authority(EntityBaseline))

	// A configured rule with an unset mode also defaults to BOTH.
	m := AuthorityMatrix{Rules: map[EntityType]ApprovalRule{
		EntityDeliverable: {Required: true},
	}}
	require.Equal(t, AuthorityBoth, m.Authority(EntityDeliverable))
}

func TestAuthorityReturnsConfiguredMode(t *testing.T) {
	m := AuthorityMatrix{Rules: map[EntityType]ApprovalRule{
		EntityExpense: {Authority: AuthorityConditional},
	}}
	require.Equal(t, AuthorityConditional, m.Authority(EntityExpense))
}

func TestFeatureEnabledDefaultsTrue(t *testing.T) {
	var empty AuthorityMatrix
	// A project predating a toggle behaves as if the feature were
	// always on.
	require.True(t, empty.FeatureEnabled(FeatureBaselines))

	m := AuthorityMatrix{Features: map[Feature]bool{
		FeatureExpenses: false,
	}}
	require.False(t, m.FeatureEnabled(FeatureExpenses))
	require.True(t, m.FeatureEnabled(FeatureTimesheets))
}

func TestRequiresDualSignature(t *testing.T) {
	m := AuthorityMatrix{Rules: map[EntityType]ApprovalRule{
		EntityBaseline:    {Authority: AuthorityBoth},
		EntityTimesheet:   {Authority: AuthoritySupplierOnly},
		EntityCertificate: {Authority: AuthorityEither},
	}}
	require.True(t, m.RequiresDualSignature(EntityBaseline))
	require.False(t, m.RequiresDualSignature(EntityTimesheet))
	require.False(t, m.RequiresDualSignature(EntityCertificate))
	// Unset falls back to BOTH and therefore dual signature.
	require.True(t, m.RequiresDualSignature(EntityVariation))
}
