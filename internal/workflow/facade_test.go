package workflow

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pm/meridian-pm/internal/authz"
)

func TestLockedEntityHasNoCapabilities(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: BaselineLocked, Locked: true}
	caps := CapabilitiesFor(e, authz.EntityBaseline, supplierPM(), 1, bothMatrix(authz.EntityBaseline), authz.ApprovalContext{})
	require.Equal(t, Capabilities{}, caps)
}

func TestOwnerCanEditAndSubmitDraftTimesheet(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: SheetDraft, OwnerID: 42}
	owner := authz.EffectiveRole{ActualRole: authz.RoleCustomerMember, Effective: authz.RoleCustomerMember}

	caps := CapabilitiesFor(e, authz.EntityTimesheet, owner, 42, bothMatrix(authz.EntityTimesheet), authz.ApprovalContext{})
	require.True(t, caps.CanEdit)
	require.True(t, caps.CanDelete)
	require.True(t, caps.CanSubmit)
	require.False(t, caps.CanReview)
}

func TestStrangerCannotTouchDraftTimesheet(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: SheetDraft, OwnerID: 42}
	stranger := authz.EffectiveRole{ActualRole: authz.RoleCustomerMember, Effective: authz.RoleCustomerMember}

	caps := CapabilitiesFor(e, authz.EntityTimesheet, stranger, 7, bothMatrix(authz.EntityTimesheet), authz.ApprovalContext{})
	require.False(t, caps.CanEdit)
	require.False(t, caps.CanDelete)
	require.False(t, caps.CanSubmit)
}

func TestReviewCapabilityOnSubmittedDeliverable(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: DeliverableSubmitted, OwnerID: 42}
	matrix := bothMatrix(authz.EntityDeliverable)

	require.True(t, CapabilitiesFor(e, authz.EntityDeliverable, customerPM(), 7, matrix, authz.ApprovalContext{}).CanReview)
	require.False(t, CapabilitiesFor(e, authz.EntityDeliverable, supplierMember(), 42, matrix, authz.ApprovalContext{}).CanReview)
}

func TestSignCapabilitiesFollowSidesAndLedger(t *testing.T) {
	matrix := bothMatrix(authz.EntityDeliverable)
	e := Entity{ID: uuid.New(), Status: DeliverableReviewComplete, OwnerID: 42}

	supplierCaps := CapabilitiesFor(e, authz.EntityDeliverable, supplierMember(), 42, matrix, authz.ApprovalContext{})
	require.True(t, supplierCaps.CanSignAsSupplier)
	require.False(t, supplierCaps.CanSignAsCustomer)

	customerCaps := CapabilitiesFor(e, authz.EntityDeliverable, customerPM(), 7, matrix, authz.ApprovalContext{})
	require.True(t, customerCaps.CanSignAsCustomer)
	require.False(t, customerCaps.CanSignAsSupplier)

	// Once the supplier signed, that side's capability disappears.
	now := time.Now()
	e.SupplierSignedAt = &now
	signedCaps := CapabilitiesFor(e, authz.EntityDeliverable, supplierMember(), 42, matrix, authz.ApprovalContext{})
	require.False(t, signedCaps.CanSignAsSupplier)
}

func TestConditionalExpenseSigning(t *testing.T) {
	matrix := authz.AuthorityMatrix{Rules: map[authz.EntityType]authz.ApprovalRule{
		authz.EntityExpense: {Required: true, Authority: authz.AuthorityConditional},
	}}
	e := Entity{ID: uuid.New(), Status: SheetSubmitted, OwnerID: 42}

	chargeable := authz.ApprovalContext{IsChargeable: true}
	require.True(t, CapabilitiesFor(e, authz.EntityExpense, customerPM(), 7, matrix, chargeable).CanSignAsCustomer)
	require.False(t, CapabilitiesFor(e, authz.EntityExpense, supplierMember(), 42, matrix, chargeable).CanSignAsSupplier)

	internal := authz.ApprovalContext{IsChargeable: false}
	require.True(t, CapabilitiesFor(e, authz.EntityExpense, supplierMember(), 42, matrix, internal).CanSignAsSupplier)
	require.False(t, CapabilitiesFor(e, authz.EntityExpense, customerPM(), 7, matrix, internal).CanSignAsCustomer)
}

func TestInitiateSignOffOnlyFromReviewComplete(t *testing.T) {
	matrix := bothMatrix(authz.EntityDeliverable)

	ready := Entity{ID: uuid.New(), Status: DeliverableReviewComplete, OwnerID: 42}
	require.True(t, CapabilitiesFor(ready, authz.EntityDeliverable, supplierMember(), 42, matrix, authz.ApprovalContext{}).CanInitiateSignOff)

	inProgress := Entity{ID: uuid.New(), Status: DeliverableInProgress, OwnerID: 42}
	require.False(t, CapabilitiesFor(inProgress, authz.EntityDeliverable, supplierMember(), 42, matrix, authz.ApprovalContext{}).CanInitiateSignOff)
}

func TestDeleteOnlyBeforeSignatures(t *testing.T) {
	matrix := bothMatrix(authz.EntityBaseline)
	now := time.Now()

	fresh := Entity{ID: uuid.New(), Status: BaselineUnlocked, OwnerID: 1}
	require.True(t, CapabilitiesFor(fresh, authz.EntityBaseline, supplierPM(), 1, matrix, authz.ApprovalContext{}).CanDelete)

	partiallySigned := Entity{ID: uuid.New(), Status: BaselineUnlocked, OwnerID: 1, SupplierSignedAt: &now}
	require.False(t, CapabilitiesFor(partiallySigned, authz.EntityBaseline, supplierPM(), 1, matrix, authz.ApprovalContext{}).CanDelete)
}

func TestFacadeNeverMutates(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: DeliverableReviewComplete, OwnerID: 42}
	before := e
	_ = CapabilitiesFor(e, authz.EntityDeliverable, supplierPM(), 42, bothMatrix(authz.EntityDeliverable), authz.ApprovalContext{})
	require.Equal(t, before, e)
}
