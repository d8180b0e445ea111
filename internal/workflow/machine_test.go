package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pm/meridian-pm/internal/authz"
)

func supplierPM() authz.EffectiveRole {
	return authz.EffectiveRole{
		ActualRole:               authz.RoleSupplierPM,
		Effective:                authz.RoleSupplierPM,
		HasFullAdminCapabilities: true,
	}
}

func customerPM() authz.EffectiveRole {
	return authz.EffectiveRole{ActualRole: authz.RoleCustomerPM, Effective: authz.RoleCustomerPM}
}

func supplierMember() authz.EffectiveRole {
	return authz.EffectiveRole{ActualRole: authz.RoleSupplierMember, Effective: authz.RoleSupplierMember}
}

func viewer() authz.EffectiveRole {
	return authz.EffectiveRole{ActualRole: authz.RoleViewer, Effective: authz.RoleViewer}
}

func bothMatrix(entityType authz.EntityType) authz.AuthorityMatrix {
	return authz.AuthorityMatrix{Rules: map[authz.EntityType]authz.ApprovalRule{
		entityType: {Required: true, Authority: authz.AuthorityBoth},
	}}
}

func deliverable(status Status, ownerID int64) Entity {
	return Entity{ID: uuid.New(), Status: status, OwnerID: ownerID}
}

func TestDeliverableHappyPath(t *testing.T) {
	matrix := bothMatrix(authz.EntityDeliverable)
	e := deliverable(DeliverableNotStarted, 42)

	steps := []struct {
		to    Status
		actor authz.EffectiveRole
		id    int64
	}{
		{DeliverableInProgress, supplierMember(), 42},
		{DeliverableSubmitted, supplierMember(), 42},
		{DeliverableReviewComplete, customerPM(), 7},
	}
	for _, step := range steps {
		var err error
		e, err = Transition(e, TransitionRequest{
			EntityType: authz.EntityDeliverable,
			From:       e.Status,
			To:         step.to,
			Actor:      step.actor,
			ActorID:    step.id,
			Matrix:     matrix,
		})
		require.NoError(t, err)
		require.Equal(t, step.to, e.Status)
	}
}

func TestDeliverableReviewRejectAndResubmit(t *testing.T) {
	matrix := bothMatrix(authz.EntityDeliverable)
	e := deliverable(DeliverableSubmitted, 42)

	e, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityDeliverable,
		From:       DeliverableSubmitted,
		To:         DeliverableReturned,
		Actor:      customerPM(),
		ActorID:    7,
		Matrix:     matrix,
	})
	require.NoError(t, err)
	require.Equal(t, DeliverableReturned, e.Status)

	// Owner resubmits.
	e, err = Transition(e, TransitionRequest{
		EntityType: authz.EntityDeliverable,
		From:       DeliverableReturned,
		To:         DeliverableSubmitted,
		Actor:      authz.EffectiveRole{ActualRole: authz.RoleCustomerMember, Effective: authz.RoleCustomerMember},
		ActorID:    42,
		Matrix:     matrix,
	})
	require.NoError(t, err)
	require.Equal(t, DeliverableSubmitted, e.Status)
}

func TestReviewFromNotStartedIsInvalidTransition(t *testing.T) {
	e := deliverable(DeliverableNotStarted, 42)
	_, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityDeliverable,
		From:       DeliverableNotStarted,
		To:         DeliverableReviewComplete,
		Actor:      customerPM(),
		ActorID:    7,
		Matrix:     bothMatrix(authz.EntityDeliverable),
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReviewRequiresCustomerSide(t *testing.T) {
	e := deliverable(DeliverableSubmitted, 42)
	_, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityDeliverable,
		From:       DeliverableSubmitted,
		To:         DeliverableReviewComplete,
		Actor:      supplierMember(),
		ActorID:    42,
		Matrix:     bothMatrix(authz.EntityDeliverable),
	})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestOwnerOnlyResubmitRejectsStrangers(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: SheetRejected, OwnerID: 42}
	_, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityTimesheet,
		From:       SheetRejected,
		To:         SheetDraft,
		Actor:      customerPM(),
		ActorID:    7,
		Matrix:     bothMatrix(authz.EntityTimesheet),
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	// The owner may resubmit.
	out, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityTimesheet,
		From:       SheetRejected,
		To:         SheetDraft,
		Actor:      viewer(),
		ActorID:    42,
		Matrix:     bothMatrix(authz.EntityTimesheet),
	})
	require.NoError(t, err)
	require.Equal(t, SheetDraft, out.Status)
}

func TestStaleFromStatusIsRejected(t *testing.T) {
	e := deliverable(DeliverableReturned, 42)
	_, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityDeliverable,
		From:       DeliverableSubmitted, // caller's snapshot is outdated
		To:         DeliverableReviewComplete,
		Actor:      customerPM(),
		ActorID:    7,
		Matrix:     bothMatrix(authz.EntityDeliverable),
	})
	require.ErrorIs(t, err, ErrStaleState)
}

func TestLockedEntityRejectsTransitions(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: BaselineLocked, Locked: true}
	_, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityBaseline,
		From:       BaselineLocked,
		To:         BaselineLocked,
		Actor:      supplierPM(),
		ActorID:    1,
		Matrix:     bothMatrix(authz.EntityBaseline),
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBaselineUnlockIsAdminOnly(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: BaselineLocked, Locked: true}

	_, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityBaseline,
		From:       BaselineLocked,
		To:         BaselineUnlocked,
		Actor:      customerPM(),
		ActorID:    7,
		Matrix:     bothMatrix(authz.EntityBaseline),
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	out, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityBaseline,
		From:       BaselineLocked,
		To:         BaselineUnlocked,
		Actor:      supplierPM(),
		ActorID:    1,
		Matrix:     bothMatrix(authz.EntityBaseline),
	})
	require.NoError(t, err)
	require.Equal(t, BaselineUnlocked, out.Status)
	require.False(t, out.Locked)
}

func TestBaselineLockSetsLockedFlag(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: BaselineUnlocked}
	out, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityBaseline,
		From:       BaselineUnlocked,
		To:         BaselineLocked,
		Actor:      supplierPM(),
		ActorID:    1,
		Matrix:     bothMatrix(authz.EntityBaseline),
	})
	require.NoError(t, err)
	require.True(t, out.Locked)
	// The input value is untouched.
	require.False(t, e.Locked)
}

func TestUnknownEdgeIsRejectedNotCoerced(t *testing.T) {
	e := Entity{ID: uuid.New(), Status: SheetDraft, OwnerID: 42}
	_, err := Transition(e, TransitionRequest{
		EntityType: authz.EntityExpense,
		From:       SheetDraft,
		To:         SheetValidated,
		Actor:      supplierPM(),
		ActorID:    42,
		Matrix:     bothMatrix(authz.EntityExpense),
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
}
