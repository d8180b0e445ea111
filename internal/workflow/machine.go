package workflow

import (
	"fmt"

	"github.com/meridian-pm/meridian-pm/internal/authz"
)

// edgeGuard names who may walk a transition edge.
type edgeGuard int

const (
	// guardSubmit: the entity owner, any supplier-side role, or an
	// actor with full admin capability.
	guardSubmit edgeGuard = iota
	// guardOwner: owner-only edges such as resubmission; supplier-side
	// roles and full admins count as elevated.
	guardOwner
	// guardReview: customer-side review of submitted work.
	guardReview
	// guardApproval: delegated to the approval evaluator under the
	// entity type's configured authority.
	guardApproval
	// guardAdmin: privileged edges reachable only with full admin
	// capability (baseline unlock).
	guardAdmin
)

type edge struct {
	from, to Status
}

// transitions holds the legal edges per entity type. An edge absent
// from its table is rejected, never coerced.
var transitions = map[authz.EntityType]map[edge]edgeGuard{
	authz.EntityDeliverable: {
		{DeliverableNotStarted, DeliverableInProgress}:     guardSubmit,
		{DeliverableInProgress, DeliverableSubmitted}:      guardSubmit,
		{DeliverableReturned, DeliverableSubmitted}:        guardOwner,
		{DeliverableReturned, DeliverableInProgress}:       guardOwner,
		{DeliverableSubmitted, DeliverableReviewComplete}:  guardReview,
		{DeliverableSubmitted, DeliverableReturned}:        guardReview,
		{DeliverableReviewComplete, DeliverableDelivered}:  guardApproval,
	},
	authz.EntityBaseline: {
		{BaselineUnlocked, BaselineLocked}: guardApproval,
		{BaselineLocked, BaselineUnlocked}: guardAdmin,
	},
	authz.EntityCertificate: {
		{CertificateDraft, CertificatePendingSupplier}:    guardApproval,
		{CertificateDraft, CertificatePendingCustomer}:    guardApproval,
		{CertificatePendingSupplier, CertificateSigned}:   guardApproval,
		{CertificatePendingCustomer, CertificateSigned}:   guardApproval,
	},
	authz.EntityTimesheet: {
		{SheetDraft, SheetSubmitted}:   guardSubmit,
		{SheetSubmitted, SheetValidated}: guardApproval,
		{SheetSubmitted, SheetRejected}:  guardApproval,
		{SheetRejected, SheetDraft}:      guardOwner,
	},
	authz.EntityExpense: {
		{SheetDraft, SheetSubmitted}:   guardSubmit,
		{SheetSubmitted, SheetValidated}: guardApproval,
		{SheetSubmitted, SheetRejected}:  guardApproval,
		{SheetRejected, SheetDraft}:      guardOwner,
	},
}

// TransitionRequest describes one attempted status change. From is the
// status the caller evaluated against; when it no longer matches the
// entity the request fails with ErrStaleState instead of applying a
// decision made on outdated facts.
type TransitionRequest struct {
	EntityType authz.EntityType
	From       Status
	To         Status
	Actor      authz.EffectiveRole
	ActorID    int64
	Matrix     authz.AuthorityMatrix
	Context    authz.ApprovalContext
}

// Transition validates and applies a status change, returning the
// updated entity. The entity value is never mutated in place.
func Transition(e Entity, req TransitionRequest) (Entity, error) {
	if req.From != e.Status {
		return e, fmt.Errorf("%w: expected %s, entity is %s", ErrStaleState, req.From, e.Status)
	}

	table, ok := transitions[req.EntityType]
	if !ok {
		return e, fmt.Errorf("%w: unknown entity type %s", ErrInvalidTransition, req.EntityType)
	}
	guard, ok := table[edge{req.From, req.To}]
	if !ok {
		return e, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, req.From, req.To, req.EntityType)
	}

	// Locked entities are terminal except for the privileged unlock.
	if e.Locked && guard != guardAdmin {
		return e, fmt.Errorf("%w: entity is locked", ErrInvalidTransition)
	}

	if err := checkGuard(guard, e, req); err != nil {
		return e, err
	}

	out := e
	out.Status = req.To
	switch {
	case req.EntityType == authz.EntityBaseline && req.To == BaselineLocked:
		out.Locked = true
	case req.EntityType == authz.EntityBaseline && req.To == BaselineUnlocked:
		out.Locked = false
	}
	return out, nil
}

func checkGuard(guard edgeGuard, e Entity, req TransitionRequest) error {
	role := req.Actor.Effective
	switch guard {
	case guardSubmit:
		if req.ActorID == e.OwnerID || authz.SupplierSide(role) || req.Actor.HasFullAdminCapabilities {
			return nil
		}
		return fmt.Errorf("%w: %s may not submit", ErrUnauthorized, role)
	case guardOwner:
		if req.ActorID == e.OwnerID || authz.SupplierSide(role) || req.Actor.HasFullAdminCapabilities {
			return nil
		}
		return fmt.Errorf("%w: owner-only transition", ErrUnauthorized)
	case guardReview:
		if authz.CustomerSide(role) || req.Actor.HasFullAdminCapabilities {
			return nil
		}
		return fmt.Errorf("%w: review requires a customer-side role", ErrUnauthorized)
	case guardApproval:
		if authz.CanApprove(req.Matrix, req.EntityType, role, req.Context) {
			return nil
		}
		return fmt.Errorf("%w: %s lacks approval authority for %s", ErrUnauthorized, role, req.EntityType)
	case guardAdmin:
		if req.Actor.HasFullAdminCapabilities {
			return nil
		}
		return fmt.Errorf("%w: admin-only transition", ErrUnauthorized)
	}
	return fmt.Errorf("%w: unguarded transition", ErrUnauthorized)
}
