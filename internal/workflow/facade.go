package workflow

import (
	"github.com/meridian-pm/meridian-pm/internal/authz"
)

// Capabilities are the named decisions the facade exposes to handlers
// and services. Computing them never mutates anything; callers act on
// a positive flag by invoking Transition or ApplySignature afterwards.
type Capabilities struct {
	CanEdit            bool `json:"can_edit"`
	CanDelete          bool `json:"can_delete"`
	CanSubmit          bool `json:"can_submit"`
	CanReview          bool `json:"can_review"`
	CanSignAsSupplier  bool `json:"can_sign_as_supplier"`
	CanSignAsCustomer  bool `json:"can_sign_as_customer"`
	CanInitiateSignOff bool `json:"can_initiate_sign_off"`
}

// editableStatuses lists, per entity type, the statuses in which field
// edits are still allowed.
var editableStatuses = map[authz.EntityType]map[Status]struct{}{
	authz.EntityBaseline: {
		BaselineUnlocked: {},
	},
	authz.EntityDeliverable: {
		DeliverableNotStarted: {},
		DeliverableInProgress: {},
		DeliverableReturned:   {},
	},
	authz.EntityCertificate: {
		CertificateDraft: {},
	},
	authz.EntityTimesheet: {
		SheetDraft:    {},
		SheetRejected: {},
	},
	authz.EntityExpense: {
		SheetDraft:    {},
		SheetRejected: {},
	},
}

// initialStatuses lists the statuses in which deletion is still safe.
var initialStatuses = map[authz.EntityType]Status{
	authz.EntityBaseline:    BaselineUnlocked,
	authz.EntityDeliverable: DeliverableNotStarted,
	authz.EntityCertificate: CertificateDraft,
	authz.EntityTimesheet:   SheetDraft,
	authz.EntityExpense:     SheetDraft,
}

// CapabilitiesFor composes the state machine, the approval evaluator
// and the lock gate into actionable flags for one actor and entity.
func CapabilitiesFor(e Entity, entityType authz.EntityType, actor authz.EffectiveRole, actorID int64, matrix authz.AuthorityMatrix, ctx authz.ApprovalContext) Capabilities {
	if e.Locked {
		return Capabilities{}
	}

	role := actor.Effective
	owner := actorID == e.OwnerID
	editor := owner || authz.Elevated(role) || actor.HasFullAdminCapabilities

	caps := Capabilities{}

	if _, ok := editableStatuses[entityType][e.Status]; ok && editor {
		caps.CanEdit = true
	}
	if initial, ok := initialStatuses[entityType]; ok && e.Status == initial && editor && DeriveStatus(e) == SignOffNotSigned {
		caps.CanDelete = true
	}

	caps.CanSubmit = legalTransition(e, entityType, submitTarget(entityType, e.Status), actor, actorID, matrix, ctx)

	switch entityType {
	case authz.EntityDeliverable:
		caps.CanReview = legalTransition(e, entityType, DeliverableReviewComplete, actor, actorID, matrix, ctx)
		caps.CanInitiateSignOff = e.Status == DeliverableReviewComplete &&
			authz.CanApprove(matrix, entityType, role, ctx)
	case authz.EntityTimesheet, authz.EntityExpense:
		caps.CanReview = legalTransition(e, entityType, SheetValidated, actor, actorID, matrix, ctx)
	case authz.EntityCertificate:
		caps.CanInitiateSignOff = e.Status == CertificateDraft &&
			authz.CanApprove(matrix, entityType, role, ctx)
	case authz.EntityBaseline, authz.EntityVariation:
	}

	if signable(e, entityType) {
		canApprove := authz.CanApprove(matrix, entityType, role, ctx)
		caps.CanSignAsSupplier = canApprove && authz.SupplierSide(role) && e.SupplierSignedAt == nil
		caps.CanSignAsCustomer = canApprove && authz.CustomerSide(role) && e.CustomerSignedAt == nil
	}

	return caps
}

// submitTarget maps an entity type's current status to its submit
// destination, or "" when no submit edge applies.
func submitTarget(entityType authz.EntityType, from Status) Status {
	switch entityType {
	case authz.EntityDeliverable:
		if from == DeliverableInProgress || from == DeliverableReturned {
			return DeliverableSubmitted
		}
	case authz.EntityTimesheet, authz.EntityExpense:
		if from == SheetDraft {
			return SheetSubmitted
		}
	case authz.EntityBaseline, authz.EntityCertificate, authz.EntityVariation:
	}
	return ""
}

func legalTransition(e Entity, entityType authz.EntityType, to Status, actor authz.EffectiveRole, actorID int64, matrix authz.AuthorityMatrix, ctx authz.ApprovalContext) bool {
	if to == "" {
		return false
	}
	_, err := Transition(e, TransitionRequest{
		EntityType: entityType,
		From:       e.Status,
		To:         to,
		Actor:      actor,
		ActorID:    actorID,
		Matrix:     matrix,
		Context:    ctx,
	})
	return err == nil
}

func signable(e Entity, entityType authz.EntityType) bool {
	allowed, ok := signableStatuses[entityType]
	if !ok {
		return false
	}
	_, ok = allowed[e.Status]
	return ok
}
