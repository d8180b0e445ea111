// Package workflow implements the generic entity state machine, the
// dual-party signature ledger, and the permission facade composing
// them with the authz core. Everything here is pure: mutating
// operations return a new entity value and the enclosing repositories
// apply it with compare-and-set updates.
package workflow

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is a workflow entity status. Values belong to closed
// per-entity-type enumerations; the transition tables are the single
// source of legality.
type Status string

// Deliverable statuses.
const (
	DeliverableNotStarted     Status = "NOT_STARTED"
	DeliverableInProgress     Status = "IN_PROGRESS"
	DeliverableSubmitted      Status = "SUBMITTED_FOR_REVIEW"
	DeliverableReviewComplete Status = "REVIEW_COMPLETE"
	DeliverableReturned       Status = "RETURNED_FOR_MORE_WORK"
	DeliverableDelivered      Status = "DELIVERED"
)

// Milestone baseline statuses.
const (
	BaselineUnlocked Status = "UNLOCKED"
	BaselineLocked   Status = "LOCKED"
)

// Certificate statuses. These are a view over the signature ledger,
// see CertificateStatus; no independent status field is authoritative.
const (
	CertificateDraft           Status = "DRAFT"
	CertificatePendingSupplier Status = "PENDING_SUPPLIER_SIGNATURE"
	CertificatePendingCustomer Status = "PENDING_CUSTOMER_SIGNATURE"
	CertificateSigned          Status = "SIGNED"
)

// Timesheet and expense statuses share one lifecycle shape.
const (
	SheetDraft     Status = "DRAFT"
	SheetSubmitted Status = "SUBMITTED"
	SheetValidated Status = "VALIDATED"
	SheetRejected  Status = "REJECTED"
)

// Entity is the abstract workflow shape shared by deliverables,
// baselines, certificates, timesheets and expenses. Signature fields
// are monotonic: ordinary workflow code only sets them, and only the
// explicit admin baseline reset clears them.
type Entity struct {
	ID               uuid.UUID
	Status           Status
	SupplierSignedAt *time.Time
	SupplierSignedBy int64
	CustomerSignedAt *time.Time
	CustomerSignedBy int64
	Locked           bool
	OwnerID          int64
}

var (
	// ErrInvalidTransition rejects a status change that is not a legal
	// edge from the entity's current status, including any change
	// attempted on a locked entity.
	ErrInvalidTransition = errors.New("workflow: invalid transition")
	// ErrUnauthorized rejects an action the effective role lacks
	// authority for under the current matrix.
	ErrUnauthorized = errors.New("workflow: unauthorized")
	// ErrStaleState signals the entity changed since the caller's
	// snapshot was read; the caller must re-read and retry.
	ErrStaleState = errors.New("workflow: stale state")
)
