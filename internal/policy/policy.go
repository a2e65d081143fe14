// Package policy decides whether a message mutation is allowed. It performs
// no I/O so it can be exercised without storage or an HTTP harness.
package policy

import (
	"time"

	"messaging-service/internal/models"
)

// EditWindow bounds how long after sending the owner may still edit.
const EditWindow = 300 * time.Second

// Capability names checked through the authorization context.
const CapabilityManageMessaging = "manage_messaging"

// Operation is a mutation kind submitted for a decision.
type Operation string

const (
	OpEdit   Operation = "edit"
	OpDelete Operation = "delete"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNotOwner          Reason = "not_owner"
	ReasonEditWindowExpired Reason = "edit_window_expired"
	ReasonMessageRemoved    Reason = "message_removed"
	ReasonUnknownOperation  Reason = "unknown_operation"
)

// Decision is the outcome of Decide.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// CapabilityChecker answers capability questions for a user. In production
// it is backed by the session authorization context.
type CapabilityChecker interface {
	HasCapability(userID string, capability string) bool
}

// Requester identifies who is attempting the mutation.
type Requester struct {
	UserID string
}

// Enforcer evaluates edit/delete requests against the window and capability
// rules.
type Enforcer struct {
	caps CapabilityChecker
	now  func() time.Time
}

// NewEnforcer builds an Enforcer. now may be nil, defaulting to time.Now.
func NewEnforcer(caps CapabilityChecker, now func() time.Time) *Enforcer {
	if now == nil {
		now = time.Now
	}
	return &Enforcer{caps: caps, now: now}
}

// Decide returns whether the operation is allowed.
//
// Edit is permitted only to the sender and only within EditWindow of the
// send. Delete is permitted to the sender at any age, or to anyone holding
// the manage-messaging capability. Tombstoned messages accept no further
// mutations.
func (e *Enforcer) Decide(op Operation, msg models.Message, req Requester) Decision {
	if msg.Tombstoned() {
		return Decision{Reason: ReasonMessageRemoved}
	}

	switch op {
	case OpEdit:
		if req.UserID != msg.SenderID {
			return Decision{Reason: ReasonNotOwner}
		}
		if e.now().Sub(msg.CreatedAt) > EditWindow {
			return Decision{Reason: ReasonEditWindowExpired}
		}
		return Decision{Allowed: true}
	case OpDelete:
		if req.UserID == msg.SenderID {
			return Decision{Allowed: true}
		}
		if e.caps != nil && e.caps.HasCapability(req.UserID, CapabilityManageMessaging) {
			return Decision{Allowed: true}
		}
		return Decision{Reason: ReasonNotOwner}
	default:
		return Decision{Reason: ReasonUnknownOperation}
	}
}
