package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"messaging-service/internal/models"
)

type staticCaps map[string]bool

func (c staticCaps) HasCapability(userID string, capability string) bool {
	return c[userID+":"+capability]
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func messageFrom(sender string, age time.Duration) models.Message {
	return models.Message{
		ID:        "m1",
		SenderID:  sender,
		CreatedAt: fixedNow().Add(-age),
	}
}

func TestEditAllowedWithinWindow(t *testing.T) {
	e := NewEnforcer(nil, fixedNow)

	d := e.Decide(OpEdit, messageFrom("alice", 290*time.Second), Requester{UserID: "alice"})
	assert.True(t, d.Allowed)
}

func TestEditDeniedAfterWindow(t *testing.T) {
	e := NewEnforcer(nil, fixedNow)

	d := e.Decide(OpEdit, messageFrom("alice", 310*time.Second), Requester{UserID: "alice"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonEditWindowExpired, d.Reason)
}

func TestEditAllowedAtExactWindowBoundary(t *testing.T) {
	e := NewEnforcer(nil, fixedNow)

	d := e.Decide(OpEdit, messageFrom("alice", EditWindow), Requester{UserID: "alice"})
	assert.True(t, d.Allowed)
}

func TestEditDeniedForNonOwnerEvenWhenFresh(t *testing.T) {
	caps := staticCaps{"bob:" + CapabilityManageMessaging: true}
	e := NewEnforcer(caps, fixedNow)

	d := e.Decide(OpEdit, messageFrom("alice", time.Second), Requester{UserID: "bob"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotOwner, d.Reason)
}

func TestDeleteAllowedForOwnerRegardlessOfAge(t *testing.T) {
	e := NewEnforcer(nil, fixedNow)

	d := e.Decide(OpDelete, messageFrom("alice", 48*time.Hour), Requester{UserID: "alice"})
	assert.True(t, d.Allowed)
}

func TestDeleteAllowedWithManageCapability(t *testing.T) {
	caps := staticCaps{"boss:" + CapabilityManageMessaging: true}
	e := NewEnforcer(caps, fixedNow)

	d := e.Decide(OpDelete, messageFrom("alice", 48*time.Hour), Requester{UserID: "boss"})
	assert.True(t, d.Allowed)
}

func TestDeleteDeniedWithoutCapability(t *testing.T) {
	e := NewEnforcer(staticCaps{}, fixedNow)

	d := e.Decide(OpDelete, messageFrom("alice", time.Minute), Requester{UserID: "bob"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotOwner, d.Reason)
}

func TestTombstonedMessageRejectsMutations(t *testing.T) {
	e := NewEnforcer(nil, fixedNow)
	msg := messageFrom("alice", time.Second)
	deleted := fixedNow().Add(-time.Millisecond)
	msg.DeletedAt = &deleted

	for _, op := range []Operation{OpEdit, OpDelete} {
		d := e.Decide(op, msg, Requester{UserID: "alice"})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonMessageRemoved, d.Reason)
	}
}
