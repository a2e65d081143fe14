// Package session orchestrates the consuming side of a conversation:
// initial load, active-conversation selection, realtime merge, optimistic
// send with reconciliation, and resubscription after a disconnect.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/ws"
)

// SendFailure notifies the UI that an optimistic send was rolled back.
type SendFailure struct {
	LocalID string
	Err     error
}

// Controller holds one user's in-memory view of their conversations.
type Controller struct {
	userID string
	convs  repositories.ConversationRepository
	msgs   repositories.MessageRepository
	hub    *ws.Hub

	mu        sync.Mutex
	summaries []models.ConversationSummary
	active    string
	messages  []models.Message
	byID      map[string]int
	lastSeq   int64
	sub       *ws.Subscription
	failures  []SendFailure
}

// NewController builds a controller for the user.
func NewController(userID string, convs repositories.ConversationRepository, msgs repositories.MessageRepository, hub *ws.Hub) *Controller {
	return &Controller{
		userID: userID,
		convs:  convs,
		msgs:   msgs,
		hub:    hub,
		byID:   make(map[string]int),
	}
}

// Load fetches the conversation list with unread counts.
func (c *Controller) Load(ctx context.Context) error {
	summaries, err := c.convs.ListConversations(ctx, c.userID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.summaries = summaries
	c.mu.Unlock()
	return nil
}

// Summaries returns the current conversation list, newest activity first.
func (c *Controller) Summaries() []models.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ConversationSummary, len(c.summaries))
	copy(out, c.summaries)
	return out
}

// SetActive selects a conversation: fetches its recent messages, then
// subscribes to its event stream. Any previous subscription is cancelled
// first.
func (c *Controller) SetActive(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
	c.active = conversationID
	c.messages = nil
	c.byID = make(map[string]int)
	c.lastSeq = 0
	c.mu.Unlock()

	if err := c.refetch(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	sub := c.hub.Subscribe(conversationID, c.lastSeq)
	c.sub = sub
	c.mu.Unlock()

	go c.consume(sub)
	return nil
}

// Resubscribe re-attaches after a transient disconnect. When the resume
// ring no longer covers the gap, the controller falls back to a full
// re-fetch of recent messages.
func (c *Controller) Resubscribe(ctx context.Context) error {
	c.mu.Lock()
	conversationID := c.active
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
	lastSeq := c.lastSeq
	c.mu.Unlock()

	if conversationID == "" {
		return nil
	}

	sub := c.hub.Subscribe(conversationID, lastSeq)
	if !sub.Replayed {
		if err := c.refetch(ctx); err != nil {
			sub.Cancel()
			return err
		}
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	go c.consume(sub)
	return nil
}

// Close cancels the active subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
}

// Messages returns the active conversation's messages in sequence order,
// optimistic pending sends last.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Failures drains pending send-failure notifications.
func (c *Controller) Failures() []SendFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.failures
	c.failures = nil
	return out
}

// Send performs an optimistic send: the message appears locally at once and
// is reconciled with the server-assigned id, timestamp and sequence on
// acknowledgment. On failure the local message is rolled back and a
// failure notification surfaced.
func (c *Controller) Send(ctx context.Context, blocks models.ContentBlocks, replyToID *string) error {
	localID := "local-" + uuid.NewString()

	c.mu.Lock()
	conversationID := c.active
	pending := models.Message{
		ID:             localID,
		ConversationID: conversationID,
		SenderID:       c.userID,
		Blocks:         blocks,
		ReplyToID:      replyToID,
		CreatedAt:      time.Now(),
	}
	c.messages = append(c.messages, pending)
	c.byID[localID] = len(c.messages) - 1
	c.mu.Unlock()

	msg, err := c.msgs.CreateMessage(ctx, conversationID, c.userID, blocks, replyToID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(localID)
	if err != nil {
		c.failures = append(c.failures, SendFailure{LocalID: localID, Err: err})
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("optimistic send rolled back")
		return err
	}
	c.upsertLocked(msg)
	c.touchSummaryLocked(conversationID, msg.CreatedAt)
	return nil
}

// Apply merges one realtime event. Safe to call with duplicates: apply is
// idempotent by message id.
func (c *Controller) Apply(event models.ConversationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if event.ConversationID == c.active && event.Seq > c.lastSeq {
		c.lastSeq = event.Seq
	}

	switch event.Type {
	case models.EventMessageInserted, models.EventCommentInserted:
		if event.Message != nil {
			if event.ConversationID == c.active {
				c.upsertLocked(*event.Message)
			}
			c.touchSummaryLocked(event.ConversationID, event.Message.CreatedAt)
			if event.Message.SenderID != c.userID {
				c.bumpUnreadLocked(event.ConversationID)
			}
		}
	case models.EventMessageUpdated:
		if event.Message != nil && event.ConversationID == c.active {
			c.upsertLocked(*event.Message)
		}
	case models.EventMessageDeleted:
		if event.ConversationID == c.active {
			c.removeLocked(event.MessageID)
		}
	case models.EventReceiptUpdated:
		if event.UserID == c.userID {
			c.clearUnreadLocked(event.ConversationID)
		}
	case models.EventConversationRemoved:
		c.dropConversationLocked(event.ConversationID)
	}
}

func (c *Controller) consume(sub *ws.Subscription) {
	for event := range sub.C {
		if c.gapped(event) {
			// The hub dropped at least one event for this subscriber.
			// A full re-fetch restores the missed messages; Apply is
			// idempotent, so applying the event afterwards is safe.
			if err := c.refetch(context.Background()); err != nil {
				log.Warn().Err(err).Str("conversation_id", event.ConversationID).Msg("re-fetch after sequence gap failed")
			}
		}
		c.Apply(event)
	}
}

// gapped reports whether the event skips ahead of the last sequence the
// controller has seen for the active conversation.
func (c *Controller) gapped(event models.ConversationEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return event.ConversationID == c.active && event.Seq > 0 && c.lastSeq > 0 && event.Seq > c.lastSeq+1
}

func (c *Controller) refetch(ctx context.Context) error {
	c.mu.Lock()
	conversationID := c.active
	c.mu.Unlock()

	msgs, err := c.msgs.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.byID = make(map[string]int)
	for _, m := range msgs {
		c.upsertLocked(m)
		if m.Seq > c.lastSeq {
			c.lastSeq = m.Seq
		}
	}
	return nil
}

func (c *Controller) upsertLocked(msg models.Message) {
	if i, ok := c.byID[msg.ID]; ok {
		c.messages[i] = msg
		return
	}
	c.messages = append(c.messages, msg)
	sort.SliceStable(c.messages, func(i, j int) bool {
		// Pending sends carry seq 0 and sort after acknowledged messages.
		si, sj := c.messages[i].Seq, c.messages[j].Seq
		if si == 0 || sj == 0 {
			return sj == 0 && si != 0
		}
		return si < sj
	})
	c.reindexLocked()
}

func (c *Controller) removeLocked(messageID string) {
	i, ok := c.byID[messageID]
	if !ok {
		return
	}
	c.messages = append(c.messages[:i], c.messages[i+1:]...)
	c.reindexLocked()
}

func (c *Controller) reindexLocked() {
	c.byID = make(map[string]int, len(c.messages))
	for i, m := range c.messages {
		c.byID[m.ID] = i
	}
}

func (c *Controller) touchSummaryLocked(conversationID string, at time.Time) {
	for i := range c.summaries {
		if c.summaries[i].ConversationID == conversationID {
			t := at
			c.summaries[i].LastMessageAt = &t
			break
		}
	}
	sort.SliceStable(c.summaries, func(i, j int) bool {
		ti, tj := c.summaries[i].LastMessageAt, c.summaries[j].LastMessageAt
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		return ti.After(*tj)
	})
}

func (c *Controller) bumpUnreadLocked(conversationID string) {
	if conversationID == c.active {
		// The active conversation is on screen; it never accrues unread.
		return
	}
	for i := range c.summaries {
		if c.summaries[i].ConversationID == conversationID {
			c.summaries[i].UnreadCount++
			return
		}
	}
}

func (c *Controller) clearUnreadLocked(conversationID string) {
	for i := range c.summaries {
		if c.summaries[i].ConversationID == conversationID {
			c.summaries[i].UnreadCount = 0
			return
		}
	}
}

func (c *Controller) dropConversationLocked(conversationID string) {
	for i := range c.summaries {
		if c.summaries[i].ConversationID == conversationID {
			c.summaries = append(c.summaries[:i], c.summaries[i+1:]...)
			break
		}
	}
	if c.active == conversationID {
		c.active = ""
		c.messages = nil
		c.byID = make(map[string]int)
		c.lastSeq = 0
		if c.sub != nil {
			c.sub.Cancel()
			c.sub = nil
		}
	}
}
