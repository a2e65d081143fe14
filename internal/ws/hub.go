package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

const (
	defaultRingSize   = 256
	subscriberBacklog = 64
)

// Hub fans conversation events out to websocket clients and in-process
// subscribers. Events carrying a sequence number are delivered in sequence
// order within their conversation; events with seq 0 (receipts) bypass
// ordering. There is no ordering across conversations.
type Hub struct {
	ringSize int

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	conns map[*websocket.Conn]ConnInfo
	subs  map[*Subscription]struct{}

	// lastSeq is the highest sequence delivered; out-of-order arrivals
	// wait in pending until the gap closes. firstSeq remembers where
	// delivery started on this room, so a lower seq arriving later can
	// be told apart from a true duplicate.
	lastSeq  int64
	firstSeq int64
	pending  map[int64]models.ConversationEvent

	// ring keeps recently delivered sequenced events for resubscribers.
	ring []models.ConversationEvent
}

// NewHub creates an empty hub. ringSize bounds the per-conversation resume
// ring; zero means the default.
func NewHub(ringSize int) *Hub {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	return &Hub{ringSize: ringSize, rooms: make(map[string]*room)}
}

func (h *Hub) room(conversationID string) *room {
	rm, ok := h.rooms[conversationID]
	if !ok {
		rm = &room{
			conns:   make(map[*websocket.Conn]ConnInfo),
			subs:    make(map[*Subscription]struct{}),
			pending: make(map[int64]models.ConversationEvent),
		}
		h.rooms[conversationID] = rm
	}
	return rm
}

// AddClient registers a websocket connection to a conversation room.
func (h *Hub) AddClient(conversationID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.room(conversationID).conns[conn] = info
}

// RemoveClient removes a websocket connection.
func (h *Hub) RemoveClient(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(rm.conns, conn)
	h.dropRoomIfEmpty(conversationID, rm)
}

// Subscription is a cancellable in-process event stream for one
// conversation. After Cancel returns no further events are delivered.
type Subscription struct {
	C chan models.ConversationEvent

	hub            *Hub
	conversationID string

	// Replayed is false when afterSeq predates the resume ring; the
	// subscriber must re-fetch the conversation before applying events.
	Replayed bool

	closed bool
}

// Subscribe attaches an in-process subscriber. afterSeq is the last event
// sequence the subscriber has applied; the gap is replayed from the resume
// ring when it is still covered, otherwise Replayed is false and the caller
// re-fetches. Pass afterSeq < 0 to skip replay entirely.
func (h *Hub) Subscribe(conversationID string, afterSeq int64) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm := h.room(conversationID)
	sub := &Subscription{
		hub:            h,
		conversationID: conversationID,
		Replayed:       true,
	}

	var replay []models.ConversationEvent
	if afterSeq >= 0 {
		switch {
		case rm.lastSeq == afterSeq:
			// Subscriber is current; nothing to replay.
		case rm.lastSeq > afterSeq:
			var covered bool
			replay, covered = rm.ringAfter(afterSeq)
			if !covered {
				replay = nil
				sub.Replayed = false
			}
		default:
			// The room is cold (or the hub restarted); coverage cannot
			// be proven, so the subscriber must re-fetch.
			sub.Replayed = false
		}
	}

	// The channel is sized to hold the whole replay plus the live
	// backlog, so buffering the replay here can never block while the
	// hub lock is held.
	sub.C = make(chan models.ConversationEvent, len(replay)+subscriberBacklog)
	for _, ev := range replay {
		sub.C <- ev
	}

	rm.subs[sub] = struct{}{}
	return sub
}

// Cancel releases the stream. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if rm, ok := s.hub.rooms[s.conversationID]; ok {
		delete(rm.subs, s)
		s.hub.dropRoomIfEmpty(s.conversationID, rm)
	}
	close(s.C)
}

// Forward routes one feed event into the conversation room. Sequenced
// events arriving ahead of a gap are parked until the gap closes; stale
// duplicates are dropped since their sequence was already delivered.
func (h *Hub) Forward(event models.ConversationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[event.ConversationID]
	if !ok {
		// Nobody listening. Conversation removal still clears state.
		if event.Type == models.EventConversationRemoved {
			delete(h.rooms, event.ConversationID)
		}
		return
	}

	if event.Seq == 0 {
		h.deliver(rm, event)
		return
	}

	switch {
	case rm.lastSeq == 0 || event.Seq == rm.lastSeq+1:
		h.deliverSequenced(rm, event)
		h.drainPending(rm)
	case event.Seq < rm.firstSeq:
		// Predates the first delivery on this room (a cold room adopted
		// a higher baseline before this event arrived). It was never
		// delivered, so hand it out late rather than dropping it;
		// subscribers order by seq.
		rm.firstSeq = event.Seq
		observability.IncWSEvent("late_delivery")
		h.deliver(rm, event)
	case event.Seq <= rm.lastSeq:
		observability.IncWSEvent("duplicate_dropped")
	default:
		rm.pending[event.Seq] = event
	}
}

func (h *Hub) drainPending(rm *room) {
	for {
		next, ok := rm.pending[rm.lastSeq+1]
		if !ok {
			return
		}
		delete(rm.pending, next.Seq)
		h.deliverSequenced(rm, next)
	}
}

func (h *Hub) deliverSequenced(rm *room, event models.ConversationEvent) {
	if rm.firstSeq == 0 {
		rm.firstSeq = event.Seq
	}
	rm.lastSeq = event.Seq
	rm.ring = append(rm.ring, event)
	if len(rm.ring) > h.ringSize {
		rm.ring = rm.ring[len(rm.ring)-h.ringSize:]
	}
	h.deliver(rm, event)
}

func (h *Hub) deliver(rm *room, event models.ConversationEvent) {
	observability.IncWSEvent(string(event.Type))

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("hub: marshal event")
		return
	}

	for conn, info := range rm.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			// Close and drop the conn only; the read loop observes the
			// close and owns the active-connections gauge, so it is
			// decremented exactly once per connection.
			log.Warn().Err(err).Str("conn_id", info.ConnID).Msg("websocket write error")
			conn.Close()
			delete(rm.conns, conn)
		}
	}

	for sub := range rm.subs {
		select {
		case sub.C <- event:
		default:
			// Slow consumer: drop the event; the subscriber detects the
			// gap by sequence and re-fetches.
			observability.IncWSEvent("subscriber_overflow")
		}
	}

	if event.Type == models.EventConversationRemoved {
		// Purge only after the removal event went out so clients never
		// hold orphan references.
		delete(h.rooms, event.ConversationID)
	}
}

// ringAfter returns the buffered events with seq > afterSeq and whether the
// ring still covers that offset.
func (rm *room) ringAfter(afterSeq int64) ([]models.ConversationEvent, bool) {
	if len(rm.ring) == 0 {
		return nil, false
	}
	if rm.ring[0].Seq > afterSeq+1 {
		return nil, false
	}
	var out []models.ConversationEvent
	for _, ev := range rm.ring {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, true
}

func (h *Hub) dropRoomIfEmpty(conversationID string, rm *room) {
	if len(rm.conns) == 0 && len(rm.subs) == 0 {
		delete(h.rooms, conversationID)
	}
}
