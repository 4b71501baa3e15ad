package stream

import (
	"context"
	"sync"
	"time"
)

// EventType classifies content events pushed to live subscribers.
type EventType string

const (
	EventContentCreated EventType = "content.created"
	EventStatusChanged  EventType = "content.status_changed"
	EventDraftEdited    EventType = "content.draft_edited"
	EventCommentAdded   EventType = "content.comment_added"
	EventPublished      EventType = "content.published"
)

// ContentEvent describes a change to a content item, scoped to its org.
type ContentEvent struct {
	Type      EventType `json:"type"`
	OrgID     string    `json:"org_id"`
	ContentID string    `json:"content_id"`
	Status    string    `json:"status,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriber struct {
	orgID string
	ch    chan ContentEvent
}

// Hub fan-outs content events to active subscribers (SSE clients). Each
// subscriber sees only its own org's events.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber for one org and returns a channel that
// will receive its events. The channel is closed and the registration
// released when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context, orgID string) <-chan ContentEvent {
	sub := &subscriber{orgID: orgID, ch: make(chan ContentEvent, 16)}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(sub.ch)
		h.mu.Unlock()
	}()

	return sub.ch
}

// Publish fan-outs the event to all subscribers of the event's org.
func (h *Hub) Publish(evt ContentEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.orgID != evt.OrgID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the current registration count. Used by readiness info.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
