package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishScopedToOrg(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx, "org-a")
	b := h.Subscribe(ctx, "org-b")

	h.Publish(ContentEvent{Type: EventContentCreated, OrgID: "org-a", ContentID: "c1"})

	select {
	case evt := <-a:
		if evt.ContentID != "c1" || evt.Type != EventContentCreated {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("org-a subscriber did not receive event")
	}

	select {
	case evt := <-b:
		t.Fatalf("org-b received foreign event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch := h.Subscribe(ctx, "org-a")
	cancel()

	// Channel closes once the context ends.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if h.Subscribers() != 0 {
					t.Fatalf("subscriber not released, %d remaining", h.Subscribers())
				}
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = h.Subscribe(ctx, "org-a") // never read

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(ContentEvent{Type: EventCommentAdded, OrgID: "org-a", ContentID: "c1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
