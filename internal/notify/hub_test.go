package notify_test

import (
	"testing"

	"taskflare/internal/domain"
	"taskflare/internal/notify"
)

func TestHubDeliversToSubscriber(t *testing.T) {
	hub := notify.NewHub()
	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	hub.Publish("user-1", domain.Notification{ID: "n-1", UserID: "user-1", Message: "hi"})
	select {
	case n := <-ch:
		if n.ID != "n-1" {
			t.Fatalf("got %+v", n)
		}
	default:
		t.Fatalf("expected buffered delivery")
	}
}

func TestHubScopesByUser(t *testing.T) {
	hub := notify.NewHub()
	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	hub.Publish("user-2", domain.Notification{ID: "n-1", UserID: "user-2"})
	select {
	case n := <-ch:
		t.Fatalf("user-1 received user-2's notification %+v", n)
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := notify.NewHub()
	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	// Publish must never block, even against a subscriber that is not
	// draining. Overflow is dropped; the durable feed covers the gap.
	for i := 0; i < 100; i++ {
		hub.Publish("user-1", domain.Notification{ID: "n", UserID: "user-1"})
	}
	if got := len(ch); got == 0 || got > 100 {
		t.Fatalf("buffered = %d", got)
	}
}

func TestHubCancelStopsDelivery(t *testing.T) {
	hub := notify.NewHub()
	ch, cancel := hub.Subscribe("user-1")
	cancel()

	hub.Publish("user-1", domain.Notification{ID: "n-1", UserID: "user-1"})
	select {
	case n := <-ch:
		t.Fatalf("received after cancel: %+v", n)
	default:
	}
}
