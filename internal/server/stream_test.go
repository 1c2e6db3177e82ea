package server

import (
	"context"
	"testing"
	"time"
)

func TestPromotionDispatcherDeliversToAllSubscribers(t *testing.T) {
	dispatcher := NewPromotionDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := dispatcher.Subscribe(ctx)
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(ctx)
	defer cleanupSecond()

	event := PromotionEvent{
		UserID:      "player1",
		DisplayName: "One",
		BestScore:   250,
		Timestamp:   time.Now().UTC(),
	}
	dispatcher.Publish(event)

	for name, stream := range map[string]<-chan PromotionEvent{"first": first, "second": second} {
		select {
		case received := <-stream:
			if received.UserID != "player1" || received.BestScore != 250 {
				t.Fatalf("%s subscriber received unexpected event %+v", name, received)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber did not receive the event", name)
		}
	}
}

func TestPromotionDispatcherIgnoresAnonymousEvents(t *testing.T) {
	dispatcher := NewPromotionDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.Publish(PromotionEvent{BestScore: 100})

	select {
	case event := <-stream:
		t.Fatalf("expected no delivery for an event without a user, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPromotionDispatcherDropsUnsubscribed(t *testing.T) {
	dispatcher := NewPromotionDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, cleanup := dispatcher.Subscribe(ctx)
	cleanup()
	cancel()

	dispatcher.Publish(PromotionEvent{UserID: "player1", BestScore: 100})

	select {
	case event, ok := <-stream:
		if ok {
			t.Fatalf("expected no delivery after unsubscribe, got %+v", event)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPromotionDispatcherDoesNotBlockOnSlowSubscribers(t *testing.T) {
	dispatcher := NewPromotionDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		// more events than the subscriber buffer holds
		for index := 0; index < 100; index++ {
			dispatcher.Publish(PromotionEvent{UserID: "player1", BestScore: float64(index)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publishing blocked on a slow subscriber")
	}
}
