package server

import (
	"context"
	"sync"
	"time"
)

const (
	// StreamEventRecordPromoted is emitted whenever a best score is replaced.
	StreamEventRecordPromoted = "record-promoted"
	streamEventHeartbeat      = "heartbeat"
)

// PromotionEvent announces a new personal record to leaderboard watchers.
type PromotionEvent struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	BestScore   float64   `json:"best_score"`
	Timestamp   time.Time `json:"timestamp"`
}

// PromotionDispatcher fans promotion events out to leaderboard stream
// subscribers. Slow subscribers drop events rather than block publishers.
type PromotionDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*promotionSubscriber
	nextID      int64
	bufferSize  int
}

type promotionSubscriber struct {
	id     int64
	stream chan PromotionEvent
}

// NewPromotionDispatcher constructs an empty dispatcher.
func NewPromotionDispatcher() *PromotionDispatcher {
	return &PromotionDispatcher{
		subscribers: make(map[int64]*promotionSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that receives every subsequent promotion event
// until the context is cancelled or the cleanup function runs.
func (d *PromotionDispatcher) Subscribe(ctx context.Context) (<-chan PromotionEvent, func()) {
	subscriber := &promotionSubscriber{
		id:     d.nextSequence(),
		stream: make(chan PromotionEvent, d.bufferSize),
	}
	d.register(subscriber)
	cleanup := func() {
		d.unregister(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to every live subscriber without blocking.
func (d *PromotionDispatcher) Publish(event PromotionEvent) {
	if event.UserID == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*promotionSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *PromotionDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *PromotionDispatcher) register(subscriber *promotionSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[subscriber.id] = subscriber
}

func (d *PromotionDispatcher) unregister(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
