// Package feed carries live snapshots of newly written image records to the
// gallery views of the same user scope.
package feed

import (
	"context"
	"fmt"
	"sync"

	"facesync/internal/models"
)

// Subscription delivers snapshots for one user scope until closed. Close
// must be called exactly when the consumer loses interest; Updates is closed
// afterwards.
type Subscription interface {
	Updates() <-chan []models.ImageRecord
	Close() error
}

// Feed publishes snapshots for a user scope and subscribes to them.
type Feed interface {
	Publish(ctx context.Context, userID string, records []models.ImageRecord) error
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

var (
	_ Feed = (*Hub)(nil)
	_ Feed = (*RedisFeed)(nil)
)

const updateBuffer = 16

// Hub is an in-process feed for single-node deployments.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*hubSubscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSubscription]struct{})}
}

// Publish hands records to every subscriber of userID. A full subscriber
// buffer holds the publisher until there is room or the subscription closes;
// ctx bounds the wait.
func (h *Hub) Publish(ctx context.Context, userID string, records []models.ImageRecord) error {
	if len(records) == 0 {
		return nil
	}

	h.mu.Lock()
	targets := make([]*hubSubscription, 0, len(h.subs[userID]))
	for sub := range h.subs[userID] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if err := sub.deliver(ctx, append([]models.ImageRecord(nil), records...)); err != nil {
			return fmt.Errorf("deliver snapshot: %w", err)
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, userID string) (Subscription, error) {
	sub := &hubSubscription{
		hub:     h,
		userID:  userID,
		updates: make(chan []models.ImageRecord, updateBuffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*hubSubscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()

	return sub, nil
}

// Subscribers reports the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

type hubSubscription struct {
	hub     *Hub
	userID  string
	updates chan []models.ImageRecord
	done    chan struct{}
	// sending is held for reading by publishers so Close never closes
	// updates under an in-flight send.
	sending sync.RWMutex
	once    sync.Once
}

func (s *hubSubscription) deliver(ctx context.Context, records []models.ImageRecord) error {
	s.sending.RLock()
	defer s.sending.RUnlock()

	select {
	case <-s.done:
		return nil
	default:
	}

	select {
	case s.updates <- records:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *hubSubscription) Updates() <-chan []models.ImageRecord {
	return s.updates
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)

		s.hub.mu.Lock()
		delete(s.hub.subs[s.userID], s)
		if len(s.hub.subs[s.userID]) == 0 {
			delete(s.hub.subs, s.userID)
		}
		s.hub.mu.Unlock()

		s.sending.Lock()
		close(s.updates)
		s.sending.Unlock()
	})
	return nil
}
