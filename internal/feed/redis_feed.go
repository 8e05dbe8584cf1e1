package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"facesync/internal/models"
)

// RedisFeed fans snapshots out over Redis pub/sub, one channel per user, so
// every gateway instance sees writes made by the others.
type RedisFeed struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisFeed(client *redis.Client, log zerolog.Logger) *RedisFeed {
	return &RedisFeed{client: client, log: log}
}

func Channel(userID string) string {
	return "gallery:" + userID
}

func (f *RedisFeed) Publish(ctx context.Context, userID string, records []models.ImageRecord) error {
	if len(records) == 0 {
		return nil
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.client.Publish(ctx, Channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, Channel(userID))
	// Receive blocks until the subscription is confirmed so no publish made
	// after Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(userID), err)
	}

	sub := &redisSubscription{
		pubsub:  pubsub,
		updates: make(chan []models.ImageRecord, updateBuffer),
		done:    make(chan struct{}),
		log:     f.log.With().Str("user_id", userID).Logger(),
	}
	sub.wg.Add(1)
	go sub.run()
	return sub, nil
}

type redisSubscription struct {
	pubsub  *redis.PubSub
	updates chan []models.ImageRecord
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	log     zerolog.Logger
}

func (s *redisSubscription) run() {
	defer s.wg.Done()
	defer close(s.updates)

	messages := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var records []models.ImageRecord
			if err := json.Unmarshal([]byte(msg.Payload), &records); err != nil {
				s.log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed snapshot")
				continue
			}
			select {
			case s.updates <- records:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Updates() <-chan []models.ImageRecord {
	return s.updates
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.wg.Wait()
	})
	return err
}
