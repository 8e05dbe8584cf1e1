package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facesync/internal/models"
)

func newRedisFeed(t *testing.T) (*RedisFeed, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFeed(client, zerolog.Nop()), mr
}

func receive(t *testing.T, sub Subscription) []models.ImageRecord {
	t.Helper()
	select {
	case got, ok := <-sub.Updates():
		require.True(t, ok, "updates closed")
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
		return nil
	}
}

func TestRedisFeedSubscribeIsConfirmedBeforeReturn(t *testing.T) {
	f, mr := newRedisFeed(t)
	ctx := context.Background()

	sub, err := f.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, 1, mr.PubSubNumSub(Channel("u1"))[Channel("u1")])

	rec := models.ImageRecord{ID: "r1", UserID: "u1", Kind: models.ImageKindOriginal, ImageURL: "https://x/o.jpg"}
	require.NoError(t, f.Publish(ctx, "u1", []models.ImageRecord{rec}))

	got := receive(t, sub)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "https://x/o.jpg", got[0].ImageURL)
}

func TestRedisFeedDropsMalformedPayloads(t *testing.T) {
	f, mr := newRedisFeed(t)
	ctx := context.Background()

	sub, err := f.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish(Channel("u1"), "{not json")
	require.NoError(t, f.Publish(ctx, "u1", []models.ImageRecord{{ID: "r2", UserID: "u1"}}))

	got := receive(t, sub)
	require.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].ID)
}

func TestRedisFeedKeepsUserChannelsApart(t *testing.T) {
	f, _ := newRedisFeed(t)
	ctx := context.Background()

	subA, err := f.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := f.Subscribe(ctx, "u2")
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, f.Publish(ctx, "u1", []models.ImageRecord{{ID: "r1", UserID: "u1"}}))
	assert.Equal(t, "r1", receive(t, subA)[0].ID)

	select {
	case got := <-subB.Updates():
		t.Fatalf("u2 subscriber received %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisFeedCloseStopsDelivery(t *testing.T) {
	f, mr := newRedisFeed(t)

	sub, err := f.Subscribe(context.Background(), "u1")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, open := <-sub.Updates()
	assert.False(t, open)
	assert.Eventually(t, func() bool {
		return mr.PubSubNumSub(Channel("u1"))[Channel("u1")] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisFeedSubscribeFailsWithoutServer(t *testing.T) {
	f, mr := newRedisFeed(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.Subscribe(ctx, "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), Channel("u1"))
}

func TestRedisFeedPublishSkipsEmptySnapshots(t *testing.T) {
	f, mr := newRedisFeed(t)
	mr.Close()

	assert.NoError(t, f.Publish(context.Background(), "u1", nil))
	assert.Error(t, f.Publish(context.Background(), "u1", []models.ImageRecord{{ID: "r1"}}))
}
