package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facesync/internal/models"
)

func TestHubDeliversToSameScopeOnly(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	subA, err := hub.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := hub.Subscribe(ctx, "u2")
	require.NoError(t, err)
	defer subB.Close()

	rec := models.ImageRecord{ID: "r1", UserID: "u1", Kind: models.ImageKindOriginal}
	require.NoError(t, hub.Publish(ctx, "u1", []models.ImageRecord{rec}))

	select {
	case got := <-subA.Updates():
		assert.Equal(t, []models.ImageRecord{rec}, got)
	case <-time.After(time.Second):
		t.Fatal("u1 subscriber got nothing")
	}

	select {
	case got := <-subB.Updates():
		t.Fatalf("u2 subscriber received %v", got)
	default:
	}
}

func TestHubCloseTearsDown(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers("u1"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, hub.Subscribers("u1"))

	_, open := <-sub.Updates()
	assert.False(t, open)

	assert.NoError(t, hub.Publish(context.Background(), "u1", []models.ImageRecord{{ID: "r1"}}))
}

func TestHubHoldsPublisherInsteadOfDropping(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()

	const total = updateBuffer + 14
	published := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			rec := models.ImageRecord{ID: fmt.Sprintf("r%02d", i), UserID: "u1"}
			if err := hub.Publish(ctx, "u1", []models.ImageRecord{rec}); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	// nobody reads yet, so the publisher stalls once the buffer is full
	select {
	case err := <-published:
		t.Fatalf("publisher finished early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < total; i++ {
		select {
		case got := <-sub.Updates():
			require.Len(t, got, 1)
			assert.Equal(t, fmt.Sprintf("r%02d", i), got[0].ID)
		case <-time.After(time.Second):
			t.Fatalf("snapshot %d never arrived", i)
		}
	}
	require.NoError(t, <-published)
}

func TestHubPublishReleasedByCloseOrContext(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(context.Background(), "u1")
	require.NoError(t, err)

	rec := []models.ImageRecord{{ID: "r1", UserID: "u1"}}
	for i := 0; i < updateBuffer; i++ {
		require.NoError(t, hub.Publish(context.Background(), "u1", rec))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, hub.Publish(ctx, "u1", rec), context.DeadlineExceeded)

	published := make(chan error, 1)
	go func() { published <- hub.Publish(context.Background(), "u1", rec) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sub.Close())

	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after close")
	}
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "gallery:u1", Channel("u1"))
}
