package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	hub := NewHub()
	hub.Publish("tenant-a", EventSaleCreated, nil)

	sub, backlog, err := hub.Subscribe("tenant-a")
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, backlog)
}

func TestSubscriberReceivesOnlyOwnTenant(t *testing.T) {
	hub := NewHub()
	subA, _, err := hub.Subscribe("tenant-a")
	require.NoError(t, err)
	defer subA.Close()
	subB, _, err := hub.Subscribe("tenant-b")
	require.NoError(t, err)
	defer subB.Close()

	hub.Publish("tenant-a", EventInventoryUpdated, map[string]any{"productId": "1"})

	select {
	case ev := <-subA.Events():
		assert.Equal(t, EventInventoryUpdated, ev.Type)
		assert.Equal(t, "tenant-a", ev.TenantID)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("expected event for tenant-a")
	}

	select {
	case ev := <-subB.Events():
		t.Fatalf("unexpected event for tenant-b: %+v", ev)
	default:
	}
}

func TestBacklogIsBoundedAndSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("tenant-a")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < DefaultBufferSize+10; i++ {
		hub.Publish("tenant-a", EventSaleCreated, nil)
	}

	late, backlog, err := hub.Subscribe("tenant-a")
	require.NoError(t, err)
	defer late.Close()
	assert.Len(t, backlog, DefaultBufferSize)
	assert.Len(t, sub.Events(), DefaultSubscriberBuffer)
}

func TestSubscribeValidation(t *testing.T) {
	var nilHub *Hub
	_, _, err := nilHub.Subscribe("tenant-a")
	assert.ErrorIs(t, err, ErrHubUnavailable)

	_, _, err = NewHub().Subscribe(" ")
	assert.ErrorIs(t, err, ErrInvalidTenant)
}
