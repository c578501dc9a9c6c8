package distributed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"facestream/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEventBus_DeliversOtherInstancesOnly(t *testing.T) {
	client := newTestClient(t)
	log := zaptest.NewLogger(t).Sugar()

	local := NewEventBus(client, "node-a", "", log)
	remote := NewEventBus(client, "node-b", "", log)

	var (
		mu       sync.Mutex
		received []domain.Event
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- local.Subscribe(ctx, func(e *domain.Event) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, *e)
			return nil
		})
	}()

	select {
	case <-local.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ready")
	}

	require.NoError(t, local.Publish(ctx, &domain.Event{Type: domain.EventCameraOpened, CameraID: 1}))
	require.NoError(t, remote.Publish(ctx, &domain.Event{Type: domain.EventCameraOpened, CameraID: 2}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, domain.CameraID(2), received[0].CameraID)
	assert.Equal(t, "node-b", received[0].InstanceID)
	assert.False(t, received[0].Timestamp.IsZero())
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}

func TestEventBus_PublishesJSON(t *testing.T) {
	client := newTestClient(t)
	bus := NewEventBus(client, "node-a", "custom:channel", zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	sub := client.Subscribe(ctx, "custom:channel")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, &domain.Event{
		Type:      domain.EventSessionEnded,
		CameraID:  4,
		SessionID: "s-1",
		Reason:    "disconnected",
	}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var event domain.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, domain.EventSessionEnded, event.Type)
	assert.Equal(t, "node-a", event.InstanceID)
	assert.Equal(t, "disconnected", event.Reason)
}

func TestClusterView(t *testing.T) {
	view := NewClusterView()
	at := time.Unix(1_700_000_000, 0)

	events := []domain.Event{
		{Type: domain.EventCameraOpened, InstanceID: "b", CameraID: 2, Timestamp: at},
		{Type: domain.EventCameraOpened, InstanceID: "a", CameraID: 7, Timestamp: at},
		{Type: domain.EventSessionStarted, InstanceID: "a", CameraID: 7},
		{Type: domain.EventSessionStarted, InstanceID: "a", CameraID: 7},
		{Type: domain.EventSessionEnded, InstanceID: "a", CameraID: 7},
	}
	for i := range events {
		require.NoError(t, view.HandleEvent(&events[i]))
	}

	snap := view.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].InstanceID)
	assert.Equal(t, 1, snap[0].Sessions)
	assert.Equal(t, at, snap[1].OpenedAt)

	require.NoError(t, view.HandleEvent(&domain.Event{Type: domain.EventCameraClosed, InstanceID: "a", CameraID: 7}))
	require.NoError(t, view.HandleEvent(&domain.Event{Type: domain.EventCameraClosed, InstanceID: "b", CameraID: 2}))
	assert.Empty(t, view.Snapshot())
}
