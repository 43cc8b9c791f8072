package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/goevery/chatwatch/internal/channel"
	"github.com/goevery/chatwatch/internal/subscription"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// The full client stack against a live relay: controller, websocket provider
// and relay server, including recovery after the relay drops the connection.
func TestSubscriptionEndToEnd(t *testing.T) {
	server, wsURL, registry := newTestRelay(t, "")

	logger, _ := zap.NewDevelopment()

	messages := make(chan channel.Message, 16)
	provider := channel.NewWebSocketProvider(
		logger,
		channel.WebSocketConfig{URL: wsURL},
		func(message channel.Message) {
			messages <- message
		},
	)

	var mu sync.Mutex
	var forwarded []string
	countForwarded := func(status string) int {
		mu.Lock()
		defer mu.Unlock()

		count := 0
		for _, s := range forwarded {
			if s == status {
				count++
			}
		}
		return count
	}

	topic, err := subscription.NewTopic("general", "")
	assert.NoError(t, err)

	controller := subscription.NewController(
		logger,
		provider,
		topic,
		subscription.Config{
			Backoff: subscription.BackoffPolicy{
				Base: 20 * time.Millisecond,
				Max:  160 * time.Millisecond,
			},
		},
		func(status string, connecting bool) {
			mu.Lock()
			forwarded = append(forwarded, status)
			mu.Unlock()
		},
	)

	err = controller.Start(context.Background())
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return controller.State() == subscription.StateSubscribed
	}, 5*time.Second, 10*time.Millisecond)

	message, err := NewMessage("community:general", "message", json.RawMessage(`{"body":"welcome"}`))
	assert.NoError(t, err)
	registry.Broadcast(message)

	select {
	case received := <-messages:
		assert.Equal(t, message.Id, received.Id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}

	// Drop every live connection; the controller must notice and resubscribe
	// on its own.
	server.CloseClientConnections()

	assert.Eventually(t, func() bool {
		return countForwarded("SUBSCRIBED") >= 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return controller.State() == subscription.StateSubscribed
	}, 5*time.Second, 10*time.Millisecond)

	// The fresh subscription receives broadcasts again.
	assert.Eventually(t, func() bool {
		again, err := NewMessage("community:general", "message", json.RawMessage(`{"body":"again"}`))
		assert.NoError(t, err)
		registry.Broadcast(again)

		select {
		case <-messages:
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	controller.Stop()
	assert.Equal(t, subscription.StateTornDown, controller.State())
}
