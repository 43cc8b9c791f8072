package relay

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goevery/chatwatch/internal/auth"
	"github.com/goevery/chatwatch/internal/wire"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestRelay(t *testing.T, secret string) (*httptest.Server, string, *InMemoryRegistry) {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	registry := NewInMemoryRegistry(logger)

	var authenticator *auth.Authenticator
	if secret != "" {
		authenticator = auth.NewAuthenticator(secret, []string{"test-api-key"})
	}

	router := NewRouter(logger, authenticator, registry)
	wsServer := NewWebSocketServer(logger, &websocket.Upgrader{}, registry, router)

	mainRouter := mux.NewRouter()
	wsServer.Register(mainRouter)

	server := httptest.NewServer(mainRouter)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	assert.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/websocket"

	return server, u.String(), registry
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, request string) wire.Response {
	t.Helper()

	err := conn.WriteMessage(websocket.TextMessage, []byte(request))
	assert.NoError(t, err)

	var response wire.Response
	conn.SetReadDeadline(time.Now().Add(time.Second))
	err = conn.ReadJSON(&response)
	assert.NoError(t, err)

	return response
}

func TestWebSocketServer_WithoutAuth(t *testing.T) {
	_, wsURL, registry := newTestRelay(t, "")

	t.Run("heartbeat", func(t *testing.T) {
		conn := dial(t, wsURL)

		response := roundTrip(t, conn, `{"id":"1","method":"heartbeat"}`)

		assert.Nil(t, response.Error)
		var payload HeartbeatResponse
		assert.NoError(t, json.Unmarshal(*response.Result, &payload))
		assert.WithinDuration(t, time.Now(), payload.Timestamp, time.Minute)
	})

	t.Run("subscribe and receive broadcast", func(t *testing.T) {
		conn := dial(t, wsURL)

		response := roundTrip(t, conn, `{"id":"1","method":"subscribe","params":{"channel":"community:general"}}`)
		assert.Nil(t, response.Error)

		var payload SubscribeResponse
		assert.NoError(t, json.Unmarshal(*response.Result, &payload))
		assert.NotEmpty(t, payload.SubscriptionId)

		message, err := NewMessage("community:general", "message", json.RawMessage(`{"body":"hello"}`))
		assert.NoError(t, err)
		registry.Broadcast(message)

		var broadcast wire.Request
		conn.SetReadDeadline(time.Now().Add(time.Second))
		assert.NoError(t, conn.ReadJSON(&broadcast))
		assert.Equal(t, "broadcast", broadcast.Method)

		var received Message
		assert.NoError(t, json.Unmarshal(*broadcast.Params, &received))
		assert.Equal(t, message.Id, received.Id)
		assert.Equal(t, "community:general", received.Channel)
	})

	t.Run("publish reaches subscribers", func(t *testing.T) {
		subscriber := dial(t, wsURL)
		publisher := dial(t, wsURL)

		response := roundTrip(t, subscriber, `{"id":"1","method":"subscribe","params":{"channel":"conversation:alice-bob"}}`)
		assert.Nil(t, response.Error)

		response = roundTrip(t, publisher, `{"id":"2","method":"publish","params":{"channel":"conversation:alice-bob","payload":{"body":"hi"}}}`)
		assert.Nil(t, response.Error)

		var broadcast wire.Request
		subscriber.SetReadDeadline(time.Now().Add(time.Second))
		assert.NoError(t, subscriber.ReadJSON(&broadcast))
		assert.Equal(t, "broadcast", broadcast.Method)
	})

	t.Run("invalid channel name", func(t *testing.T) {
		conn := dial(t, wsURL)

		response := roundTrip(t, conn, `{"id":"1","method":"subscribe","params":{"channel":"not-a-topic"}}`)

		assert.NotNil(t, response.Error)
		assert.Equal(t, "InvalidArgument", response.Error.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		conn := dial(t, wsURL)

		response := roundTrip(t, conn, `{"id":"1","method":"bogus"}`)

		assert.NotNil(t, response.Error)
		assert.Equal(t, "NotFound", response.Error.Code)
	})
}

func TestWebSocketServer_WithAuth(t *testing.T) {
	_, wsURL, _ := newTestRelay(t, "test-secret")

	signToken := func(scope []string, topics []string) string {
		claims := jwt.MapClaims{
			"sub":              "test-user",
			"exp":              time.Now().Add(time.Hour).Unix(),
			"iat":              time.Now().Unix(),
			"aud":              "chatwatch",
			"authorizedTopics": topics,
			"scope":            scope,
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tokenString, err := token.SignedString([]byte("test-secret"))
		assert.NoError(t, err)

		return tokenString
	}

	authenticate := func(t *testing.T, conn *websocket.Conn, token string) wire.Response {
		t.Helper()

		raw, err := json.Marshal(AuthRequest{Token: token})
		assert.NoError(t, err)

		return roundTrip(t, conn, `{"id":"auth","method":"auth","params":`+string(raw)+`}`)
	}

	t.Run("subscribe without auth rejected", func(t *testing.T) {
		conn := dial(t, wsURL)

		response := roundTrip(t, conn, `{"id":"1","method":"subscribe","params":{"channel":"community:general"}}`)

		assert.NotNil(t, response.Error)
		assert.Equal(t, "Unauthenticated", response.Error.Code)
	})

	t.Run("subscribe with authorized topic", func(t *testing.T) {
		conn := dial(t, wsURL)

		response := authenticate(t, conn, signToken([]string{"subscribe"}, []string{"community:general"}))
		assert.Nil(t, response.Error)

		response = roundTrip(t, conn, `{"id":"2","method":"subscribe","params":{"channel":"community:general"}}`)
		assert.Nil(t, response.Error)
	})

	t.Run("subscribe to unauthorized topic rejected", func(t *testing.T) {
		conn := dial(t, wsURL)

		response := authenticate(t, conn, signToken([]string{"subscribe"}, []string{"community:other"}))
		assert.Nil(t, response.Error)

		response = roundTrip(t, conn, `{"id":"2","method":"subscribe","params":{"channel":"community:general"}}`)
		assert.NotNil(t, response.Error)
		assert.Equal(t, "PermissionDenied", response.Error.Code)
	})

	t.Run("subscribe without subscribe scope rejected", func(t *testing.T) {
		conn := dial(t, wsURL)

		response := authenticate(t, conn, signToken([]string{"publish"}, []string{"community:general"}))
		assert.Nil(t, response.Error)

		response = roundTrip(t, conn, `{"id":"2","method":"subscribe","params":{"channel":"community:general"}}`)
		assert.NotNil(t, response.Error)
		assert.Equal(t, "PermissionDenied", response.Error.Code)
	})

	t.Run("api key may publish anywhere", func(t *testing.T) {
		conn := dial(t, wsURL)

		response := authenticate(t, conn, "test-api-key")
		assert.Nil(t, response.Error)

		response = roundTrip(t, conn, `{"id":"2","method":"publish","params":{"channel":"community:general","payload":{"body":"hi"}}}`)
		assert.Nil(t, response.Error)

		var message Message
		assert.NoError(t, json.Unmarshal(*response.Result, &message))
		assert.NotEmpty(t, message.Id)
		assert.Equal(t, "message", message.Event)
	})
}
