package relay

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/goevery/chatwatch/internal/wire"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader
	registry Registry
	router   *Router
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	registry Registry,
	router *Router,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		registry,
		router,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/websocket", s.serve)
}

func (s *WebSocketServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionId, err := gonanoid.New()
	if err != nil {
		s.logger.Error("failed to generate connection id", zap.Error(err))
		conn.Close()
		return
	}

	connection := NewConnection(connectionId)
	logger := s.logger.With(zap.String("connectionId", connectionId))

	logger.Info("websocket connection established")

	conn.SetReadLimit(64 * 1024)

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()

		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	defer close(done)

	go s.writePump(connection, write, done, logger)

	for {
		var request wire.Request
		if err := conn.ReadJSON(&request); err != nil {
			break
		}

		response := s.router.Route(connection, request)
		if response == nil {
			continue
		}

		if err := write(*response); err != nil {
			break
		}
	}

	s.registry.Disconnect(connection.Id)
	conn.Close()

	logger.Info("websocket connection closed")
}

// writePump forwards broadcast messages from the registry to the socket. It
// ends when the registry closes the send channel or the connection handler
// returns.
func (s *WebSocketServer) writePump(
	connection *Connection,
	write func(v any) error,
	done <-chan struct{},
	logger *zap.Logger,
) {
	for {
		select {
		case <-done:
			return
		case message, ok := <-connection.Send:
			if !ok {
				return
			}

			rawJson, err := json.Marshal(message)
			if err != nil {
				logger.Error("failed to encode broadcast", zap.Error(err))
				continue
			}

			params := json.RawMessage(rawJson)
			err = write(wire.Request{
				Method: "broadcast",
				Params: &params,
			})
			if err != nil {
				logger.Debug("failed to write broadcast", zap.Error(err))
				return
			}
		}
	}
}
