package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goevery/chatwatch/internal/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultReadTimeout       = 60 * time.Second
	setupTimeout             = 10 * time.Second
)

type WebSocketConfig struct {
	// URL of the relay websocket endpoint, e.g. ws://host/relay/websocket.
	URL string

	// Token is sent in an auth request right after dialing. Empty skips
	// authentication, for relays that run without it.
	Token string

	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
}

// WebSocketProvider opens one websocket connection per channel against a
// relay and translates transport conditions into channel statuses.
type WebSocketProvider struct {
	logger    *zap.Logger
	cfg       WebSocketConfig
	dialer    *websocket.Dialer
	onMessage MessageFunc
}

// NewWebSocketProvider builds a provider for the relay at cfg.URL. onMessage
// may be nil when broadcast payloads are not needed.
func NewWebSocketProvider(
	logger *zap.Logger,
	cfg WebSocketConfig,
	onMessage MessageFunc,
) *WebSocketProvider {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	return &WebSocketProvider{
		logger:    logger,
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		onMessage: onMessage,
	}
}

type wsHandle struct {
	topic string
	conn  *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

func (h *wsHandle) Topic() string {
	return h.topic
}

func (h *wsHandle) write(v any) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	return h.conn.WriteJSON(v)
}

// frame is the union of the request and response shapes the relay speaks,
// so the read loop can decode either.
type frame struct {
	Id        string           `json:"id,omitempty"`
	Method    string           `json:"method,omitempty"`
	Params    *json.RawMessage `json:"params,omitempty"`
	RequestId string           `json:"requestId,omitempty"`
	Result    *json.RawMessage `json:"result,omitempty"`
	Error     *wire.Error      `json:"error,omitempty"`
}

type authParams struct {
	Token string `json:"token"`
}

type subscribeParams struct {
	Channel string `json:"channel"`
}

func (p *WebSocketProvider) Open(ctx context.Context, topic string, onStatus StatusFunc) (Handle, error) {
	conn, _, err := p.dialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	handle := &wsHandle{
		topic: topic,
		conn:  conn,
		done:  make(chan struct{}),
	}

	if p.cfg.Token != "" {
		err = p.roundTrip(handle, "auth", authParams{Token: p.cfg.Token})
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	err = p.roundTrip(handle, "subscribe", subscribeParams{Channel: topic})
	if err != nil {
		conn.Close()
		return nil, err
	}

	p.logger.Debug("channel subscribed", zap.String("topic", topic))

	go p.readLoop(handle, onStatus)
	go p.heartbeatLoop(handle, onStatus)

	onStatus(StatusSubscribed)

	return handle, nil
}

func (p *WebSocketProvider) Close(handle Handle) error {
	h, ok := handle.(*wsHandle)
	if !ok {
		return errors.New("handle was not opened by this provider")
	}

	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.done)

		h.writeMu.Lock()
		h.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		h.writeMu.Unlock()

		h.conn.Close()
	})

	return nil
}

// roundTrip performs one synchronous request/response exchange during setup,
// before the read loop owns the connection.
func (p *WebSocketProvider) roundTrip(h *wsHandle, method string, params any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	paramsMsg := json.RawMessage(rawParams)

	err = h.write(wire.Request{
		Id:     method,
		Method: method,
		Params: &paramsMsg,
	})
	if err != nil {
		return err
	}

	h.conn.SetReadDeadline(time.Now().Add(setupTimeout))

	var response wire.Response
	err = h.conn.ReadJSON(&response)
	if err != nil {
		return err
	}

	if response.IsFailure() {
		return *response.Error
	}

	return nil
}

func (p *WebSocketProvider) readLoop(h *wsHandle, onStatus StatusFunc) {
	for {
		h.conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))

		var f frame
		err := h.conn.ReadJSON(&f)
		if err != nil {
			if h.closed.Load() {
				return
			}

			status := classifyReadError(err)
			p.logger.Debug("channel read failed",
				zap.String("topic", h.topic),
				zap.String("status", string(status)),
				zap.Error(err))

			onStatus(status)
			return
		}

		if f.Method == "broadcast" && f.Params != nil && p.onMessage != nil {
			var message Message
			if err := json.Unmarshal(*f.Params, &message); err != nil {
				p.logger.Warn("malformed broadcast", zap.Error(err))
				continue
			}

			p.onMessage(message)
		}
	}
}

func (p *WebSocketProvider) heartbeatLoop(h *wsHandle, onStatus StatusFunc) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			err := h.write(wire.Request{Method: "heartbeat"})
			if err != nil {
				if h.closed.Load() {
					return
				}

				p.logger.Debug("heartbeat failed",
					zap.String("topic", h.topic),
					zap.Error(err))

				onStatus(StatusChannelError)
				return
			}
		}
	}
}

func classifyReadError(err error) Status {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return StatusClosed
		}
		return StatusChannelError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimedOut
	}

	return StatusChannelError
}
