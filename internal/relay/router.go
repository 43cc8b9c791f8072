package relay

import (
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/goevery/chatwatch/internal/auth"
	"github.com/goevery/chatwatch/internal/ierr"
	"github.com/goevery/chatwatch/internal/wire"
	"go.uber.org/zap"
)

type HeartbeatResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

type AuthRequest struct {
	Token string `json:"token"`
}

type AuthResponse struct {
	Success bool   `json:"success"`
	Subject string `json:"subject,omitempty"`
}

type SubscribeRequest struct {
	Channel string `json:"channel"`
}

type SubscribeResponse struct {
	SubscriptionId string    `json:"subscriptionId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

type UnsubscribeResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

type PublishRequest struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Router dispatches decoded wire requests for one connection. A nil
// authenticator disables the auth, scope and topic-authorization checks.
type Router struct {
	logger        *zap.Logger
	authenticator *auth.Authenticator
	registry      Registry
	channelRegex  *regexp.Regexp
}

func NewRouter(
	logger *zap.Logger,
	authenticator *auth.Authenticator,
	registry Registry,
) *Router {
	return &Router{
		logger:        logger,
		authenticator: authenticator,
		registry:      registry,
		channelRegex:  regexp.MustCompile(`^(community|conversation):[\w-]+$`),
	}
}

func (r *Router) Route(connection *Connection, request wire.Request) *wire.Response {
	result, err := r.handle(connection, request)

	if !request.ReplyExpected() {
		if err != nil {
			r.logger.Warn("notification failed",
				zap.String("method", request.Method),
				zap.Error(err))
		}
		return nil
	}

	if err != nil {
		response := request.ReplyWithError(r.mapError(err))
		return &response
	}

	rawJson, err := json.Marshal(result)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))
		return &response
	}

	payload := json.RawMessage(rawJson)
	response := request.Reply(&payload)

	return &response
}

func (r *Router) handle(connection *Connection, request wire.Request) (any, error) {
	switch request.Method {
	case "heartbeat":
		return HeartbeatResponse{Timestamp: time.Now()}, nil
	case "auth":
		var authReq AuthRequest
		if err := decodeParams(request.Params, &authReq); err != nil {
			return nil, err
		}

		return r.handleAuth(connection, authReq)
	case "subscribe":
		var subscribeReq SubscribeRequest
		if err := decodeParams(request.Params, &subscribeReq); err != nil {
			return nil, err
		}

		return r.handleSubscribe(connection, subscribeReq)
	case "unsubscribe":
		var unsubscribeReq UnsubscribeRequest
		if err := decodeParams(request.Params, &unsubscribeReq); err != nil {
			return nil, err
		}

		return r.handleUnsubscribe(connection, unsubscribeReq)
	case "publish":
		var publishReq PublishRequest
		if err := decodeParams(request.Params, &publishReq); err != nil {
			return nil, err
		}

		return r.handlePublish(connection, publishReq)
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("method not found: "+request.Method))
	}
}

func (r *Router) handleAuth(connection *Connection, req AuthRequest) (AuthResponse, error) {
	if r.authenticator == nil {
		return AuthResponse{}, ierr.New(ierr.ErrorCodeUnavailable,
			errors.New("authentication is not enabled"))
	}

	authentication, err := r.authenticator.AuthenticateJWT(req.Token)
	if err != nil {
		authentication, err = r.authenticator.AuthenticateAPIKey(req.Token)
	}
	if err != nil {
		return AuthResponse{}, err
	}

	connection.SetAuthentication(authentication)

	return AuthResponse{
		Success: true,
		Subject: authentication.Subject,
	}, nil
}

func (r *Router) handleSubscribe(connection *Connection, req SubscribeRequest) (SubscribeResponse, error) {
	if err := r.validateChannel(req.Channel); err != nil {
		return SubscribeResponse{}, err
	}

	if r.authenticator != nil {
		authentication := connection.GetAuthentication()
		if authentication == nil {
			return SubscribeResponse{},
				ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
		}

		if !authentication.IsSubscriber() {
			return SubscribeResponse{},
				ierr.New(ierr.ErrorCodePermissionDenied, errors.New("subscribe scope required"))
		}

		if !authentication.TopicAllowed(req.Channel) {
			return SubscribeResponse{},
				ierr.New(ierr.ErrorCodePermissionDenied, errors.New("not authorized for this channel"))
		}
	}

	if err := r.registry.Subscribe(req.Channel, connection); err != nil {
		return SubscribeResponse{}, ierr.New(ierr.ErrorCodeAlreadyExists, err)
	}

	return SubscribeResponse{
		SubscriptionId: connection.Id,
		Timestamp:      time.Now(),
	}, nil
}

func (r *Router) handleUnsubscribe(connection *Connection, req UnsubscribeRequest) (UnsubscribeResponse, error) {
	if err := r.validateChannel(req.Channel); err != nil {
		return UnsubscribeResponse{}, err
	}

	r.registry.Unsubscribe(req.Channel, connection.Id)

	return UnsubscribeResponse{Timestamp: time.Now()}, nil
}

func (r *Router) handlePublish(connection *Connection, req PublishRequest) (Message, error) {
	if err := r.validateChannel(req.Channel); err != nil {
		return Message{}, err
	}

	if r.authenticator != nil {
		authentication := connection.GetAuthentication()
		if authentication == nil {
			return Message{},
				ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
		}

		if !authentication.IsPublisher() {
			return Message{},
				ierr.New(ierr.ErrorCodePermissionDenied, errors.New("publish scope required"))
		}

		if !authentication.TopicAllowed(req.Channel) {
			return Message{},
				ierr.New(ierr.ErrorCodePermissionDenied, errors.New("not authorized for this channel"))
		}
	}

	event := req.Event
	if event == "" {
		event = "message"
	}

	message, err := NewMessage(req.Channel, event, req.Payload)
	if err != nil {
		return Message{}, err
	}

	r.registry.Broadcast(message)

	return message, nil
}

func (r *Router) validateChannel(channel string) error {
	if !r.channelRegex.MatchString(channel) {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid channel name"))
	}

	return nil
}

func (r *Router) mapError(err error) wire.Error {
	var coded ierr.Error
	if errors.As(err, &coded) {
		return wire.Error{
			Code:    string(coded.Code),
			Message: coded.Message,
		}
	}

	r.logger.Error("error in relay handler", zap.Error(err))

	return wire.Error{
		Code:    string(ierr.ErrorCodeInternal),
		Message: "internal error",
	}
}

func decodeParams(params *json.RawMessage, v any) error {
	if params == nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing params"))
	}

	if err := json.Unmarshal(*params, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid params: "+err.Error()))
	}

	return nil
}
