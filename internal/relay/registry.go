package relay

import (
	"errors"
	"sync"

	"github.com/goevery/chatwatch/internal/auth"
	"go.uber.org/zap"
)

type Connection struct {
	Id   string
	Send chan Message

	mu             sync.RWMutex
	authentication *auth.Authentication
}

func NewConnection(id string) *Connection {
	return &Connection{
		Id:   id,
		Send: make(chan Message, 16),
	}
}

func (c *Connection) SetAuthentication(authentication *auth.Authentication) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.authentication = authentication
}

func (c *Connection) GetAuthentication() *auth.Authentication {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.authentication
}

type Registry interface {
	Broadcast(message Message)
	Subscribe(channel string, connection *Connection) error
	Unsubscribe(channel string, connectionId string)
	Disconnect(connectionId string)
}

// InMemoryRegistry tracks which connections are subscribed to which channels.
// A connection whose send buffer stays full is considered stale and is
// disconnected during the broadcast that noticed it.
type InMemoryRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	connections          map[string]*Connection
	connectionsByChannel map[string]map[string]struct{}
	channelsByConnection map[string]map[string]struct{}
}

func NewInMemoryRegistry(logger *zap.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger:               logger,
		connections:          make(map[string]*Connection),
		connectionsByChannel: make(map[string]map[string]struct{}),
		channelsByConnection: make(map[string]map[string]struct{}),
	}
}

func (r *InMemoryRegistry) Broadcast(message Message) {
	r.mu.RLock()

	var stale []string

	for connectionId := range r.connectionsByChannel[message.Channel] {
		connection, ok := r.connections[connectionId]
		if !ok {
			continue
		}

		select {
		case connection.Send <- message:
		default:
			r.logger.Warn("send buffer full, dropping connection",
				zap.String("connectionId", connection.Id))

			stale = append(stale, connection.Id)
		}
	}

	r.mu.RUnlock()

	if len(stale) == 0 {
		return
	}

	r.mu.Lock()
	for _, connectionId := range stale {
		r.disconnectLocked(connectionId)
	}
	r.mu.Unlock()
}

func (r *InMemoryRegistry) Subscribe(channel string, connection *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connectionsByChannel[channel]; !ok {
		r.connectionsByChannel[channel] = make(map[string]struct{})
	}

	if _, ok := r.connectionsByChannel[channel][connection.Id]; ok {
		return errors.New("connection already subscribed to channel")
	}

	r.connectionsByChannel[channel][connection.Id] = struct{}{}
	r.connections[connection.Id] = connection

	if _, ok := r.channelsByConnection[connection.Id]; !ok {
		r.channelsByConnection[connection.Id] = make(map[string]struct{})
	}

	r.channelsByConnection[connection.Id][channel] = struct{}{}

	return nil
}

func (r *InMemoryRegistry) Unsubscribe(channel string, connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels, ok := r.channelsByConnection[connectionId]
	if !ok {
		return
	}

	delete(channels, channel)
	if len(channels) == 0 {
		delete(r.channelsByConnection, connectionId)
		delete(r.connections, connectionId)
	}

	connections := r.connectionsByChannel[channel]
	delete(connections, connectionId)
	if len(connections) == 0 {
		delete(r.connectionsByChannel, channel)
	}
}

func (r *InMemoryRegistry) Disconnect(connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnectLocked(connectionId)
}

// disconnectLocked requires the write lock to be held.
func (r *InMemoryRegistry) disconnectLocked(connectionId string) {
	connection, ok := r.connections[connectionId]
	if !ok {
		return
	}

	for channel := range r.channelsByConnection[connectionId] {
		connections := r.connectionsByChannel[channel]
		delete(connections, connectionId)
		if len(connections) == 0 {
			delete(r.connectionsByChannel, channel)
		}
	}

	delete(r.channelsByConnection, connectionId)
	delete(r.connections, connectionId)
	close(connection.Send)
}
