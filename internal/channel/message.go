package channel

import (
	"encoding/json"
	"time"
)

// Message is a broadcast delivered on an open channel.
type Message struct {
	Id         string          `json:"id"`
	CreateTime time.Time       `json:"createTime"`
	Channel    string          `json:"channel"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

// MessageFunc receives broadcast messages from an open channel.
type MessageFunc func(message Message)
