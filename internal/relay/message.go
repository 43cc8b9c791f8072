// Package relay is a lightweight realtime relay: websocket clients subscribe
// to topic channels and receive everything published on them. It is the
// in-process stand-in for the hosted realtime backend, used by the demo
// binary and the integration tests.
package relay

import (
	"encoding/json"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Message struct {
	Id         string          `json:"id"`
	CreateTime time.Time       `json:"createTime"`
	Channel    string          `json:"channel"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

func NewMessage(channel string, event string, payload json.RawMessage) (Message, error) {
	id, err := gonanoid.New()
	if err != nil {
		return Message{}, err
	}

	return Message{
		Id:         id,
		CreateTime: time.Now(),
		Channel:    channel,
		Event:      event,
		Payload:    payload,
	}, nil
}
