package subscription

import (
	"errors"

	"github.com/goevery/chatwatch/internal/ierr"
)

type topicKind string

const (
	topicKindCommunity    topicKind = "community"
	topicKindConversation topicKind = "conversation"
)

// Topic identifies the realtime target a controller keeps alive: either a
// community's chat or a direct conversation, never both.
type Topic struct {
	kind topicKind
	id   string
}

// NewTopic derives a Topic from exactly one of communityID or conversationID.
// Supplying both or neither is a programming error and fails immediately.
func NewTopic(communityID string, conversationID string) (Topic, error) {
	switch {
	case communityID != "" && conversationID != "":
		return Topic{}, ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("communityID and conversationID are mutually exclusive"))
	case communityID != "":
		return Topic{kind: topicKindCommunity, id: communityID}, nil
	case conversationID != "":
		return Topic{kind: topicKindConversation, id: conversationID}, nil
	default:
		return Topic{}, ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("either communityID or conversationID is required"))
	}
}

func (t Topic) IsZero() bool {
	return t.kind == "" && t.id == ""
}

// String returns the relay channel name for the topic.
func (t Topic) String() string {
	return string(t.kind) + ":" + t.id
}
