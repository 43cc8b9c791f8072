package subscription

import (
	"testing"

	"github.com/goevery/chatwatch/internal/ierr"
	"github.com/stretchr/testify/assert"
)

func TestNewTopic(t *testing.T) {
	t.Run("community topic", func(t *testing.T) {
		topic, err := NewTopic("gophers", "")

		assert.NoError(t, err)
		assert.False(t, topic.IsZero())
		assert.Equal(t, "community:gophers", topic.String())
	})

	t.Run("conversation topic", func(t *testing.T) {
		topic, err := NewTopic("", "alice-bob")

		assert.NoError(t, err)
		assert.Equal(t, "conversation:alice-bob", topic.String())
	})

	t.Run("both identifiers rejected", func(t *testing.T) {
		topic, err := NewTopic("gophers", "alice-bob")

		assert.Error(t, err)
		assert.True(t, topic.IsZero())
		assert.IsType(t, ierr.Error{}, err)
		assert.Equal(t, ierr.ErrorCodeInvalidArgument, err.(ierr.Error).Code)
	})

	t.Run("neither identifier rejected", func(t *testing.T) {
		topic, err := NewTopic("", "")

		assert.Error(t, err)
		assert.True(t, topic.IsZero())
		assert.IsType(t, ierr.Error{}, err)
		assert.Equal(t, ierr.ErrorCodeInvalidArgument, err.(ierr.Error).Code)
	})
}
