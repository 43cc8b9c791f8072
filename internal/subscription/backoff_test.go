package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	policy := DefaultBackoffPolicy()

	t.Run("doubles per attempt", func(t *testing.T) {
		assert.Equal(t, 100*time.Millisecond, policy.Delay(0))
		assert.Equal(t, 200*time.Millisecond, policy.Delay(1))
		assert.Equal(t, 400*time.Millisecond, policy.Delay(2))
		assert.Equal(t, 800*time.Millisecond, policy.Delay(3))
	})

	t.Run("caps at max delay", func(t *testing.T) {
		assert.Equal(t, 8*time.Second, policy.Delay(7))
		assert.Equal(t, 8*time.Second, policy.Delay(20))
		assert.Equal(t, 8*time.Second, policy.Delay(1000))
	})

	t.Run("monotonically non-decreasing", func(t *testing.T) {
		for attempt := 0; attempt < 64; attempt++ {
			assert.LessOrEqual(t, policy.Delay(attempt), policy.Delay(attempt+1))
			assert.LessOrEqual(t, policy.Delay(attempt), policy.Max)
		}
	})

	t.Run("negative attempt behaves like first retry", func(t *testing.T) {
		assert.Equal(t, policy.Delay(0), policy.Delay(-3))
	})
}
