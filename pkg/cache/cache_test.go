package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestCache_SetGetExpire(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCache[int](time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.SetWithTTL("b", 2, 10*time.Millisecond)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("b")
		return !ok
	}, time.Second, 5*time.Millisecond)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	c.removeExpired()
	assert.Equal(t, 0, c.Size())
}

func TestCache_GetOrLoad(t *testing.T) {
	c := NewCache[string](time.Minute)
	defer c.Stop()

	calls := 0
	load := func(context.Context) (string, error) {
		calls++
		return "loaded", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", load)
		require.NoError(t, err)
		assert.Equal(t, "loaded", v)
	}
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err := c.GetOrLoad(context.Background(), "bad", func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get("bad")
	assert.False(t, ok, "errors are not cached")
}

func TestCache_StopTwice(t *testing.T) {
	c := NewCache[int](time.Second)
	c.Stop()
	assert.NotPanics(t, c.Stop)
}
