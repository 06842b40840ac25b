package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, found, err := Fetch(context.Background(), Policy{Attempts: 3, InitialDelay: time.Millisecond},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("not yet")
			}
			return "profile", nil
		})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "profile", v)
	assert.Equal(t, 3, calls)
}

func TestFetch_GivesUpAsAbsent(t *testing.T) {
	calls := 0
	start := time.Now()
	v, found, err := Fetch(context.Background(), Policy{Attempts: 3, InitialDelay: 5 * time.Millisecond},
		func(context.Context) (*int, error) {
			calls++
			return nil, errors.New("missing")
		})

	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
	assert.Equal(t, 3, calls)
	// 5ms then 10ms between the three attempts
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestFetch_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, found, err := Fetch(ctx, Policy{Attempts: 5, InitialDelay: time.Second},
		func(context.Context) (int, error) { return 0, errors.New("down") })

	assert.False(t, found)
	assert.ErrorIs(t, err, context.Canceled)
}
