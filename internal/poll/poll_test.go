package poll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSleep(calls *int) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*calls++
		return nil
	}
}

func TestUntilSatisfiedOnNthPoll(t *testing.T) {
	var sleeps int
	checks := 0
	ok, err := Until(context.Background(), Config{
		Interval: time.Second,
		Ceiling:  180 * time.Second,
		Sleep:    fakeSleep(&sleeps),
	}, func() bool {
		checks++
		return checks == 5
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, checks)
	assert.Equal(t, 5, sleeps)
}

func TestUntilExhaustsCeiling(t *testing.T) {
	var sleeps int
	checks := 0
	ok, err := Until(context.Background(), Config{
		Interval: time.Second,
		Ceiling:  180 * time.Second,
		Sleep:    fakeSleep(&sleeps),
	}, func() bool {
		checks++
		return false
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 180, checks, "must poll exactly ceiling/interval times")
}

func TestUntilContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := Until(ctx, Config{
		Interval: time.Second,
		Ceiling:  10 * time.Second,
	}, func() bool { return true })
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntilProgressCallback(t *testing.T) {
	var sleeps int
	var progress []time.Duration
	_, err := Until(context.Background(), Config{
		Interval:      time.Second,
		Ceiling:       90 * time.Second,
		ProgressEvery: 30 * time.Second,
		OnProgress:    func(e time.Duration) { progress = append(progress, e) },
		Sleep:         fakeSleep(&sleeps),
	}, func() bool { return false })
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second}, progress)
}
