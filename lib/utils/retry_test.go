package utils

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestExponentialProgression(t *testing.T) {
	r, err := NewExponential(ExponentialConfig{
		Base:    100 * time.Millisecond,
		Retries: 4,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	var durations []time.Duration
	for !r.Exhausted() {
		durations = append(durations, r.Duration())
		r.attempt++
	}
	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, durations)
}

func TestExponentialCap(t *testing.T) {
	r, err := NewExponential(ExponentialConfig{
		Base:    time.Second,
		Retries: 10,
		Max:     2 * time.Second,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	r.attempt = 5
	require.Equal(t, 2*time.Second, r.Duration())
}

func TestExponentialExhaustion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r, err := NewExponential(ExponentialConfig{
		Base:    time.Millisecond,
		Retries: 1,
		Clock:   clock,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- r.Wait(context.Background())
	}()
	clock.BlockUntil(1)
	clock.Advance(time.Millisecond)
	require.NoError(t, <-done)

	err = r.Wait(context.Background())
	require.Error(t, err)
	require.True(t, trace.IsLimitExceeded(err))
}

func TestExponentialCancel(t *testing.T) {
	r, err := NewExponential(ExponentialConfig{
		Base:    time.Hour,
		Retries: 1,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, r.Wait(ctx))
}

func TestExponentialConfig(t *testing.T) {
	_, err := NewExponential(ExponentialConfig{Retries: 1})
	require.True(t, trace.IsBadParameter(err))
	_, err = NewExponential(ExponentialConfig{Base: time.Second})
	require.True(t, trace.IsBadParameter(err))
}
