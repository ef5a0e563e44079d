package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)

func TestScheduler_PumpPastDue(t *testing.T) {
	s := New(DefaultConfig())

	var margin, settle []time.Time
	require.NoError(t, s.Add("margin", t0, 5*time.Minute, func(now time.Time) error {
		margin = append(margin, now)
		return nil
	}))
	require.NoError(t, s.Add("settle", t0.Add(30*time.Minute), 30*time.Minute, func(now time.Time) error {
		settle = append(settle, now)
		return nil
	}))
	assert.ErrorIs(t, s.Add("margin", t0, time.Minute, nil), ErrDuplicateAction)

	assert.Equal(t, 1, s.PumpPastDue(t0))
	assert.Equal(t, 0, s.PumpPastDue(t0.Add(time.Minute)))

	// 错过多个周期只补一次
	assert.Equal(t, 2, s.PumpPastDue(t0.Add(31*time.Minute)))
	assert.Len(t, margin, 2)
	assert.Len(t, settle, 1)

	next, ok := s.Next("margin")
	require.True(t, ok)
	assert.Equal(t, t0.Add(35*time.Minute), next)
}

func TestScheduler_OneShotAndRemove(t *testing.T) {
	s := New(DefaultConfig())
	calls := 0
	require.NoError(t, s.Add("once", t0, 0, func(time.Time) error { calls++; return nil }))
	require.NoError(t, s.Add("never", t0.Add(time.Hour), time.Hour, func(time.Time) error { return nil }))

	s.PumpPastDue(t0)
	s.PumpPastDue(t0.Add(time.Minute))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Remove("never"))
	assert.False(t, s.Remove("never"))
}

func TestScheduler_FailingActionKeepsSchedule(t *testing.T) {
	s := New(DefaultConfig())
	require.NoError(t, s.Add("panic", t0, time.Minute, func(time.Time) error { panic("boom") }))
	require.NoError(t, s.Add("err", t0, time.Minute, func(time.Time) error { return errors.New("nope") }))

	assert.Equal(t, 2, s.PumpPastDue(t0))
	assert.Equal(t, 2, s.PumpPastDue(t0.Add(time.Minute)))
}

func TestScheduler_BackgroundPoke(t *testing.T) {
	s := New(Config{PokeInterval: 5 * time.Millisecond})
	var n atomic.Int32
	require.NoError(t, s.Add("tick", time.Now().UTC(), time.Millisecond, func(time.Time) error {
		n.Add(1)
		return nil
	}))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, n.Load())
}
