package sim

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_FiresAfterDelay(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var fired atomic.Int32
	task := s.After(2*time.Second, func() { fired.Add(1) })
	assert.Equal(t, 1, s.Pending())

	mock.Add(1999 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, task.Done())

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, task.Done())
	assert.Equal(t, 0, s.Pending())

	// Already fired: cancel is a no-op.
	assert.False(t, task.Cancel())
}

func TestScheduler_CancelPreventsCallback(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var fired atomic.Int32
	task := s.After(time.Second, func() { fired.Add(1) })

	assert.True(t, task.Cancel())
	assert.False(t, task.Cancel())
	assert.Equal(t, 0, s.Pending())

	mock.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestScheduler_CloseCancelsPendingAndRejectsNew(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var fired atomic.Int32
	s.After(time.Second, func() { fired.Add(1) })
	s.After(2*time.Second, func() { fired.Add(1) })
	require.Equal(t, 2, s.Pending())

	s.Close()
	assert.Equal(t, 0, s.Pending())

	late := s.After(time.Second, func() { fired.Add(1) })
	assert.True(t, late.Done())

	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestScheduler_NilClockUsesWallTime(t *testing.T) {
	s := NewScheduler(nil)

	done := make(chan struct{})
	s.After(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
}

func TestWeightedOutcome(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		draw float64
		want bool
	}{
		{"high draw succeeds", 0.9, 0.5, true},
		{"draw just under threshold fails", 0.9, 0.09, false},
		{"low draw fails", 0.9, 0.05, false},
		{"eighty percent", 0.8, 0.21, true},
		{"always", 1, 0, true},
		{"never", 0, 0.99, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewSequenceSource([]float64{tt.draw}, nil)
			o := WeightedOutcome{Source: src, Rate: tt.rate}
			assert.Equal(t, tt.want, o.Succeeds("node status"))
		})
	}
}

func TestWeightedOutcome_RandomRate(t *testing.T) {
	o := WeightedOutcome{Source: NewRandomSource(7), Rate: 0.9}

	successes := 0
	for i := 0; i < 10000; i++ {
		if o.Succeeds("x") {
			successes++
		}
	}
	assert.InDelta(t, 9000, successes, 300)
}

func TestSequenceSource_Cycles(t *testing.T) {
	src := NewSequenceSource([]float64{0.1, 0.2}, []int{3, 61, -4})

	assert.Equal(t, 0.1, src.Float64())
	assert.Equal(t, 0.2, src.Float64())
	assert.Equal(t, 0.1, src.Float64())

	assert.Equal(t, 3, src.Intn(50))
	assert.Equal(t, 11, src.Intn(50))
	assert.Equal(t, 4, src.Intn(50))
	assert.Equal(t, 0, src.Intn(0))
}

func TestFixedOutcome(t *testing.T) {
	assert.True(t, FixedOutcome(true).Succeeds("a"))
	assert.False(t, FixedOutcome(false).Succeeds("a"))
}
