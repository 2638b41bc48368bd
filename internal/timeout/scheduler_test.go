package timeout

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
)

func TestArmFiresAtDeadline(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	var fired atomic.Int32

	s.Arm("o1", mock.Now().Add(2*time.Minute), func() { fired.Add(1) })
	assert.True(t, s.Armed("o1"))

	mock.Add(time.Minute)
	assert.Equal(t, int32(0), fired.Load())

	mock.Add(time.Minute)
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, s.Armed("o1"), "fired entries are removed")
}

func TestRearmReplaces(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	var first, second atomic.Int32

	s.Arm("o1", mock.Now().Add(time.Minute), func() { first.Add(1) })
	mock.Add(30 * time.Second)
	s.Arm("o1", mock.Now().Add(time.Minute), func() { second.Add(1) })

	d, ok := s.Deadline("o1")
	assert.True(t, ok)
	assert.Equal(t, mock.Now().Add(time.Minute), d)

	mock.Add(45 * time.Second)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(0), second.Load())

	mock.Add(15 * time.Second)
	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestDisarm(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	var fired atomic.Int32

	s.Arm("o1", mock.Now().Add(time.Minute), func() { fired.Add(1) })
	assert.True(t, s.Disarm("o1"))
	assert.False(t, s.Disarm("o1"))

	mock.Add(2 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestDisarmAllAndPending(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	for _, id := range []string{"c", "a", "b"} {
		s.Arm(id, mock.Now().Add(time.Minute), func() {})
	}
	assert.Equal(t, []string{"a", "b", "c"}, s.Pending())

	s.DisarmAll()
	assert.Empty(t, s.Pending())
}

func TestPastDeadlineFiresImmediately(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(time.Hour)
	s := New(mock)
	var fired atomic.Int32

	s.Arm("o1", mock.Now().Add(-time.Minute), func() { fired.Add(1) })
	mock.Add(0)
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}
