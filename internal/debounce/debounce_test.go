package debounce_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"notespace/internal/debounce"
)

func TestSchedule_SupersedesPending(t *testing.T) {
	s := debounce.New()
	defer s.Stop()

	var mu sync.Mutex
	var got []int
	for i := 1; i <= 5; i++ {
		i := i
		s.Schedule("page-1", 20*time.Millisecond, func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{5}, got, "only the last scheduled task runs")
	assert.False(t, s.Pending("page-1"))
}

func TestSchedule_KeysAreIndependent(t *testing.T) {
	s := debounce.New()
	defer s.Stop()

	var n atomic.Int32
	s.Schedule("a", 10*time.Millisecond, func() { n.Add(1) })
	s.Schedule("b", 10*time.Millisecond, func() { n.Add(1) })

	assert.Eventually(t, func() bool { return n.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestCancel(t *testing.T) {
	s := debounce.New()
	defer s.Stop()

	var ran atomic.Bool
	s.Schedule("a", 20*time.Millisecond, func() { ran.Store(true) })
	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestFlush_RunsInScheduleOrder(t *testing.T) {
	s := debounce.New()
	defer s.Stop()

	var order []string
	for _, key := range []string{"c", "a", "b"} {
		key := key
		s.Schedule(key, time.Hour, func() { order = append(order, key) })
	}
	s.Schedule("c", time.Hour, func() { order = append(order, "c2") })

	s.Flush()
	assert.Equal(t, []string{"a", "b", "c2"}, order)
	assert.Zero(t, s.Len())
}

func TestFlushKey(t *testing.T) {
	s := debounce.New()
	defer s.Stop()

	var ran bool
	s.Schedule("a", time.Hour, func() { ran = true })
	assert.True(t, s.FlushKey("a"))
	assert.True(t, ran)
	assert.False(t, s.FlushKey("a"))
}

func TestStop_DropsAndRejects(t *testing.T) {
	s := debounce.New()
	var ran atomic.Bool
	s.Schedule("a", 10*time.Millisecond, func() { ran.Store(true) })
	s.Stop()
	s.Schedule("b", time.Millisecond, func() { ran.Store(true) })

	time.Sleep(40 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Zero(t, s.Len())
}
