package loop

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeferRunsOnLoopGoroutine(t *testing.T) {
	l := New()
	go l.Run()
	defer l.Stop()

	done := make(chan struct{})
	l.Defer(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deferred task never ran")
	}
}

func TestAfterFiresOnce(t *testing.T) {
	l := New()
	go l.Run()
	defer l.Stop()

	var count int32
	done := make(chan struct{})
	l.After(10*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&count))
}

func TestTimerStopPreventsFiring(t *testing.T) {
	l := New()
	go l.Run()
	defer l.Stop()

	fired := make(chan struct{}, 1)
	timer := l.After(20*time.Millisecond, func() { fired <- struct{}{} })
	timer.Stop()

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerResetOnRepeatedCalls(t *testing.T) {
	// Models the UA_T2 watchdog: each new arrival stops the previous
	// timer and schedules a fresh one.
	l := New()
	go l.Run()
	defer l.Stop()

	var fireCount int32
	var timer *Timer
	reset := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = l.After(15*time.Millisecond, func() { atomic.AddInt32(&fireCount, 1) })
	}

	done := make(chan struct{})
	l.Defer(func() {
		reset()
		time.AfterFunc(5*time.Millisecond, func() {
			l.Defer(func() {
				reset()
				close(done)
			})
		})
	})

	<-done
	time.Sleep(40 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&fireCount))
}
