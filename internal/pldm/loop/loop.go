// Package loop implements the single-threaded cooperative event loop this
// core's concurrency model requires: every DeviceUpdater, RequesterBus,
// and UpdateManager callback runs on one goroutine, so none of them need
// mutexes. Timer expiration and deferred tasks are the only yield points.
package loop

import (
	"container/heap"
	"sync"
	"time"
)

// task is a unit of work queued onto the loop: either a deferred callback
// (fire as soon as possible) or a timer (fire at a specific time).
type task struct {
	fn    func()
	fireAt time.Time
	index int // heap index, maintained by container/heap
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Timer is a handle to a scheduled, possibly still pending, timer task.
type Timer struct {
	t      *task
	loop   *Loop
	fired  bool
}

// Loop is a single-goroutine reactor. Every callback registered through
// Defer or After runs on the loop's own goroutine, never concurrently
// with another callback, so code running inside those callbacks needs no
// synchronization against other loop callbacks.
type Loop struct {
	incoming chan func()
	stop     chan struct{}
	done     chan struct{}

	mu     sync.Mutex // guards pending, used only to hand timers across goroutines
	pending taskHeap
}

// New creates a Loop. Call Run to start dispatching on the calling
// goroutine (Run blocks until Stop is called).
func New() *Loop {
	l := &Loop{
		incoming: make(chan func(), 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	heap.Init(&l.pending)
	return l
}

// Defer enqueues fn to run on the loop's goroutine on its next iteration.
// Response handlers use this instead of calling the next outbound send
// synchronously, so that the call stack never grows unbounded and sends
// stay strictly ordered per device.
func (l *Loop) Defer(fn func()) {
	select {
	case l.incoming <- fn:
	case <-l.stop:
	}
}

// After schedules fn to run once, no earlier than d from now, on the
// loop's goroutine. The returned Timer can be used to cancel it before it
// fires.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	t := &task{fn: fn, fireAt: time.Now().Add(d)}
	timer := &Timer{t: t, loop: l}

	l.mu.Lock()
	heap.Push(&l.pending, t)
	l.mu.Unlock()

	// Wake an idle Run so it recomputes its wait for the new timer; a
	// full queue means Run is busy and will recompute anyway.
	select {
	case l.incoming <- func() {}:
	default:
	}

	return timer
}

// Stop cancels a pending timer. It is a no-op if the timer already fired
// or was already stopped.
func (t *Timer) Stop() {
	if t.fired {
		return
	}
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	if t.t.index >= 0 {
		heap.Remove(&t.loop.pending, t.t.index)
	}
	t.fired = true
}

// Run dispatches deferred tasks and expired timers until Stop is called.
// It is meant to be called once, from the goroutine that owns the loop.
func (l *Loop) Run() {
	defer close(l.done)

	for {
		wait := l.nextWait()

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-l.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case fn := <-l.incoming:
			fn()
		case <-timerC:
			l.fireExpired()
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// Stop halts Run. Pending timers and deferred tasks that never ran are
// simply dropped.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

// nextWait returns how long until the next pending timer fires, or -1 if
// there is none (meaning Run should block indefinitely on incoming/stop).
func (l *Loop) nextWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return -1
	}
	wait := time.Until(l.pending[0].fireAt)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// fireExpired runs every timer whose fireAt has passed.
func (l *Loop) fireExpired() {
	now := time.Now()
	for {
		l.mu.Lock()
		if len(l.pending) == 0 || l.pending[0].fireAt.After(now) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.pending).(*task)
		l.mu.Unlock()
		t.fn()
	}
}
