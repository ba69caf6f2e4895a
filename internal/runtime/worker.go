package runtime

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// WorkerID identifies a worker. The utility worker always has the
// highest index; MainThreadID identifies the thread that owns the
// ThreadPool itself, per spec.md §3.
type WorkerID int

const MainThreadID WorkerID = -1

// Worker drives one event loop for its lifetime: I/O completions,
// expired timers, incoming messages, and the shutdown flag (spec.md
// §4.2). Suspension only ever happens between loop iterations; a
// handler that needs to yield posts itself a continuation message
// instead of blocking.
type Worker struct {
	id  WorkerID
	hub *MessageHub

	// hubs is the pool-wide, write-once-at-startup table of every
	// worker's hub, keyed by id. It is populated before any worker's
	// Run starts and never mutated afterward, matching the "threads[]
	// table" shared-state note in spec.md §5.
	hubs map[WorkerID]*MessageHub

	timers *timerWheel
	poll   poller

	shuttingDown atomic.Bool

	clock func() time.Time
	log   *zap.SugaredLogger
}

// NewWorker constructs a worker with id, wired to hubs (the pool-wide
// hub registry) for cross-worker posting.
func NewWorker(id WorkerID, hubs map[WorkerID]*MessageHub, log *zap.SugaredLogger) (*Worker, error) {
	hub, ok := hubs[id]
	if !ok {
		return nil, fmt.Errorf("runtime: no hub registered for worker %d", id)
	}

	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("runtime: creating poller for worker %d: %w", id, err)
	}

	w := &Worker{
		id:     id,
		hub:    hub,
		hubs:   hubs,
		poll:   p,
		clock:  time.Now,
		log:    log,
	}
	w.timers = newTimerWheel(w.Now)
	hub.attachNotifier(w.poll.wake)

	return w, nil
}

// ID returns this worker's identity.
func (w *Worker) ID() WorkerID { return w.id }

// Now returns the worker's monotonic time source, used by timers.
func (w *Worker) Now() time.Time { return w.clock() }

// Watch registers interest in fd's readability/writability. Only
// supported where the platform poller backs it (Linux epoll); see
// poller_portable.go.
func (w *Worker) Watch(fd int, events PollEvents, handler func(PollEvents)) error {
	return w.poll.add(fd, events, handler)
}

// Unwatch removes a previously registered descriptor. Must be called on
// the same worker that registered it (spec.md §5 resource ownership).
func (w *Worker) Unwatch(fd int) error {
	return w.poll.remove(fd)
}

// PostLocal enqueues msg for this worker. Call only from code already
// running on this worker.
func (w *Worker) PostLocal(msg *Message) {
	w.hub.PostLocal(msg)
}

// PostExternal enqueues msg for delivery to target, which may be this
// worker or another one. Safe to call from any worker or from a
// non-worker thread.
func (w *Worker) PostExternal(target WorkerID, msg *Message) error {
	return postExternal(w.hubs, w.id, target, msg)
}

// postExternal is the shared implementation behind Worker.PostExternal,
// factored out so non-worker posters (the main thread's signal handlers,
// the tick broadcaster) can target a hub registry without needing a full
// Worker of their own.
func postExternal(hubs map[WorkerID]*MessageHub, source, target WorkerID, msg *Message) error {
	hub, ok := hubs[target]
	if !ok {
		return fmt.Errorf("runtime: unknown target worker %d", target)
	}
	hub.PostExternal(source, msg)
	return nil
}

// ScheduleAfter arranges for fire to run on this worker after d elapses.
func (w *Worker) ScheduleAfter(d time.Duration, fire func(*Worker)) *Timer {
	return w.timers.After(d, fire)
}

// InitiateShutdown sets the shutdown flag and wakes the worker's poller
// so its loop observes the flag at the next iteration. Safe to call from
// any thread (spec.md §4.2).
func (w *Worker) InitiateShutdown() {
	if w.shuttingDown.CompareAndSwap(false, true) {
		w.poll.wake()
	}
}

func (w *Worker) shuttingDownRequested() bool {
	return w.shuttingDown.Load()
}

// Run drives the main loop described in spec.md §4.2:
//  1. pull externally posted messages into the local queue
//  2. drain local messages
//  3. block for up to the next timer deadline on the multiplexer
//  4. dispatch ready handlers (done inside poll.wait)
//  5. exit once shutdown is observed and the local queue is empty
//
// Step 2 runs both before and after the I/O wait to minimize latency
// from intra-core signals.
func (w *Worker) Run() error {
	defer func() {
		if err := w.poll.close(); err != nil && w.log != nil {
			w.log.Warnw("worker poller close failed", "worker", w.id, "error", err)
		}
	}()

	for {
		w.hub.drainExternal()
		w.dispatchLocal()

		if w.shuttingDownRequested() && !w.hub.hasWork() {
			return nil
		}

		timeout := w.waitTimeout()
		if err := w.poll.wait(timeout); err != nil {
			return fmt.Errorf("runtime: worker %d poll wait: %w", w.id, err)
		}

		w.timers.RunExpired(w)
		w.hub.drainExternal()
		w.dispatchLocal()

		if w.shuttingDownRequested() && !w.hub.hasWork() {
			return nil
		}
	}
}

func (w *Worker) dispatchLocal() {
	for {
		msg := w.hub.popLocal()
		if msg == nil {
			return
		}
		msg.clearEnqueued()
		msg.Deliver(w)
	}
}

func (w *Worker) waitTimeout() time.Duration {
	deadline, ok := w.timers.NextDeadline()
	if !ok {
		return -1
	}

	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}
