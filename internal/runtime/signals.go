package runtime

import (
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// interruptMessage holds the single Message used to notify the utility
// worker of SIGINT/SIGTERM, guarded by a mutex rather than handed out
// fresh per signal. Swapping it out atomically on delivery — rather than
// allocating a new message per signal — is what spec.md §4.5 and §8
// property 6 mean by "no double-delivery of the interrupt": a message
// already in flight can't be posted a second time (Message.markEnqueued
// would panic), so repeated signals while one delivery is pending must
// be coalesced before they ever reach PostExternal.
type interruptMessage struct {
	mu      sync.Mutex
	pending *Message
}

func newInterruptMessage(build func() *Message) *interruptMessage {
	return &interruptMessage{pending: build()}
}

// take atomically removes and returns the current message, or nil if one
// is already in flight (swapped out by a previous signal and not yet
// replaced).
func (im *interruptMessage) take() *Message {
	im.mu.Lock()
	defer im.mu.Unlock()

	m := im.pending
	im.pending = nil
	return m
}

// restore makes a fresh message available for the next interrupt. It is
// called only when posting the taken message fails; a delivered
// interrupt is not replaced, so every later signal is coalesced away.
func (im *interruptMessage) restore(build func() *Message) {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.pending == nil {
		im.pending = build()
	}
}

// installSignalHandlers wires SIGINT/SIGTERM to post (at most once per
// in-flight interrupt) a shutdown message to the utility worker, per
// spec.md §4.5. Faults are not handled here: each worker goroutine in
// ThreadPool.Run recovers them into classifyFault, which always aborts.
// Must be called from the main thread only.
func (p *ThreadPool) installSignalHandlers() {
	interrupts := make(chan os.Signal, 4)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)

	im := newInterruptMessage(func() *Message {
		return NewMessage(func(w *Worker) {
			p.log.Infow("interrupt message delivered, shutting down", "worker", w.ID())
			p.Shutdown()
		})
	})

	go func() {
		for range interrupts {
			msg := im.take()
			if msg == nil {
				// A previous interrupt is still in flight; coalesce.
				continue
			}

			utility := p.utilityWorkerID()
			if err := postExternal(p.hubs, MainThreadID, utility, msg); err != nil {
				p.log.Errorw("failed to post interrupt message", "error", err)
				im.restore(func() *Message {
					return NewMessage(func(w *Worker) { p.Shutdown() })
				})
				continue
			}
		}
	}()

	p.signalChan = interrupts

	if p.cfg.TickInterval > 0 {
		p.installTickBroadcast()
	}
}

// installTickBroadcast starts the macOS-style periodic tick fallback
// described in spec.md §9: a shared ticker fans an empty message out to
// every worker each TickInterval. It runs on every platform whenever
// TickInterval > 0, a new message is allocated per worker per tick, and
// each worker keeps running its own timer wheel alongside it.
func (p *ThreadPool) installTickBroadcast() {
	go func() {
		ticker := time.NewTicker(p.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.broadcastTick()
			case <-p.tickStop:
				return
			}
		}
	}()
}

func (p *ThreadPool) broadcastTick() {
	// p.hubs is populated once in NewThreadPool and never mutated
	// afterward, so it is safe to range over without locking, unlike
	// p.workers (which is filled in concurrently as each worker starts).
	for id := range p.hubs {
		msg := NewMessage(func(*Worker) {})
		if err := postExternal(p.hubs, MainThreadID, id, msg); err != nil {
			p.log.Warnw("tick broadcast failed", "worker", id, "error", err)
		}
	}
}

// classifyFault turns a captured panic value from a faulting handler
// into a diagnostic message, distinguishing a coroutine/goroutine stack
// overflow from a generic fault, per spec.md §4.5. Go's runtime does not
// expose raw fault addresses or alternate signal stacks to user code the
// way the source's SIGSEGV handler does; debug.SetPanicOnFault plus this
// recover-based classifier is the idiomatic equivalent available to a Go
// program, and — like the source — it always aborts rather than
// attempting to continue.
func classifyFault(r any, log *zap.SugaredLogger) {
	msg, isRuntimeErr := r.(error)
	if isRuntimeErr && isStackOverflow(msg) {
		log.Errorw("coroutine stack overflow", "panic", msg)
	} else {
		log.Errorw("fatal fault", "panic", r)
	}
	debug.PrintStack()
	os.Exit(2)
}

func isStackOverflow(err error) bool {
	return err != nil && (err.Error() == "runtime: goroutine stack exceeds 1000000000-byte limit" ||
		err.Error() == "stack overflow")
}
