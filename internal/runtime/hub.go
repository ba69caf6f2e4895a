package runtime

import "sync"

// MessageHub is one worker's inbox. Local entries are pushed by code
// already running on this worker (no lock needed — the owner is the
// only writer and reader). External entries arrive from other workers or
// from a signal handler and are bucketed per source worker id so that
// FIFO order is preserved within a (source, target) pair while different
// sources may interleave arbitrarily, per spec.md §4.3.
type MessageHub struct {
	owner WorkerID

	local messageList

	// extMu is the "short spinlock" spec.md §4.3 calls out as the only
	// lock on the message path: a plain mutex is the idiomatic Go stand-in
	// for the source's spin primitive, held only long enough to splice a
	// list.
	extMu     sync.Mutex
	external  map[WorkerID]*messageList
	extNotify func() // wakes the owning worker's poller; nil until attached

	externalPending int
}

// NewMessageHub creates an empty hub for the given worker id.
func NewMessageHub(owner WorkerID) *MessageHub {
	return &MessageHub{
		owner:    owner,
		external: make(map[WorkerID]*messageList),
	}
}

// attachNotifier wires the wakeup callback invoked whenever PostExternal
// transitions the hub from empty to non-empty. Called once by Worker
// during construction.
func (h *MessageHub) attachNotifier(wake func()) {
	h.extNotify = wake
}

// PostLocal enqueues msg for this worker. Must only be called from code
// already executing on this worker (spec.md §4.2 post_local contract).
func (h *MessageHub) PostLocal(msg *Message) {
	msg.markEnqueued()
	h.local.pushBack(msg)
}

// PostExternal enqueues msg on behalf of source, to be delivered to this
// hub's owning worker. Safe to call from any goroutine, including a
// signal handler's goroutine-equivalent call site.
func (h *MessageHub) PostExternal(source WorkerID, msg *Message) {
	msg.markEnqueued()

	h.extMu.Lock()
	wasEmpty := h.externalPending == 0
	q, ok := h.external[source]
	if !ok {
		q = &messageList{}
		h.external[source] = q
	}
	q.pushBack(msg)
	h.externalPending++
	notify := h.extNotify
	h.extMu.Unlock()

	if wasEmpty && notify != nil {
		notify()
	}
}

// drainExternal moves every externally posted message into the local
// queue, preserving FIFO order per source. Called by the owning worker
// at the top and bottom of each loop iteration (spec.md §4.2 step 1).
func (h *MessageHub) drainExternal() {
	h.extMu.Lock()
	if h.externalPending == 0 {
		h.extMu.Unlock()
		return
	}

	// Iterate sources in a fixed order (ascending id) so draining is
	// deterministic for a given set of pending sources; spec.md §4.3
	// only requires FIFO *within* a pair, not an ordering across pairs.
	sources := make([]WorkerID, 0, len(h.external))
	for id, q := range h.external {
		if !q.empty() {
			sources = append(sources, id)
		}
	}
	sortWorkerIDs(sources)

	var drained messageList
	for _, id := range sources {
		drained.appendAll(h.external[id])
	}
	h.externalPending = 0
	h.extMu.Unlock()

	h.local.appendAll(&drained)
}

// popLocal returns the next ready message for dispatch, or nil.
func (h *MessageHub) popLocal() *Message {
	return h.local.popFront()
}

// hasWork reports whether the local queue has anything to dispatch
// without touching the external lock.
func (h *MessageHub) hasWork() bool {
	return !h.local.empty()
}

func sortWorkerIDs(ids []WorkerID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
