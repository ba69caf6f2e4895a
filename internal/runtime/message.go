package runtime

import "go.uber.org/atomic"

// Message is a polymorphic work item with one callback: deliver on the
// worker that ultimately dequeues it. Messages are linked via an
// intrusive next pointer, so — per spec.md §3 and §9 — the same message
// object must never be enqueued on two queues concurrently; Enqueued
// guards that invariant at runtime rather than silently corrupting a
// list.
type Message struct {
	next *Message

	// enqueued is set the instant a message is linked into any queue and
	// cleared just before Deliver runs. A message whose Enqueued() is
	// already true when PostLocal/PostExternal is called indicates a
	// caller bug (the "posted twice" invariant violation in spec.md §7)
	// and is fatal, not recoverable.
	enqueued atomic.Bool

	// Deliver is invoked on the worker that dequeues this message.
	// Handlers are expected to run to completion; a handler that needs
	// to yield does so by constructing and posting a continuation
	// message to itself.
	Deliver func(w *Worker)
}

// NewMessage wraps deliver in a freshly allocated Message ready to post.
func NewMessage(deliver func(w *Worker)) *Message {
	return &Message{Deliver: deliver}
}

// Enqueued reports whether the message is currently linked into a queue.
func (m *Message) Enqueued() bool {
	return m.enqueued.Load()
}

// markEnqueued transitions the message from free to enqueued, panicking
// if it was already enqueued — this is the double-post invariant from
// spec.md §7, surfaced as a programmer error rather than silently
// accepted.
func (m *Message) markEnqueued() {
	if !m.enqueued.CompareAndSwap(false, true) {
		panic("runtime: message enqueued while already in a queue")
	}
}

func (m *Message) clearEnqueued() {
	m.enqueued.Store(false)
}

// messageList is a minimal intrusive FIFO queue over Message.next.
type messageList struct {
	head, tail *Message
}

func (l *messageList) empty() bool {
	return l.head == nil
}

func (l *messageList) pushBack(m *Message) {
	m.next = nil
	if l.tail == nil {
		l.head, l.tail = m, m
		return
	}
	l.tail.next = m
	l.tail = m
}

func (l *messageList) popFront() *Message {
	m := l.head
	if m == nil {
		return nil
	}
	l.head = m.next
	if l.head == nil {
		l.tail = nil
	}
	m.next = nil
	return m
}

// appendAll splices other onto the end of l, leaving other empty.
func (l *messageList) appendAll(other *messageList) {
	if other.head == nil {
		return
	}
	if l.tail == nil {
		l.head = other.head
	} else {
		l.tail.next = other.head
	}
	l.tail = other.tail
	other.head, other.tail = nil, nil
}
