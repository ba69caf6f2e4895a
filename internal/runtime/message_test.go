package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageDoublePostPanics(t *testing.T) {
	msg := NewMessage(func(*Worker) {})
	msg.markEnqueued()

	assert.Panics(t, func() {
		msg.markEnqueued()
	})
}

func TestMessageClearEnqueuedAllowsRepost(t *testing.T) {
	msg := NewMessage(func(*Worker) {})
	msg.markEnqueued()
	msg.clearEnqueued()

	assert.NotPanics(t, func() {
		msg.markEnqueued()
	})
}

func TestMessageListFIFOOrder(t *testing.T) {
	var l messageList
	a, b, c := NewMessage(nil), NewMessage(nil), NewMessage(nil)

	l.pushBack(a)
	l.pushBack(b)
	l.pushBack(c)

	assert.Same(t, a, l.popFront())
	assert.Same(t, b, l.popFront())
	assert.Same(t, c, l.popFront())
	assert.Nil(t, l.popFront())
}

func TestMessageListAppendAll(t *testing.T) {
	var l1, l2 messageList
	a, b := NewMessage(nil), NewMessage(nil)
	l1.pushBack(a)
	l2.pushBack(b)

	l1.appendAll(&l2)

	assert.True(t, l2.empty())
	assert.Same(t, a, l1.popFront())
	assert.Same(t, b, l1.popFront())
}
