//go:build linux

package runtime

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller backs Worker on Linux with a real epoll instance and an
// eventfd-based wakeup notifier — the direct idiomatic-Go equivalent of
// the source's ppoll-based multiplexer (spec.md §4.2).
type epollPoller struct {
	epfd     int
	eventfd  int
	mu       sync.Mutex
	handlers map[int]func(PollEvents)
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	p := &epollPoller{
		epfd:     epfd,
		eventfd:  efd,
		handlers: make(map[int]func(PollEvents)),
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(efd),
	}); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(efd)
		return nil, err
	}

	return p, nil
}

func toEpollMask(events PollEvents) uint32 {
	var mask uint32
	if events&Readable != 0 {
		mask |= unix.EPOLLIN
	}
	if events&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func fromEpollMask(mask uint32) PollEvents {
	var events PollEvents
	if mask&unix.EPOLLIN != 0 {
		events |= Readable
	}
	if mask&unix.EPOLLOUT != 0 {
		events |= Writable
	}
	return events
}

func (p *epollPoller) add(fd int, events PollEvents, handler func(PollEvents)) error {
	p.mu.Lock()
	p.handlers[fd] = handler
	p.mu.Unlock()

	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollMask(events),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) remove(fd int) error {
	p.mu.Lock()
	delete(p.handlers, fd)
	p.mu.Unlock()

	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}

	events := make([]unix.EpollEvent, 64)

	n, err := unix.EpollWait(p.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)

		if fd == p.eventfd {
			p.drainEventfd()
			continue
		}

		p.mu.Lock()
		handler := p.handlers[fd]
		p.mu.Unlock()

		if handler != nil {
			handler(fromEpollMask(events[i].Events))
		}
	}

	return nil
}

func (p *epollPoller) drainEventfd() {
	buf := make([]byte, 8)
	_, _ = unix.Read(p.eventfd, buf)
}

func (p *epollPoller) wake() {
	buf := make([]byte, 8)
	buf[0] = 1
	_, _ = unix.Write(p.eventfd, buf)
}

func (p *epollPoller) close() error {
	_ = unix.Close(p.eventfd)
	return unix.Close(p.epfd)
}
