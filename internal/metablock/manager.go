package metablock

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ringhead/metacore/internal/extent"
	"github.com/ringhead/metacore/internal/runtime"
)

// State is the metablock manager's lifecycle state, per spec.md §4.1.
type State int

const (
	StateUnstarted State = iota
	StateReading
	StateReady
	StateWriting
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateReading:
		return "reading"
	case StateReady:
		return "ready"
	case StateWriting:
		return "writing"
	case StateShutDown:
		return "shut_down"
	default:
		return "unknown"
	}
}

var (
	errAlreadyStarted = errors.New("metablock: already started")
	errNotReady       = errors.New("metablock: manager not ready")
	errShutDown       = errors.New("metablock: manager shut down")
)

// StartCallback receives the outcome of the recovery scan: whether any
// valid record was found, and if so, the most recent one.
type StartCallback func(found bool, current CRCMetablock, err error)

// pendingWrite is one entry in the manager's FIFO write queue, used when
// WriteMetablock is called while a previous write is still in flight
// (spec.md §4.1: "queued behind the in-flight write").
type pendingWrite struct {
	record CRCMetablock
	cb     func(error)
}

// Manager drives the recovery scan and the write path of one metablock
// ring. One record may be in flight to disk at a time; later writers
// queue. Each write encodes its record into a freshly allocated buffer.
type Manager struct {
	mu sync.Mutex

	geometry  Geometry
	file      DirectFile
	extents   extent.Manager
	submitter *runtime.Worker
	log       *zap.SugaredLogger

	state State

	head       Head
	current    CRCMetablock
	hasCurrent bool
	nextVer    uint64

	queue []pendingWrite
}

// NewManager constructs a manager bound to one file and one worker. All
// async I/O issued by the manager runs through submitter's event loop;
// WriteMetablock and Start must be called from that same worker.
func NewManager(geometry Geometry, file DirectFile, extents extent.Manager, submitter *runtime.Worker, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		geometry:  geometry,
		file:      file,
		extents:   extents,
		submitter: submitter,
		log:       log,
		state:     StateUnstarted,
	}
}

// Start reserves the ring's extents and performs the version-ordered
// recovery scan described in spec.md §4.1 and §3: walk slots from
// (extent 0, slot 0) forward, skipping past any CRC-invalid slot rather
// than stopping at it (a slot can be invalid because it was never
// written, or because of a torn write, and either way a newer valid
// record may still lie ahead on the ring). Every time a slot's record
// validates with a version higher than the best seen so far, the scan
// remembers that slot as the current candidate via Head.Push — spec.md
// §3's single saved level, not a general stack, so a later, better
// candidate simply overwrites it. The scan terminates once the cursor,
// having gone all the way around the ring, lands back on the saved
// candidate's own slot (Head.Pop + Equal): nothing further around the
// ring can beat a record the scan has already seen and kept. cb fires
// exactly once, on submitter's loop, with the recovered record if any
// was found.
func (m *Manager) Start(cb StartCallback) error {
	m.mu.Lock()
	if m.state != StateUnstarted {
		m.mu.Unlock()
		return errAlreadyStarted
	}
	m.state = StateReading
	m.mu.Unlock()

	for extentID := 0; extentID < MBNExtents; extentID++ {
		if err := m.extents.ReserveExtent(extentID); err != nil {
			m.mu.Lock()
			m.state = StateUnstarted
			m.mu.Unlock()
			return err
		}
	}

	m.scanStep(Head{}, CRCMetablock{}, false, 0, cb)
	return nil
}

// scanStep reads one ring slot and recurses to the next, carrying the
// scan's position (h, whose saved field is the best candidate found so
// far per Head.Push/Pop), the best record decoded so far, and how many
// slots have been visited (bounding the scan even if the saved-slot
// equality check is somehow never hit).
func (m *Manager) scanStep(h Head, bestRecord CRCMetablock, hasBest bool, scanned int, cb StartCallback) {
	if hasBest {
		if saved, ok := h.Pop(); ok && h.Equal(saved) {
			m.finishScan(saved, bestRecord, true, cb)
			return
		}
	} else if scanned >= m.geometry.TotalSlots() {
		// A full lap with no valid slot at all: the ring is empty.
		m.finishScan(Head{}, CRCMetablock{}, false, cb)
		return
	}

	// Hard backstop against the equality check above never firing (it
	// always should once hasBest is true, since the cursor revisits
	// every slot, including the saved one, at least once per lap).
	if scanned >= 2*m.geometry.TotalSlots()+1 {
		saved, _ := h.Pop()
		m.finishScan(saved, bestRecord, hasBest, cb)
		return
	}

	offset := h.Offset(m.geometry)
	size := m.geometry.Layout.RecordSize()

	m.file.ReadAsync(offset, size, m.submitter, func(data []byte, err error) {
		if err != nil {
			m.mu.Lock()
			m.state = StateUnstarted
			m.mu.Unlock()
			cb(false, CRCMetablock{}, err)
			return
		}

		rec, decErr := Decode(m.geometry.Layout, data)
		if decErr == nil && rec.Validate() == nil && (!hasBest || rec.Version > bestRecord.Version) {
			h.Push()
			bestRecord = rec
			hasBest = true
		}

		next := h.Advance(m.geometry)
		m.scanStep(next, bestRecord, hasBest, scanned+1, cb)
	})
}

func (m *Manager) finishScan(bestHead Head, bestRecord CRCMetablock, hasBest bool, cb StartCallback) {
	m.mu.Lock()
	m.state = StateReady

	if hasBest {
		m.head = bestHead.Advance(m.geometry)
		m.current = bestRecord
		m.hasCurrent = true
		m.nextVer = bestRecord.Version + 1
	} else {
		m.head = Head{}
		m.hasCurrent = false
		m.nextVer = 0
	}
	m.mu.Unlock()

	cb(hasBest, bestRecord, nil)
}

// CurrentHead returns the slot the next write will land on, and the most
// recent record if any: the last one written successfully, or the one
// recovered by Start if nothing has been written since.
func (m *Manager) CurrentHead() (Head, CRCMetablock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, m.current, m.hasCurrent
}

// WriteMetablock appends payload as a new record at the ring's current
// head, advancing the head afterward. If a write is already in flight,
// this one is queued and runs in the order it was submitted (spec.md
// §4.1's single-writer FIFO). cb fires exactly once, on submitter's
// loop, once this specific write has landed (not merely been queued).
func (m *Manager) WriteMetablock(payload []byte, cb func(error)) error {
	m.mu.Lock()

	if m.state == StateShutDown {
		m.mu.Unlock()
		return errShutDown
	}
	if m.state != StateReady && m.state != StateWriting {
		m.mu.Unlock()
		return errNotReady
	}

	rec, err := New(m.geometry.Layout, m.nextVer, payload)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.nextVer++

	m.queue = append(m.queue, pendingWrite{record: rec, cb: cb})

	if m.state == StateWriting {
		m.mu.Unlock()
		return nil
	}

	m.state = StateWriting
	m.mu.Unlock()

	m.drainQueue()
	return nil
}

func (m *Manager) drainQueue() {
	m.mu.Lock()
	if len(m.queue) == 0 {
		if m.state != StateShutDown {
			m.state = StateReady
		}
		m.mu.Unlock()
		return
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	offset := m.head.Offset(m.geometry)
	m.mu.Unlock()

	buf := make([]byte, m.geometry.Layout.RecordSize())
	if err := Encode(m.geometry.Layout, next.record, buf); err != nil {
		next.cb(err)
		m.drainQueue()
		return
	}

	m.file.WriteAsync(offset, buf, m.submitter, func(err error) {
		if err == nil {
			m.mu.Lock()
			m.head = m.head.Advance(m.geometry)
			m.current = next.record
			m.hasCurrent = true
			m.mu.Unlock()
		}

		next.cb(err)
		m.drainQueue()
	})
}

// Shutdown transitions the manager out of service. Writes already queued
// before Shutdown is called will still complete; new calls to
// WriteMetablock or Start after this point fail.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateShutDown
}

// CurrentState reports the manager's lifecycle state, chiefly for tests
// and diagnostics.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
