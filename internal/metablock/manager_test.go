package metablock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringhead/metacore/internal/extent"
	"github.com/ringhead/metacore/internal/runtime"
)

// memFile is an in-memory DirectFile double, standing in for the real
// disk so the manager's recovery scan and write path can be exercised
// without a filesystem. The I/O happens synchronously on the caller's
// goroutine; the completion is posted through the submitter's
// PostExternal and runs on the submitter's loop, matching how the real
// pooled implementation hands results back through a message.
type memFile struct {
	mu   sync.Mutex
	data []byte
}

func newMemFile(size int) *memFile {
	return &memFile{data: make([]byte, size)}
}

func (f *memFile) ReadAsync(offset int64, size int, submitter *runtime.Worker, cb func([]byte, error)) {
	f.mu.Lock()
	buf := make([]byte, size)
	copy(buf, f.data[offset:offset+int64(size)])
	f.mu.Unlock()

	msg := runtime.NewMessage(func(*runtime.Worker) { cb(buf, nil) })
	_ = submitter.PostExternal(submitter.ID(), msg)
}

func (f *memFile) WriteAsync(offset int64, data []byte, submitter *runtime.Worker, cb func(error)) {
	f.mu.Lock()
	copy(f.data[offset:], data)
	f.mu.Unlock()

	msg := runtime.NewMessage(func(*runtime.Worker) { cb(nil) })
	_ = submitter.PostExternal(submitter.ID(), msg)
}

func newTestManager(t *testing.T, fileSize int64) (*Manager, *runtime.Worker, func()) {
	t.Helper()

	geometry, err := NewGeometry(Layout{PayloadSize: 8}, 0, fileSize/MBNExtents/MBExtentSeparation)
	require.NoError(t, err)

	mgr, worker, stop := newManagerOverFile(t, geometry, newMemFile(int(fileSize)))
	return mgr, worker, stop
}

// newManagerOverFile wires a fresh Manager (and the worker it runs on) to
// an existing backing file, letting a test simulate a process restart
// that reopens a ring another Manager instance already populated.
func newManagerOverFile(t *testing.T, geometry Geometry, file *memFile) (*Manager, *runtime.Worker, func()) {
	t.Helper()

	hubs := map[runtime.WorkerID]*runtime.MessageHub{0: runtime.NewMessageHub(0)}
	worker, err := runtime.NewWorker(0, hubs, nil)
	require.NoError(t, err)

	mgr := NewManager(geometry, file, extent.NoopManager{}, worker, nil)

	done := make(chan error, 1)
	go func() { done <- worker.Run() }()

	stop := func() {
		worker.InitiateShutdown()
		<-done
	}
	return mgr, worker, stop
}

func TestManagerStartOnEmptyRingFindsNothing(t *testing.T) {
	mgr, worker, stop := newTestManager(t, 4096)
	defer stop()

	result := make(chan bool, 1)
	require.NoError(t, mgr.Start(func(found bool, _ CRCMetablock, err error) {
		require.NoError(t, err)
		result <- found
		worker.InitiateShutdown()
	}))

	select {
	case found := <-result:
		require.False(t, found)
	case <-time.After(5 * time.Second):
		t.Fatal("start never completed")
	}
}

func TestManagerWriteUpdatesCurrentHead(t *testing.T) {
	mgr, worker, stop := newTestManager(t, 4096)
	defer stop()

	started := make(chan struct{})
	require.NoError(t, mgr.Start(func(found bool, _ CRCMetablock, err error) {
		require.NoError(t, err)
		require.False(t, found)
		close(started)
	}))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("start never completed")
	}

	written := make(chan error, 1)
	require.NoError(t, mgr.WriteMetablock([]byte("payload1"), func(err error) {
		written <- err
	}))

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write never completed")
	}

	head, current, hasCurrent := mgr.CurrentHead()
	require.True(t, hasCurrent)
	require.Equal(t, uint64(0), current.Version)
	require.Equal(t, Head{Extent: 0, Slot: 1}, Head{Extent: head.Extent, Slot: head.Slot})
}

func TestManagerWritesQueueFIFOWhenBusy(t *testing.T) {
	mgr, _, stop := newTestManager(t, 4096)
	defer stop()

	startDone := make(chan struct{})
	require.NoError(t, mgr.Start(func(bool, CRCMetablock, error) { close(startDone) }))
	<-startDone

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		payload := []byte{byte(i), 0, 0, 0, 0, 0, 0, 0}
		require.NoError(t, mgr.WriteMetablock(payload, func(err error) {
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}))
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("queued writes never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// TestManagerRecoversHighestVersionAfterWraparound reproduces a ring
// that has wrapped at least once, so the highest-version record no
// longer sits at the highest physical offset: with SlotsPerExtent=4 and
// MBNExtents=2 (8 slots total), 10 sequential writes wrap the head back
// around to slot (0, 1) for the final write, leaving earlier, lower
// versions physically ahead of it in scan order at (0, 2), (0, 3) and
// all of extent 1. A scan that stopped at the first valid record it saw,
// or that accepted whichever slot was visited last, would both recover
// the wrong record here.
func TestManagerRecoversHighestVersionAfterWraparound(t *testing.T) {
	geometry, err := NewGeometry(Layout{PayloadSize: 8}, 0, 80)
	require.NoError(t, err)
	require.Equal(t, 4, geometry.SlotsPerExtent)
	require.Equal(t, 8, geometry.TotalSlots())

	file := newMemFile(int(80 * MBNExtents * MBExtentSeparation))

	mgr1, _, stop1 := newManagerOverFile(t, geometry, file)

	startDone := make(chan struct{})
	require.NoError(t, mgr1.Start(func(found bool, _ CRCMetablock, err error) {
		require.NoError(t, err)
		require.False(t, found)
		close(startDone)
	}))
	<-startDone

	const nWrites = 10
	lastPayload := make([]byte, 8)
	for i := 0; i < nWrites; i++ {
		payload := []byte{byte(i), 0, 0, 0, 0, 0, 0, 0}
		if i == nWrites-1 {
			copy(lastPayload, payload)
		}

		written := make(chan error, 1)
		require.NoError(t, mgr1.WriteMetablock(payload, func(err error) { written <- err }))

		select {
		case err := <-written:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("write %d never completed", i)
		}
	}
	stop1()

	mgr2, _, stop2 := newManagerOverFile(t, geometry, file)
	defer stop2()

	result := make(chan CRCMetablock, 1)
	require.NoError(t, mgr2.Start(func(found bool, current CRCMetablock, err error) {
		require.NoError(t, err)
		require.True(t, found)
		result <- current
	}))

	select {
	case recovered := <-result:
		require.Equal(t, uint64(nWrites-1), recovered.Version)
		require.Equal(t, lastPayload, recovered.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("start never completed")
	}
}

func TestManagerShutdownRejectsFurtherWrites(t *testing.T) {
	mgr, _, stop := newTestManager(t, 4096)
	defer stop()

	startDone := make(chan struct{})
	require.NoError(t, mgr.Start(func(bool, CRCMetablock, error) { close(startDone) }))
	<-startDone

	mgr.Shutdown()

	err := mgr.WriteMetablock([]byte("12345678"), func(error) {})
	require.ErrorIs(t, err, errShutDown)
}
