package metablock

import (
	"os"

	"github.com/pkg/errors"

	"github.com/ringhead/metacore/internal/runtime"
)

// DirectFile is the asynchronous I/O surface the metablock manager needs
// from the underlying database file. Go has no stdlib io_uring-style
// async file API; spec.md §6's ASYNC I/O ADAPTATION resolves this by
// routing every read/write through the thread pool's blocking-operation
// pool and delivering the result as an ordinary posted message, so from
// the manager's point of view the call never blocks its own worker.
type DirectFile interface {
	// ReadAsync reads exactly size bytes at offset, then hands the result
	// to cb on submitter's event loop.
	ReadAsync(offset int64, size int, submitter *runtime.Worker, cb func(data []byte, err error))

	// WriteAsync writes data at offset, then hands the outcome to cb on
	// submitter's event loop.
	WriteAsync(offset int64, data []byte, submitter *runtime.Worker, cb func(err error))
}

// pooledFile implements DirectFile over a plain *os.File by delegating
// each call to a runtime.BlockingPool helper goroutine, grounded on the
// same flush-worker pool the BlockingPool itself is modeled on.
type pooledFile struct {
	file *os.File
	pool *runtime.BlockingPool
}

// NewPooledFile wraps f so metablock.Manager can drive it asynchronously
// through pool.
func NewPooledFile(f *os.File, pool *runtime.BlockingPool) DirectFile {
	return &pooledFile{file: f, pool: pool}
}

func (pf *pooledFile) ReadAsync(offset int64, size int, submitter *runtime.Worker, cb func([]byte, error)) {
	pf.pool.Submit(runtime.BlockingJob{
		Fn: func() ([]byte, error) {
			buf := make([]byte, size)
			n, err := pf.file.ReadAt(buf, offset)
			if err != nil {
				return nil, errors.Wrapf(err, "metablock: read %d bytes at offset %d", size, offset)
			}
			return buf[:n], nil
		},
		Submitter: submitter,
		Continue: func(result []byte, err error) *runtime.Message {
			return runtime.NewMessage(func(*runtime.Worker) { cb(result, err) })
		},
	})
}

func (pf *pooledFile) WriteAsync(offset int64, data []byte, submitter *runtime.Worker, cb func(error)) {
	owned := make([]byte, len(data))
	copy(owned, data)

	pf.pool.Submit(runtime.BlockingJob{
		Fn: func() ([]byte, error) {
			_, err := pf.file.WriteAt(owned, offset)
			if err != nil {
				return nil, errors.Wrapf(err, "metablock: write %d bytes at offset %d", len(owned), offset)
			}
			return nil, nil
		},
		Submitter: submitter,
		Continue: func(_ []byte, err error) *runtime.Message {
			return runtime.NewMessage(func(*runtime.Worker) { cb(err) })
		},
	})
}
