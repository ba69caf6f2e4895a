package runtime

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// BlockingJob is a synchronous function to run off the event-loop
// threads, plus the continuation to post back once it finishes. Fn may
// block arbitrarily (e.g. a plain os.File read on a non-async path);
// spec.md §4.4 is explicit that this is the only sanctioned way to make
// a truly blocking kernel call from this runtime.
type BlockingJob struct {
	Fn func() ([]byte, error)

	// Submitter is the worker this job's continuation is posted back to.
	Submitter *Worker

	// Continue receives Fn's result and builds the message to deliver on
	// Submitter. Kept as a plain value-returning function rather than a
	// pre-built Message so that submitting the same BlockingJob twice
	// never posts one Message twice (a fresh Message is minted per
	// completion).
	Continue func(result []byte, err error) *Message
}

// BlockingPool is a fixed-size set of helper goroutines — the stand-in
// for the source's helper OS threads. ThreadPool creates one on its
// utility worker; the pool itself is not bound to any worker, and each
// job names the worker its continuation goes back to. Clients submit
// BlockingJobs; a helper dequeues one, runs
// Fn to completion, and posts the continuation back to Submitter. This
// is grounded directly on the teacher repository's flush worker pool
// (lsm/flush_worker.go), generalized from "flush a memtable" to
// "run an arbitrary blocking job".
type BlockingPool struct {
	jobs    chan BlockingJob
	wg      sync.WaitGroup
	running atomic.Int64
	log     *zap.SugaredLogger
}

// NewBlockingPool creates a pool of workerCount helper goroutines and
// starts them immediately.
func NewBlockingPool(workerCount int, log *zap.SugaredLogger) *BlockingPool {
	p := &BlockingPool{
		jobs: make(chan BlockingJob),
		log:  log,
	}
	p.start(workerCount)
	return p
}

func (p *BlockingPool) start(workerCount int) {
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.runHelper()
	}
}

func (p *BlockingPool) runHelper() {
	defer p.wg.Done()

	for job := range p.jobs {
		p.running.Inc()
		result, err := job.Fn()
		p.running.Dec()

		msg := job.Continue(result, err)
		if msg == nil {
			continue
		}

		if postErr := job.Submitter.PostExternal(job.Submitter.ID(), msg); postErr != nil && p.log != nil {
			p.log.Errorw("blocking pool failed to post completion", "error", postErr)
		}
	}
}

// Submit hands a job to the pool. Blocks until a helper goroutine
// accepts it; callers on a worker's event loop should not call Submit
// synchronously from a handler they expect to return promptly unless
// all helpers are known to be free, since an unbuffered channel send can
// stall briefly under load. The pool makes no ordering guarantee across
// jobs from different submitters.
func (p *BlockingPool) Submit(job BlockingJob) {
	p.jobs <- job
}

// InFlight returns the number of jobs currently executing.
func (p *BlockingPool) InFlight() int64 {
	return p.running.Load()
}

// Stop closes the job channel and waits for every helper to finish its
// current job. No further Submit calls are valid afterward.
func (p *BlockingPool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
