package runtime

import (
	"context"
	"fmt"
	"os"
	stdruntime "runtime"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ringhead/metacore/internal/config"
)

// barrier is a reusable (cyclic) rendezvous point for a fixed number of
// goroutines, used twice per spec.md §4.5: once to release every worker
// after it has constructed its Worker object, and once again at
// shutdown. Go's standard library has no barrier primitive; sync.Cond is
// the idiomatic building block for one, and no third-party barrier
// implementation appears anywhere in the example pack, so this stays on
// the standard library by design rather than by omission.
type barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	arity      int
	count      int
	generation int
}

func newBarrier(arity int) *barrier {
	b := &barrier{arity: arity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until arity goroutines have called Wait, then releases all
// of them together.
func (b *barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.generation
	b.count++

	if b.count == b.arity {
		b.count = 0
		b.generation++
		b.cond.Broadcast()
		return
	}

	for b.generation == gen {
		b.cond.Wait()
	}
}

// ThreadPool owns N data workers plus one utility worker, coordinating
// their startup and shutdown per spec.md §4.5.
type ThreadPool struct {
	cfg config.RuntimeConfig
	log *zap.SugaredLogger

	// tableMu guards workers and blockingPool, which are written once each
	// by their owning goroutine during Run and may be read concurrently
	// by other goroutines (e.g. code waiting for the pool to finish
	// starting) before the startup barrier has synchronized everyone.
	tableMu   sync.Mutex
	workers   map[WorkerID]*Worker
	hubs      map[WorkerID]*MessageHub
	utilityID WorkerID

	blockingPool *BlockingPool

	startBarrier *barrier
	tailBarrier  *barrier

	shutdownMu        sync.Mutex
	shutdownCond      *sync.Cond
	shutdownRequested bool

	signalChan chan os.Signal
	tickStop   chan struct{}

	group *errgroup.Group
}

// NewThreadPool allocates the worker table and synchronization
// primitives but does not start any goroutines; call Run to do that.
func NewThreadPool(cfg config.RuntimeConfig, log *zap.SugaredLogger) *ThreadPool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	p := &ThreadPool{
		cfg:       cfg,
		log:       log,
		workers:   make(map[WorkerID]*Worker, cfg.NumWorkers+1),
		hubs:      make(map[WorkerID]*MessageHub, cfg.NumWorkers+1),
		utilityID: WorkerID(cfg.NumWorkers),
		tickStop:  make(chan struct{}),
	}
	p.shutdownCond = sync.NewCond(&p.shutdownMu)

	// arity: every data worker + the utility worker + the main thread.
	p.startBarrier = newBarrier(cfg.NumWorkers + 1 + 1)
	p.tailBarrier = newBarrier(cfg.NumWorkers + 1 + 1)

	for i := 0; i < cfg.NumWorkers+1; i++ {
		p.hubs[WorkerID(i)] = NewMessageHub(WorkerID(i))
	}

	return p
}

func (p *ThreadPool) utilityWorkerID() WorkerID { return p.utilityID }

// UtilityWorkerID returns the id of the pool's utility worker, the one
// hosting the blocking-operation pool.
func (p *ThreadPool) UtilityWorkerID() WorkerID { return p.utilityID }

// BlockingPool returns the utility worker's blocking-operation pool, or
// nil if the utility worker has not constructed it yet.
func (p *ThreadPool) BlockingPool() *BlockingPool {
	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	return p.blockingPool
}

// Worker returns the worker with the given id, if it has been
// constructed yet.
func (p *ThreadPool) Worker(id WorkerID) (*Worker, bool) {
	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	w, ok := p.workers[id]
	return w, ok
}

// Run starts every worker, blocks until shutdown is requested (via
// Shutdown or a SIGINT/SIGTERM), then joins all workers and
// returns. It is meant to be called from what spec.md calls "the main
// thread".
func (p *ThreadPool) Run() error {
	var wg sync.WaitGroup
	p.group, _ = errgroup.WithContext(context.Background())

	numCPUs, err := numCPU()
	if err != nil || numCPUs < 1 {
		numCPUs = 1
	}

	for i := 0; i < p.cfg.NumWorkers+1; i++ {
		id := WorkerID(i)
		wg.Add(1)

		p.group.Go(func() error {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					classifyFault(r, p.log)
				}
			}()
			debug.SetPanicOnFault(true)

			stdruntime.LockOSThread()
			defer stdruntime.UnlockOSThread()

			if p.cfg.Affinity {
				if err := pinToCPU(int(id) % numCPUs); err != nil {
					p.log.Warnw("failed to set cpu affinity", "worker", id, "error", err)
				}
			}

			worker, err := NewWorker(id, p.hubs, p.log)
			if err != nil {
				return fmt.Errorf("constructing worker %d: %w", id, err)
			}

			p.tableMu.Lock()
			p.workers[id] = worker
			if id == p.utilityID {
				p.blockingPool = NewBlockingPool(p.cfg.BlockingPoolSize, p.log)
			}
			p.tableMu.Unlock()

			p.startBarrier.Wait()

			runErr := worker.Run()

			p.tailBarrier.Wait()

			return runErr
		})
	}

	p.installSignalHandlers()

	p.startBarrier.Wait() // main thread's side of the startup rendezvous

	p.waitForShutdownRequest()

	p.tableMu.Lock()
	for _, worker := range p.workers {
		worker.InitiateShutdown()
	}
	blockingPool := p.blockingPool
	p.tableMu.Unlock()

	close(p.tickStop)
	if blockingPool != nil {
		blockingPool.Stop()
	}

	p.tailBarrier.Wait() // main thread's side of the shutdown rendezvous

	wg.Wait()

	return p.group.Wait()
}

// Shutdown requests an orderly pool-wide shutdown. Safe to call from any
// worker, from the signal path, or from outside the pool entirely.
func (p *ThreadPool) Shutdown() {
	p.shutdownMu.Lock()
	p.shutdownRequested = true
	p.shutdownMu.Unlock()
	p.shutdownCond.Broadcast()
}

func (p *ThreadPool) waitForShutdownRequest() {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()

	for !p.shutdownRequested {
		p.shutdownCond.Wait()
	}
}
