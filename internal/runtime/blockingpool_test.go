package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlockingPoolRunsJobAndPostsContinuation(t *testing.T) {
	hubs := map[WorkerID]*MessageHub{0: NewMessageHub(0)}
	worker, err := NewWorker(0, hubs, nil)
	require.NoError(t, err)

	pool := NewBlockingPool(2, nil)
	defer pool.Stop()

	result := make(chan string, 1)

	pool.Submit(BlockingJob{
		Fn: func() ([]byte, error) {
			return []byte("done"), nil
		},
		Submitter: worker,
		Continue: func(data []byte, err error) *Message {
			return NewMessage(func(w *Worker) {
				result <- string(data)
				w.InitiateShutdown()
			})
		},
	})

	done := make(chan error, 1)
	go func() { done <- worker.Run() }()

	select {
	case r := <-result:
		require.Equal(t, "done", r)
	case <-time.After(5 * time.Second):
		t.Fatal("blocking job completion never delivered")
	}

	<-done
}

func TestBlockingPoolPropagatesError(t *testing.T) {
	hubs := map[WorkerID]*MessageHub{0: NewMessageHub(0)}
	worker, err := NewWorker(0, hubs, nil)
	require.NoError(t, err)

	pool := NewBlockingPool(1, nil)
	defer pool.Stop()

	wantErr := errors.New("boom")
	result := make(chan error, 1)

	pool.Submit(BlockingJob{
		Fn: func() ([]byte, error) { return nil, wantErr },
		Submitter: worker,
		Continue: func(_ []byte, err error) *Message {
			return NewMessage(func(w *Worker) {
				result <- err
				w.InitiateShutdown()
			})
		},
	})

	go func() { _ = worker.Run() }()

	select {
	case err := <-result:
		require.ErrorIs(t, err, wantErr)
	case <-time.After(5 * time.Second):
		t.Fatal("error never propagated")
	}
}

func TestBlockingPoolInFlightTracksRunningJobs(t *testing.T) {
	pool := NewBlockingPool(1, nil)
	defer pool.Stop()

	release := make(chan struct{})
	started := make(chan struct{})

	hubs := map[WorkerID]*MessageHub{0: NewMessageHub(0)}
	worker, err := NewWorker(0, hubs, nil)
	require.NoError(t, err)

	pool.Submit(BlockingJob{
		Fn: func() ([]byte, error) {
			close(started)
			<-release
			return nil, nil
		},
		Submitter: worker,
		Continue:  func([]byte, error) *Message { return nil },
	})

	<-started
	require.Equal(t, int64(1), pool.InFlight())
	close(release)
}
