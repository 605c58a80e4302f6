package trade

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// lanes runs jobs serialized per key on a bounded pool of workers. Jobs of
// the same key run one at a time in submission order, jobs of different
// keys run concurrently, up to the size of the pool.
type lanes struct {
	sem      *semaphore.Weighted
	lock     sync.Mutex
	queues   map[string]*lane
	wg       sync.WaitGroup
	closed   bool
	onChange func(active int)
}

type lane struct {
	jobs []func()
}

func newLanes(numWorkers int, onChange func(active int)) *lanes {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if onChange == nil {
		onChange = func(int) {}
	}
	return &lanes{
		sem:      semaphore.NewWeighted(int64(numWorkers)),
		queues:   make(map[string]*lane),
		onChange: onChange,
	}
}

// submit enqueues the job in the lane of the given key.
func (l *lanes) submit(key string, job func()) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.closed {
		return ErrShuttingDown
	}
	q, ok := l.queues[key]
	if !ok {
		q = &lane{}
		l.queues[key] = q
		l.wg.Add(1)
		go l.drain(key, q)
		l.onChange(len(l.queues))
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// do runs fn in the lane of the given key and waits for its result. fn is
// skipped if ctx is done by the time its turn comes.
func (l *lanes) do(ctx context.Context, key string, fn func() error) error {
	res := make(chan error, 1)
	job := func() {
		if err := ctx.Err(); err != nil {
			res <- err
			return
		}
		res <- fn()
	}
	if err := l.submit(key, job); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lanes) drain(key string, q *lane) {
	defer l.wg.Done()

	for {
		l.lock.Lock()
		if len(q.jobs) <= 0 {
			delete(l.queues, key)
			l.onChange(len(l.queues))
			l.lock.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		l.lock.Unlock()

		//nolint
		l.sem.Acquire(context.Background(), 1)
		job()
		l.sem.Release(1)
	}
}

// close rejects any further job and waits up to the given grace period for
// the queued ones to complete. It returns false if the lanes didn't drain in
// time.
func (l *lanes) close(grace time.Duration) bool {
	l.lock.Lock()
	l.closed = true
	l.lock.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
