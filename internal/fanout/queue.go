package fanout

import (
	"context"
	"sync"

	"github.com/sawdustofmind/livescore-fanout/internal/metrics"
)

const DefaultWorkers = 2

// Job is one unit of fan-out work for a single fixture.
type Job func(ctx context.Context)

// Queue runs jobs keyed by fixture id on a fixed set of workers. Each key
// has one pending slot: a job submitted while an older one for the same key
// is still waiting replaces it. At most one job per key runs at a time, so
// writes for a fixture stay ordered.
type Queue struct {
	metrics *metrics.Metrics

	mu        sync.Mutex
	cond      *sync.Cond
	pending   map[int]Job
	ready     []int
	inflight  map[int]struct{}
	closed    bool
	coalesced int64

	wg sync.WaitGroup
}

func NewQueue(workers int, m *metrics.Metrics) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	q := &Queue{
		metrics:  m,
		pending:  make(map[int]Job),
		inflight: make(map[int]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit queues job under key. It reports false once the queue is closed.
func (q *Queue) Submit(key int, job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if _, ok := q.pending[key]; ok {
		q.pending[key] = job
		q.coalesced++
		q.metrics.IncCoalesced()
		return true
	}
	q.pending[key] = job
	if _, running := q.inflight[key]; !running {
		q.ready = append(q.ready, key)
		q.cond.Broadcast()
	}
	return true
}

// Coalesced returns how many pending jobs were replaced before running.
func (q *Queue) Coalesced() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.coalesced
}

// Len returns the number of queued and running jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

// Drain blocks until no job is queued or running, or ctx is done.
func (q *Queue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for len(q.pending) > 0 || len(q.inflight) > 0 {
			q.cond.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, lets workers finish what is queued and waits
// for them.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	ctx := context.Background()

	q.mu.Lock()
	for {
		for len(q.ready) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.ready) == 0 {
			q.mu.Unlock()
			return
		}
		key := q.ready[0]
		q.ready = q.ready[1:]
		job := q.pending[key]
		delete(q.pending, key)
		q.inflight[key] = struct{}{}
		q.mu.Unlock()

		job(ctx)

		q.mu.Lock()
		delete(q.inflight, key)
		if _, ok := q.pending[key]; ok {
			q.ready = append(q.ready, key)
		}
		q.cond.Broadcast()
	}
}
