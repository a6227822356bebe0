// ABOUTME: Ordered two-phase decoder job queue
// ABOUTME: init runs serialized while the previous job's run may still overlap
package jobqueue

import (
	"sync"

	"github.com/ziplantil/exocaster/internal/buffer"
)

// Job is one unit of decoder work. Init runs while holding the init
// lock and may read metadata; Run produces PCM into the sink value and
// runs while holding the running lock. The locks pipeline the queue:
// job N+1's Init may overlap job N's Run, but two Inits or two Runs
// never overlap, and output order matches queue order.
type Job[T any] interface {
	Init()
	Run(sink T)
}

// Queue is a bounded FIFO of jobs executed by a pool of workers under
// the two-phase contract.
type Queue[T any] struct {
	jobs      *buffer.Ring[Job[T]]
	running   sync.Mutex
	init      sync.Mutex
	waiting   sync.Mutex
	wg        sync.WaitGroup
	sink      T
	shouldRun func() bool
}

// New creates a job queue holding up to size pending jobs. Workers
// pass sink to every job's Run. shouldRun may be nil; when it returns
// false workers exit after their current job.
func New[T any](size int, sink T, shouldRun func() bool) *Queue[T] {
	if shouldRun == nil {
		shouldRun = func() bool { return true }
	}
	return &Queue[T]{
		jobs:      buffer.NewRing[Job[T]](size),
		sink:      sink,
		shouldRun: shouldRun,
	}
}

// Add enqueues a job, blocking while the queue is full. A nil job is
// ignored. Returns false if the queue is closed.
func (q *Queue[T]) Add(job Job[T]) bool {
	if job == nil {
		return false
	}
	return q.jobs.Put(job)
}

func (q *Queue[T]) work() {
	defer q.wg.Done()
	for q.shouldRun() {
		q.waiting.Lock()
		job, ok := q.jobs.Get()
		if !ok {
			q.waiting.Unlock()
			if q.jobs.Closed() {
				return
			}
			continue
		}
		q.init.Lock()
		q.waiting.Unlock()
		job.Init()
		q.running.Lock()
		q.init.Unlock()
		job.Run(q.sink)
		q.running.Unlock()
	}
}

// Start launches workers.
func (q *Queue[T]) Start(workers int) {
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
}

// Close stops accepting jobs; queued jobs still run.
func (q *Queue[T]) Close() {
	q.jobs.Close()
}

// Stop closes the queue and waits for the workers to drain.
func (q *Queue[T]) Stop() {
	q.Close()
	q.wg.Wait()
}
