// ABOUTME: Tests for the two-phase job queue
// ABOUTME: Checks ordering, pipelining and drain-on-close
package jobqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordJob appends phase markers to a shared trace.
type recordJob struct {
	name   string
	trace  *trace
	initFn func()
	runFn  func()
}

type trace struct {
	mu     sync.Mutex
	events []string
}

func (tr *trace) add(ev string) {
	tr.mu.Lock()
	tr.events = append(tr.events, ev)
	tr.mu.Unlock()
}

func (tr *trace) snapshot() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.events...)
}

func (j *recordJob) Init() {
	if j.initFn != nil {
		j.initFn()
	}
	j.trace.add("init:" + j.name)
}

func (j *recordJob) Run(sink *int) {
	if j.runFn != nil {
		j.runFn()
	}
	j.trace.add("run:" + j.name)
}

func TestJobsRunInOrder(t *testing.T) {
	tr := &trace{}
	var sink int
	q := New[*int](8, &sink, nil)
	for _, name := range []string{"a", "b", "c"} {
		require.True(t, q.Add(&recordJob{name: name, trace: tr}))
	}
	q.Start(2)
	q.Stop()

	events := tr.snapshot()
	var runs []string
	for _, ev := range events {
		if ev[0] == 'r' {
			runs = append(runs, ev)
		}
	}
	assert.Equal(t, []string{"run:a", "run:b", "run:c"}, runs)
}

func TestInitOverlapsPreviousRun(t *testing.T) {
	// Job b's Init must be able to start while job a's Run is still
	// in progress.
	tr := &trace{}
	var sink int
	q := New[*int](8, &sink, nil)

	aRunning := make(chan struct{})
	bInitDone := make(chan struct{})
	release := make(chan struct{})

	q.Add(&recordJob{name: "a", trace: tr, runFn: func() {
		close(aRunning)
		<-release
	}})
	q.Add(&recordJob{name: "b", trace: tr, initFn: func() {
		close(bInitDone)
	}})
	q.Start(2)

	<-aRunning
	select {
	case <-bInitDone:
	case <-time.After(time.Second):
		t.Fatal("next job's Init did not overlap previous Run")
	}
	close(release)
	q.Stop()
}

func TestRunsNeverOverlap(t *testing.T) {
	var sink int
	var active, maxActive atomic.Int32
	tr := &trace{}
	q := New[*int](16, &sink, nil)
	for i := 0; i < 10; i++ {
		q.Add(&recordJob{name: "x", trace: tr, runFn: func() {
			n := active.Add(1)
			if m := maxActive.Load(); n > m {
				maxActive.CompareAndSwap(m, n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}})
	}
	q.Start(4)
	q.Stop()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	tr := &trace{}
	var sink int
	q := New[*int](8, &sink, nil)
	for i := 0; i < 5; i++ {
		q.Add(&recordJob{name: "j", trace: tr})
	}
	q.Start(2)
	q.Stop()
	assert.Len(t, tr.snapshot(), 10) // 5 inits + 5 runs

	// Adds after close are rejected.
	assert.False(t, q.Add(&recordJob{name: "late", trace: tr}))
}

func TestAddNilJob(t *testing.T) {
	var sink int
	q := New[*int](8, &sink, nil)
	assert.False(t, q.Add(nil))
	q.Start(1)
	q.Stop()
}

func TestShouldRunStopsWorkers(t *testing.T) {
	tr := &trace{}
	var sink int
	var run atomic.Bool
	run.Store(true)
	q := New[*int](8, &sink, run.Load)
	q.Add(&recordJob{name: "a", trace: tr, runFn: func() {
		run.Store(false)
	}})
	q.Add(&recordJob{name: "b", trace: tr})
	q.Start(1)

	done := make(chan struct{})
	go func() { q.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not honor the stop flag")
	}
}
