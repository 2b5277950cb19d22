package nodert

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAsyncPool_RunsSubmittedWork(t *testing.T) {
	p := NewAsyncPool(2, 4)
	defer p.Shutdown()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()
	if got := count.Load(); got != 10 {
		t.Errorf("executed %d tasks, want 10", got)
	}
}

// Saturate workers and queue, then submit one more: the extra task must run
// on the submitter's goroutine instead of being dropped.
func TestAsyncPool_CallerRunsWhenSaturated(t *testing.T) {
	const workers = 2
	const queue = 2
	p := NewAsyncPool(workers, queue)
	defer p.Shutdown()

	release := make(chan struct{})
	var blocked sync.WaitGroup
	blocked.Add(workers)
	// Fill every worker with a blocking task.
	for i := 0; i < workers; i++ {
		p.Submit(func() {
			blocked.Done()
			<-release
		})
	}
	blocked.Wait()
	// Fill the queue.
	for i := 0; i < queue; i++ {
		p.Submit(func() { <-release })
	}

	submitterDone := make(chan bool, 1)
	go func() {
		ran := false
		p.Submit(func() { ran = true })
		// Submit returned, so with caller-runs the task already executed on
		// this goroutine.
		submitterDone <- ran
	}()

	select {
	case ran := <-submitterDone:
		if !ran {
			t.Error("rejected task did not run on the submitter's goroutine")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked; caller-runs policy should never block the submitter")
	}
	close(release)
}

func TestAsyncPool_ShutdownDrainsQueue(t *testing.T) {
	p := NewAsyncPool(1, 8)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		p.Submit(func() {
			time.Sleep(5 * time.Millisecond)
			count.Add(1)
		})
	}
	p.Shutdown()
	if got := count.Load(); got != 5 {
		t.Errorf("executed %d tasks before Shutdown returned, want 5", got)
	}
}

func TestUnboundedPool_WaitsForAllTasks(t *testing.T) {
	p := NewUnboundedPool()
	var count atomic.Int32
	for i := 0; i < 20; i++ {
		p.Go(func() {
			time.Sleep(time.Millisecond)
			count.Add(1)
		})
	}
	p.Wait()
	if got := count.Load(); got != 20 {
		t.Errorf("executed %d tasks, want 20", got)
	}
}
