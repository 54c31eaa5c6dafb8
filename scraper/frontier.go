package scraper

import "sync"

// Task is one listing page to process.
type Task struct {
	URL    string
	PageNo int
	// Retry marks a page re-queued for the heavy engine; it skips the processed-page check.
	Retry bool
}

// frontier is the shared work queue. next blocks until a task is available, or
// returns false once the queue is empty with nothing in flight, or after close.
type frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Task
	inflight int
	closed   bool
}

func newFrontier() *frontier {
	f := &frontier{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// push enqueues tasks. It returns false when the frontier is closed.
func (f *frontier) push(tasks ...Task) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.queue = append(f.queue, tasks...)
	f.cond.Broadcast()
	return true
}

func (f *frontier) next() (Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for !f.closed && len(f.queue) == 0 && f.inflight > 0 {
		f.cond.Wait()
	}
	if f.closed || len(f.queue) == 0 {
		f.cond.Broadcast()
		return Task{}, false
	}
	t := f.queue[0]
	f.queue = f.queue[1:]
	f.inflight++
	return t, true
}

// done marks a task returned by next as finished. Follow-up tasks must be
// pushed before done is called.
func (f *frontier) done() {
	f.mu.Lock()
	f.inflight--
	f.cond.Broadcast()
	f.mu.Unlock()
}

// close drops queued tasks and wakes every waiter.
func (f *frontier) close() {
	f.mu.Lock()
	f.closed = true
	f.queue = nil
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *frontier) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}
