package livequery

import "sync"

// Runner is a single-consumer task queue. Every entry point into one
// subscription's publication tree runs as a Runner task, so refcount and
// doc-hash state never see concurrent access even when cursors deliver
// events from arbitrary goroutines.
type Runner struct {
	mu      sync.Mutex
	tasks   chan func()
	quit    chan struct{}
	done    chan struct{}
	stopped bool
}

func NewRunner(depth int) *Runner {
	if depth <= 0 {
		depth = 256
	}
	return &Runner{
		tasks: make(chan func(), depth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Enqueue schedules fn on the run loop. It reports false if the runner is
// stopped; the task is dropped in that case.
func (r *Runner) Enqueue(fn func()) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	select {
	case r.tasks <- fn:
		return true
	case <-r.quit:
		return false
	}
}

// Run consumes tasks until Stop, then drains whatever is already queued and
// returns. It must be called exactly once.
func (r *Runner) Run() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			for {
				select {
				case fn := <-r.tasks:
					fn()
				default:
					return
				}
			}
		case fn := <-r.tasks:
			fn()
		}
	}
}

// Stop ends the run loop after queued tasks drain. Safe to call more than
// once and from any goroutine except the run loop itself.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.quit)
	}
	r.mu.Unlock()
}

// Done is closed once Run has drained and returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}
