package pipeline

import (
	"context"
	"sync"
)

// Inline runs tasks on the posting goroutine
type Inline struct{}

// Post runs task immediately
func (Inline) Post(task func()) bool {
	task()
	return true
}

// Worker runs tasks on one background goroutine, in order
type Worker struct {
	tasks  chan func()
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewWorker starts a worker holding up to queue pending tasks
func NewWorker(queue int) *Worker {
	if queue < 1 {
		queue = 1
	}
	w := &Worker{
		tasks: make(chan func(), queue),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for task := range w.tasks {
		task()
	}
}

// Post queues task, returning false when the queue is full or closed
func (w *Worker) Post(task func()) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return false
	}
	select {
	case w.tasks <- task:
		return true
	default:
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.tasks)
	}
	w.mu.Unlock()
	<-w.done
}

// Loop queues tasks for whichever goroutine drives it. The command drives
// it from the locked main thread so window calls stay on that thread.
type Loop struct {
	tasks chan func()
}

// NewLoop creates a loop holding up to queue pending tasks
func NewLoop(queue int) *Loop {
	if queue < 1 {
		queue = 1
	}
	return &Loop{tasks: make(chan func(), queue)}
}

// Post queues task, returning false when the queue is full
func (l *Loop) Post(task func()) bool {
	select {
	case l.tasks <- task:
		return true
	default:
		return false
	}
}

// RunPending runs queued tasks without blocking and returns how many ran
func (l *Loop) RunPending() int {
	n := 0
	for {
		select {
		case task := <-l.tasks:
			task()
			n++
		default:
			return n
		}
	}
}

// Run executes tasks until ctx is done
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-l.tasks:
			task()
		}
	}
}
