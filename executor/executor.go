// Package executor implements the single-threaded closure queue the bridge
// uses to collapse concurrency to message-passing between serial actors,
// per spec's scheduling model: a fixed set of single-threaded executors,
// with cross-executor communication via enqueued closures.
package executor

import "sync"

// Executor runs enqueued closures one at a time, in submission order, on a
// single background goroutine. uplink.Host uses one to run its lifecycle
// start/stop work off the caller's goroutine.
type Executor struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	closed chan struct{}
}

// New starts an Executor with the given task queue depth. A depth of 0
// makes Spawn block until the previous task has been picked up, which is
// appropriate for actors that must never build up backlog silently.
func New(queueDepth int) *Executor {
	e := &Executor{
		tasks:  make(chan func(), queueDepth),
		closed: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.closed)
	for task := range e.tasks {
		task()
	}
}

// Spawn enqueues a closure for serial execution. It panics if called after
// Close; callers on a shutdown path must stop calling Spawn before closing.
func (e *Executor) Spawn(task func()) {
	e.tasks <- task
}

// Close stops accepting new tasks and waits for the queue to drain and the
// worker goroutine to exit.
func (e *Executor) Close() {
	e.once.Do(func() {
		close(e.tasks)
	})
	<-e.closed
}
