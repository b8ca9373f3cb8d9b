package tracer

import (
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Linux delivers ptrace stops to the tracing thread, so every ptrace and
// waitpid call (and the fork of each leader) has to happen on one OS
// thread. The executor is that thread: a locked goroutine that runs
// closures sent to it in order.
type executor struct {
	requests chan executorRequest
	quit     chan struct{}
}

type executorRequest struct {
	fn   func() error
	done chan error
}

func newExecutor() *executor {
	e := &executor{
		requests: make(chan executorRequest),
		quit:     make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *executor) loop() {
	runtime.LockOSThread()
	log.Debug("tracer.executor: ptrace thread started")
	for {
		select {
		case req := <-e.requests:
			req.done <- req.fn()
		case <-e.quit:
			return
		}
	}
}

// do runs fn on the ptrace thread and waits for it to finish. Calls from
// the ptrace thread itself would deadlock; nothing in this package does
// that.
func (e *executor) do(fn func() error) error {
	done := make(chan error, 1)
	e.requests <- executorRequest{fn: fn, done: done}
	return <-done
}

func (e *executor) stop() {
	close(e.quit)
}
