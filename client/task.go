package client

// Task is a unit of background work whose completion and error are
// observable by the caller. User-triggered actions run as Tasks instead of
// fire-and-forget goroutines so the UI can report failures.
type Task struct {
	done chan struct{}
	err  error
}

// Go runs fn on its own goroutine and returns the Task tracking it.
func Go(fn func() error) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		t.err = fn()
		close(t.done)
	}()
	return t
}

// Done is closed once the work has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the work finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}
