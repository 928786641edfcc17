package session

import "sync"

// event is a broadcast notification. Waiters call listen, re-check their
// condition, and then block on the returned channel. notify wakes every
// listener registered so far.
type event struct {
	mu sync.Mutex
	ch chan struct{}
}

func (e *event) listen() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == nil {
		e.ch = make(chan struct{})
	}
	return e.ch
}

func (e *event) notify() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch != nil {
		close(e.ch)
		e.ch = nil
	}
}
