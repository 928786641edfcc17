package session

import (
	"context"
	"errors"

	"github.com/NomadArchitect/fuchsia-sub001/zx"
)

// Task moves descriptors between the session and the device. It must run for
// the whole life of the session.
type Task struct {
	s      *Session
	exited chan struct{}
}

// Run drives the session until ctx ends, the session is closed, or a fatal
// error occurs. It returns nil in the first two cases, also when the session
// was closed before Run was called, and the fatal error, which is also
// reported by later session calls, otherwise.
func (t *Task) Run(ctx context.Context) error {
	s := t.s

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return t.result()
	}
	if s.taskStarted {
		s.mu.Unlock()
		return errors.New("session task is already running")
	}
	s.taskStarted = true
	s.mu.Unlock()
	defer close(t.exited)

	s.log().Debug("Session task started")
	defer s.log().Debug("Session task exited")

	w := zx.NewWaker()
	for {
		if err := s.poll(w); err != nil {
			if s.err() == nil {
				s.fail(err)
			}
			return t.result()
		}

		select {
		case <-ctx.Done():
			s.cancel(errTaskStopped)
			return t.result()
		case <-s.ctx.Done():
			return t.result()
		case <-w.C():
		}
	}
}

func (t *Task) result() error {
	err := t.s.err()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// poll completes TX, submits RX and submits TX until none of them makes
// progress. Every sub-poll that is not ready has arranged for w to be woken.
func (s *Session) poll(w *zx.Waker) error {
	for {
		progress := false

		for {
			ok, err := s.pollCompleteTx(w)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			progress = true
		}

		_, ok, err := s.pool.rxPending.pollSubmit(s.rx, w)
		if err != nil {
			return &FifoError{Op: "write", Dir: "rx", Err: err}
		}
		progress = progress || ok

		_, ok, err = s.txPending.pollSubmit(s.tx, w)
		if err != nil {
			return &FifoError{Op: "write", Dir: "tx", Err: err}
		}
		progress = progress || ok

		if !progress {
			return nil
		}
	}
}

// pollCompleteTx takes one completed TX descriptor back from the device.
func (s *Session) pollCompleteTx(w *zx.Waker) (bool, error) {
	id, ok, err := s.txReady.poll(s.tx, w)
	if err != nil {
		return false, &FifoError{Op: "read", Dir: "tx", Err: err}
	}
	if !ok {
		return false, nil
	}

	if err := s.pool.txCompleted(id); err != nil {
		return false, err
	}
	s.txIdle.completed()
	s.metrics.txCompleted.Inc(1)
	return true, nil
}
