package session

import (
	"context"
	"sync/atomic"
)

// txIdle tracks TX frames handed to the device that have not completed yet.
type txIdle struct {
	inFlight atomic.Int64
	idle     event
}

func (t *txIdle) started() {
	t.inFlight.Add(1)
}

func (t *txIdle) completed() {
	if t.inFlight.Add(-1) == 0 {
		t.idle.notify()
	}
}

// wait returns once no TX frame is in flight. The listener is armed before
// the second check so a completion between the two can not be missed.
func (t *txIdle) wait(ctx context.Context) error {
	for {
		if t.inFlight.Load() == 0 {
			return nil
		}
		idle := t.idle.listen()
		if t.inFlight.Load() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-idle:
		}
	}
}
