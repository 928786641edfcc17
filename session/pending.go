package session

import (
	"sync"

	"github.com/NomadArchitect/fuchsia-sub001/zx"
)

// pending holds descriptors waiting to be written to a FIFO. Only one task
// submits, so a single waker slot is enough.
type pending[K Kind] struct {
	mu    sync.Mutex
	ids   []DescID[K]
	waker *zx.Waker

	// mark, when set, is called with inFlight true for every ID right before
	// it is offered to the FIFO and with inFlight false for the ones the FIFO
	// did not take.
	mark func(ids []DescID[K], inFlight bool)
}

// extend queues ids and wakes the submitter if it is parked.
func (p *pending[K]) extend(ids ...DescID[K]) {
	p.mu.Lock()
	p.ids = append(p.ids, ids...)
	w := p.waker
	p.waker = nil
	p.mu.Unlock()

	if w != nil {
		w.Wake()
	}
}

func (p *pending[K]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// pollSubmit writes as many queued IDs as the FIFO accepts. It reports ready
// when at least one was written. Otherwise w is woken once there is something
// to submit or the FIFO has room again.
func (p *pending[K]) pollSubmit(f fifo[K], w *zx.Waker) (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.ids) == 0 {
		if p.waker != nil && p.waker != w {
			p.waker.Wake()
		}
		p.waker = w
		return 0, false, nil
	}

	if p.mark != nil {
		p.mark(p.ids, true)
	}
	n, err := f.tryWrite(w, p.ids)
	if p.mark != nil && n < len(p.ids) {
		p.mark(p.ids[n:], false)
	}
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}

	p.ids = append(p.ids[:0], p.ids[n:]...)
	return n, true, nil
}
