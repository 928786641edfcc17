package zx

import (
	"context"
	"fmt"
	"sync"
)

// Rights restrict what a handle may be used for.
type Rights uint32

const (
	RightRead Rights = 1 << iota
	RightWrite

	RightsFifo = RightRead | RightWrite
)

// MaxFifoDepth is the largest power of two whose ring indexes still wrap
// correctly in 16 bits.
const MaxFifoDepth = 32768

// CheckFifoDepth returns a [StatusOutOfRange] wrapped error if depth is not a
// valid FIFO depth.
func CheckFifoDepth(depth int) error {
	if depth <= 0 {
		return fmt.Errorf("%w: fifo depth %d is too small", StatusOutOfRange, depth)
	}

	if depth&(depth-1) != 0 {
		return fmt.Errorf("%w: fifo depth %d is not a power of 2", StatusOutOfRange, depth)
	}

	if depth > MaxFifoDepth {
		return fmt.Errorf("%w: fifo depth %d is larger than the maximum %d",
			StatusOutOfRange, depth, MaxFifoDepth)
	}

	return nil
}

// fifoEnd is the per-endpoint state, guarded by fifoPair.mu.
type fifoEnd struct {
	closed bool
	// readers wait for the peer to write.
	readers []*Waker
	// writers wait for the peer to read.
	writers []*Waker
}

type fifoPair struct {
	mu sync.Mutex
	// rings[i] is written by end i and read by the other end.
	rings [2]*ring
	ends  [2]fifoEnd
}

// Fifo is one end of a bidirectional queue of 16-bit records. Records written
// on one end are read, in order, from the other.
type Fifo struct {
	pair   *fifoPair
	side   int
	rights Rights
	// valid is guarded by pair.mu. It is cleared when the handle is closed or
	// replaced.
	valid bool
}

// NewFifoPair creates both ends of a FIFO able to hold depth records in each
// direction.
func NewFifoPair(depth int) (*Fifo, *Fifo, error) {
	if err := CheckFifoDepth(depth); err != nil {
		return nil, nil, err
	}

	p := &fifoPair{}
	for i := range p.rings {
		p.rings[i] = newRing(depth, make([]byte, ringSize(depth)))
	}

	return &Fifo{pair: p, side: 0, rights: RightsFifo, valid: true},
		&Fifo{pair: p, side: 1, rights: RightsFifo, valid: true},
		nil
}

func (f *Fifo) peer() int {
	return 1 - f.side
}

// Depth returns the number of records each direction can hold.
func (f *Fifo) Depth() int {
	return len(f.pair.rings[f.side].entries)
}

func (f *Fifo) Rights() Rights {
	return f.rights
}

// checkLocked validates the handle for an operation requiring r.
func (f *Fifo) checkLocked(r Rights, n int) error {
	if !f.valid {
		return StatusBadHandle
	}
	if f.rights&r != r {
		return StatusAccessDenied
	}
	if n == 0 {
		return StatusOutOfRange
	}
	return nil
}

// TryWrite writes as many records as fit and returns how many were written.
// When the FIFO is full it returns 0 and arranges for w to be woken once the
// peer has read.
func (f *Fifo) TryWrite(w *Waker, records []uint16) (int, error) {
	p := f.pair
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := f.checkLocked(RightWrite, len(records)); err != nil {
		return 0, err
	}
	if p.ends[f.peer()].closed {
		return 0, StatusPeerClosed
	}

	n := p.rings[f.side].push(records)
	if n == 0 {
		if w != nil {
			p.ends[f.side].writers = register(p.ends[f.side].writers, w)
		}
		return 0, nil
	}

	p.ends[f.peer()].readers = wakeAll(p.ends[f.peer()].readers)
	return n, nil
}

// TryRead moves up to len(dst) records into dst and returns how many it moved.
// When the FIFO is empty it returns 0 and arranges for w to be woken once the
// peer has written. Records written before the peer closed can still be read;
// after that reads fail with [StatusPeerClosed].
func (f *Fifo) TryRead(w *Waker, dst []uint16) (int, error) {
	p := f.pair
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := f.checkLocked(RightRead, len(dst)); err != nil {
		return 0, err
	}

	n := p.rings[f.peer()].pop(dst)
	if n == 0 {
		if p.ends[f.peer()].closed {
			return 0, StatusPeerClosed
		}
		if w != nil {
			p.ends[f.side].readers = register(p.ends[f.side].readers, w)
		}
		return 0, nil
	}

	p.ends[f.peer()].writers = wakeAll(p.ends[f.peer()].writers)
	return n, nil
}

// Write blocks until at least one record was written.
func (f *Fifo) Write(ctx context.Context, records []uint16) (int, error) {
	w := NewWaker()
	for {
		n, err := f.TryWrite(w, records)
		if err != nil || n > 0 {
			return n, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-w.C():
		}
	}
}

// Read blocks until at least one record was read.
func (f *Fifo) Read(ctx context.Context, dst []uint16) (int, error) {
	w := NewWaker()
	for {
		n, err := f.TryRead(w, dst)
		if err != nil || n > 0 {
			return n, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-w.C():
		}
	}
}

// Replace returns a new handle to the same end with the given rights and
// invalidates f. Rights can only be reduced.
func (f *Fifo) Replace(rights Rights) (*Fifo, error) {
	p := f.pair
	p.mu.Lock()
	defer p.mu.Unlock()

	if !f.valid {
		return nil, StatusBadHandle
	}
	if rights&^f.rights != 0 {
		return nil, StatusAccessDenied
	}

	f.valid = false
	return &Fifo{pair: p, side: f.side, rights: rights, valid: true}, nil
}

// Close closes this end. Blocked operations on both ends are woken so they can
// observe the closure.
func (f *Fifo) Close() error {
	p := f.pair
	p.mu.Lock()
	defer p.mu.Unlock()

	if !f.valid {
		return StatusBadHandle
	}
	f.valid = false
	p.ends[f.side].closed = true

	for i := range p.ends {
		p.ends[i].readers = wakeAll(p.ends[i].readers)
		p.ends[i].writers = wakeAll(p.ends[i].writers)
	}
	return nil
}
