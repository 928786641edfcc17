package zx

// Waker is a single-slot wakeup signal. Any number of Wake calls made before
// the owner drains C coalesce into one wakeup.
type Waker struct {
	c chan struct{}
}

func NewWaker() *Waker {
	return &Waker{c: make(chan struct{}, 1)}
}

// Wake never blocks.
func (w *Waker) Wake() {
	select {
	case w.c <- struct{}{}:
	default:
	}
}

// C returns the channel that receives a value after Wake.
func (w *Waker) C() <-chan struct{} {
	return w.c
}

// wakeAll wakes every waker in ws and returns the emptied slice for reuse.
func wakeAll(ws []*Waker) []*Waker {
	for _, w := range ws {
		w.Wake()
	}
	clear(ws)
	return ws[:0]
}

// register adds w to ws unless it is already present.
func register(ws []*Waker, w *Waker) []*Waker {
	for _, x := range ws {
		if x == w {
			return ws
		}
	}
	return append(ws, w)
}
