package session

import (
	"sync"

	"github.com/NomadArchitect/fuchsia-sub001/zx"
)

// readyBuffer amortizes FIFO reads. It reads a whole batch at once and hands
// the IDs out one at a time.
type readyBuffer[K Kind] struct {
	mu    sync.Mutex
	buf   []DescID[K]
	start int
	end   int
}

func newReadyBuffer[K Kind](capacity int) *readyBuffer[K] {
	return &readyBuffer[K]{buf: make([]DescID[K], capacity)}
}

// poll returns the next ID read from f. When nothing is buffered and the FIFO
// is empty it reports not ready and w is woken when the FIFO has data.
func (r *readyBuffer[K]) poll(f fifo[K], w *zx.Waker) (DescID[K], bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.start == r.end {
		n, err := f.tryRead(w, r.buf)
		if err != nil {
			return 0, false, err
		}
		if n == 0 {
			return 0, false, nil
		}
		r.start, r.end = 0, n
	}

	id := r.buf[r.start]
	r.start++
	return id, true, nil
}

func (r *readyBuffer[K]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.end - r.start
}
