package zx

import (
	"os"
	"sync"
)

// Mapping is a read-write view of a [Vmo]. Several mappings of the same Vmo
// observe each other's writes.
type Mapping struct {
	mu    sync.Mutex
	b     []byte
	unmap func([]byte) error
}

// Bytes returns the mapped memory. It must not be used after Close.
func (m *Mapping) Bytes() []byte {
	return m.b
}

func (m *Mapping) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.b == nil {
		return StatusBadHandle
	}
	b := m.b
	m.b = nil
	return m.unmap(b)
}

// roundToPage rounds size up to a multiple of the page size.
func roundToPage(size int) int {
	page := os.Getpagesize()
	return (size + page - 1) / page * page
}
