//go:build !linux

package zx

import "fmt"

// Vmo is a shared memory object backed by process memory.
type Vmo struct {
	name   string
	mem    []byte
	closed bool
}

func NewVmo(name string, size int) (*Vmo, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: vmo size %d", StatusInvalidArgs, size)
	}
	return &Vmo{name: name, mem: make([]byte, roundToPage(size))}, nil
}

func (v *Vmo) Name() string { return v.name }
func (v *Vmo) Size() int    { return len(v.mem) }

func (v *Vmo) Map() (*Mapping, error) {
	if v.closed {
		return nil, StatusBadHandle
	}
	return &Mapping{b: v.mem, unmap: func([]byte) error { return nil }}, nil
}

func (v *Vmo) Close() error {
	if v.closed {
		return StatusBadHandle
	}
	v.closed = true
	return nil
}
