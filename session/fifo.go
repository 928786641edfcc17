package session

import (
	"unsafe"

	"github.com/NomadArchitect/fuchsia-sub001/zx"
)

// fifo is a descriptor FIFO carrying IDs of a single kind.
type fifo[K Kind] struct {
	f *zx.Fifo
}

func records[K Kind](ids []DescID[K]) []uint16 {
	if len(ids) == 0 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&ids[0])), len(ids))
}

func (f fifo[K]) tryWrite(w *zx.Waker, ids []DescID[K]) (int, error) {
	return f.f.TryWrite(w, records(ids))
}

func (f fifo[K]) tryRead(w *zx.Waker, dst []DescID[K]) (int, error) {
	return f.f.TryRead(w, records(dst))
}

func (f fifo[K]) close() error {
	return f.f.Close()
}
