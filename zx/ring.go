package zx

import (
	"fmt"
	"unsafe"
)

// ringSize is the number of bytes needed to store a ring with the given
// depth in memory.
func ringSize(depth int) int {
	return 4 + 2*depth
}

// ring is a single-producer single-consumer queue of 16-bit records laid out
// in a flat piece of memory:
//
//	[0:2] write index
//	[2:4] read index
//	[4:]  entries
//
// Both indexes are free running and wrap at 2^16. Because the depth is a
// power of two, the entry slot is always index modulo depth and the number of
// queued entries is write-read in 16-bit arithmetic.
type ring struct {
	writeIndex *uint16
	readIndex  *uint16
	entries    []uint16
}

func newRing(depth int, mem []byte) *ring {
	size := ringSize(depth)
	if len(mem) != size {
		panic(fmt.Sprintf("memory size (%v) does not match required size "+
			"for ring: %v", len(mem), size))
	}

	return &ring{
		writeIndex: (*uint16)(unsafe.Pointer(&mem[0])),
		readIndex:  (*uint16)(unsafe.Pointer(&mem[2])),
		entries:    unsafe.Slice((*uint16)(unsafe.Pointer(&mem[4])), depth),
	}
}

func (r *ring) len() int {
	return int(*r.writeIndex - *r.readIndex)
}

func (r *ring) free() int {
	return len(r.entries) - r.len()
}

// push writes as many of the given records as fit and returns how many did.
func (r *ring) push(records []uint16) int {
	n := min(len(records), r.free())
	mask := uint16(len(r.entries) - 1)
	for i := 0; i < n; i++ {
		r.entries[*r.writeIndex&mask] = records[i]
		*r.writeIndex++
	}
	return n
}

// pop moves up to len(dst) records into dst and returns how many it moved.
func (r *ring) pop(dst []uint16) int {
	n := min(len(dst), r.len())
	mask := uint16(len(r.entries) - 1)
	for i := 0; i < n; i++ {
		dst[i] = r.entries[*r.readIndex&mask]
		*r.readIndex++
	}
	return n
}
