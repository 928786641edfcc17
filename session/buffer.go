package session

import (
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
)

// part is one descriptor of a buffer and the bytes it covers.
type part struct {
	id   uint16
	desc *netdev.Descriptor
	data []byte
}

// Buffer is a view of one frame in the data region. RX buffers hold a
// received frame, possibly spread over a chain of descriptors. TX buffers
// hold a frame being built for [Session.Send].
//
// A Buffer must be released once it is no longer needed. Buffers that are
// garbage collected without Release are returned by a finalizer.
type Buffer[K Kind] struct {
	pool  *pool
	parts []part
	len   int
	cap   int
}

func newBuffer[K Kind](p *pool, parts []part, length int) *Buffer[K] {
	b := &Buffer[K]{pool: p, parts: parts, len: length}
	for _, pt := range parts {
		b.cap += len(pt.data)
	}
	runtime.SetFinalizer(b, func(b *Buffer[K]) { b.Release() })
	return b
}

func (b *Buffer[K]) mustLive() {
	if b.parts == nil {
		var k K
		panic("session: use of released " + k.name() + " buffer")
	}
}

// Len is the frame length.
func (b *Buffer[K]) Len() int { return b.len }

// Cap is the number of payload bytes the buffer can hold.
func (b *Buffer[K]) Cap() int { return b.cap }

// Write appends p to the frame.
func (b *Buffer[K]) Write(p []byte) (int, error) {
	return b.WriteAt(p, int64(b.len))
}

// WriteAt writes p at off, growing the frame if needed. Bytes between the
// old length and off read as zero. Writing past Cap writes what fits and
// returns an error wrapping ErrTooLarge.
func (b *Buffer[K]) WriteAt(p []byte, off int64) (int, error) {
	b.mustLive()
	if off < 0 || off > int64(b.cap) {
		return 0, fmt.Errorf("%w: offset %d outside buffer of %d bytes", ErrTooLarge, off, b.cap)
	}

	if gap := int(off) - b.len; gap > 0 {
		b.each(b.len, gap, func(seg []byte, _ int) { clear(seg) })
	}
	n := b.each(int(off), min(len(p), b.cap-int(off)), func(dst []byte, at int) {
		copy(dst, p[at:])
	})
	if end := int(off) + n; end > b.len {
		b.len = end
	}
	if n < len(p) {
		return n, fmt.Errorf("%w: %d bytes do not fit at offset %d of %d", ErrTooLarge, len(p), off, b.cap)
	}
	return n, nil
}

// ReadAt implements io.ReaderAt over the frame.
func (b *Buffer[K]) ReadAt(p []byte, off int64) (int, error) {
	b.mustLive()
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(b.len) {
		return 0, io.EOF
	}

	n := b.each(int(off), min(len(p), b.len-int(off)), func(src []byte, at int) {
		copy(p[at:], src)
	})
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// each calls fn for every part overlapping [off, off+n) with the overlapping
// bytes and their position relative to off. It returns n.
func (b *Buffer[K]) each(off, n int, fn func(seg []byte, at int)) int {
	at := 0
	for _, pt := range b.parts {
		if at == n {
			break
		}
		if off >= len(pt.data) {
			off -= len(pt.data)
			continue
		}
		seg := pt.data[off:min(len(pt.data), off+n-at)]
		fn(seg, at)
		at += len(seg)
		off = 0
	}
	return n
}

// Bytes returns the frame. For single-descriptor frames it aliases the data
// region and is only valid until Release; chained frames are copied.
func (b *Buffer[K]) Bytes() []byte {
	b.mustLive()
	if len(b.parts) == 1 {
		return b.parts[0].data[:b.len]
	}
	out := make([]byte, b.len)
	_, _ = b.ReadAt(out, 0)
	return out
}

func (b *Buffer[K]) head() *netdev.Descriptor {
	b.mustLive()
	return b.parts[0].desc
}

func (b *Buffer[K]) FrameType() netdev.FrameType { return b.head().FrameType }

func (b *Buffer[K]) SetFrameType(t netdev.FrameType) { b.head().FrameType = t }

// Port is the port the frame was received on or will be sent to.
func (b *Buffer[K]) Port() Port {
	id := b.head().PortID
	return Port{base: id.Base, salt: id.Salt}
}

func (b *Buffer[K]) SetPort(p Port) { b.head().PortID = p.ID() }

// InboundFlags are the flags set by the device on an RX frame.
func (b *Buffer[K]) InboundFlags() uint32 { return b.head().InboundFlags }

// forget detaches b from its descriptors without returning them to the pool.
func (b *Buffer[K]) forget() {
	b.parts = nil
	runtime.SetFinalizer(b, nil)
}

// Release returns the buffer's descriptors to the pool. RX descriptors are
// handed back to the device and TX descriptors become available for
// allocation. Release is idempotent.
func (b *Buffer[K]) Release() {
	parts := b.parts
	if parts == nil {
		return
	}
	b.forget()

	if isRx[K]() {
		ids := make([]uint16, len(parts))
		for i, pt := range parts {
			ids[i] = pt.id
		}
		b.pool.rxRelease(ids)
		return
	}
	b.pool.txRelease(parts[0].id)
}

// pad zero fills a TX frame up to the device minimum.
func pad(b *Buffer[Tx], minData int) error {
	if b.len >= minData {
		return nil
	}
	if minData > b.cap {
		return fmt.Errorf("%w: %d byte minimum exceeds capacity %d", ErrPad, minData, b.cap)
	}
	start := b.len
	b.each(start, minData-start, func(seg []byte, _ int) { clear(seg) })
	b.len = minData
	return nil
}
