package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
	"github.com/NomadArchitect/fuchsia-sub001/zx"
)

// descState is the owner of a descriptor.
type descState uint8

const (
	// stateFree is a TX descriptor in the free list or an RX descriptor
	// waiting in rxPending.
	stateFree descState = iota
	// stateInFlight descriptors belong to the device.
	stateInFlight
	// stateUser descriptors back a Buffer held by the user.
	stateUser
)

// pool owns the descriptor and data regions and tracks which side owns every
// descriptor. RX descriptors are 0..numRx and TX descriptors follow them.
type pool struct {
	cfg Config

	descVmo *zx.Vmo
	dataVmo *zx.Vmo
	descMap *zx.Mapping
	dataMap *zx.Mapping
	descs   []netdev.Descriptor
	data    []byte

	mu     sync.Mutex
	states []descState
	txFree []DescID[Tx]
	// userOwned counts descriptors backing live buffers. The regions stay
	// mapped until it drops to zero after Close.
	userOwned int
	closed    bool

	txFreed   event
	rxPending *pending[Rx]

	// rxFrames counts RX frames whose buffers were released.
	rxFrames   atomic.Uint64
	rxReleased event
}

// newPool creates and maps both regions and initializes every descriptor. All
// RX descriptors start queued for submission and all TX descriptors start
// free.
func newPool(cfg Config) (p *pool, err error) {
	n := cfg.numBuffers()
	p = &pool{
		cfg:    cfg,
		states: make([]descState, n),
		txFree: make([]DescID[Tx], 0, cfg.numTxBuffers),
	}

	// Clean up a partially initialized pool when something fails.
	defer func() {
		if err != nil {
			_ = p.unmap()
			_ = p.closeVmos()
		}
	}()

	if p.descVmo, err = zx.NewVmo("descriptors", n*netdev.DescriptorLength); err != nil {
		return nil, fmt.Errorf("create descriptor region: %w", err)
	}
	if p.dataVmo, err = zx.NewVmo("data", n*cfg.bufferStride); err != nil {
		return nil, fmt.Errorf("create data region: %w", err)
	}
	if p.descMap, err = p.descVmo.Map(); err != nil {
		return nil, fmt.Errorf("map descriptor region: %w", err)
	}
	if p.dataMap, err = p.dataVmo.Map(); err != nil {
		return nil, fmt.Errorf("map data region: %w", err)
	}
	p.descs = netdev.Descriptors(p.descMap.Bytes(), n)
	p.data = p.dataMap.Bytes()[:n*cfg.bufferStride]

	rx := make([]DescID[Rx], cfg.numRxBuffers)
	for i := range rx {
		rx[i] = DescID[Rx](i)
		p.resetRx(uint16(i))
	}
	for i := int(cfg.numRxBuffers); i < n; i++ {
		p.descs[i] = netdev.Descriptor{Offset: p.slotOffset(uint16(i))}
		p.txFree = append(p.txFree, DescID[Tx](i))
	}
	p.rxPending = &pending[Rx]{ids: rx, mark: p.markRx}

	return p, nil
}

func (p *pool) slotOffset(id uint16) uint64 {
	return uint64(id) * uint64(p.cfg.bufferStride)
}

func (p *pool) slot(id uint16) []byte {
	off := int(p.slotOffset(id))
	return p.data[off : off+p.cfg.layout.length]
}

// resetRx prepares an RX descriptor to be handed to the device.
func (p *pool) resetRx(id uint16) {
	p.descs[id] = netdev.Descriptor{
		Offset:     p.slotOffset(id),
		DataLength: uint32(p.cfg.layout.length),
	}
}

func (p *pool) markRx(ids []DescID[Rx], inFlight bool) {
	s := stateFree
	if inFlight {
		s = stateInFlight
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.states[id] = s
	}
}

// checkTxLength returns ErrTooLarge if a TX buffer can not hold n payload
// bytes plus the device's head and tail.
func (p *pool) checkTxLength(n int) error {
	l := p.cfg.layout
	if n < 0 || max(n, l.minTxData)+l.minTxHead+l.minTxTail > l.length {
		return fmt.Errorf("%w: %d bytes requested, buffer length is %d with %d/%d head/tail",
			ErrTooLarge, n, l.length, l.minTxHead, l.minTxTail)
	}
	return nil
}

// allocTxBuffer waits until a TX descriptor is free.
func (p *pool) allocTxBuffer(ctx context.Context, n int) (*Buffer[Tx], error) {
	if err := p.checkTxLength(n); err != nil {
		return nil, err
	}

	for {
		freed := p.txFreed.listen()
		b, err := p.tryAllocTx()
		if b != nil || err != nil {
			return b, err
		}

		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-freed:
		}
	}
}

// tryAllocTx returns nil if no TX descriptor is free.
func (p *pool) tryAllocTx() (*Buffer[Tx], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if len(p.txFree) == 0 {
		return nil, nil
	}

	id := uint16(p.txFree[len(p.txFree)-1])
	p.txFree = p.txFree[:len(p.txFree)-1]
	p.states[id] = stateUser
	p.userOwned++

	p.descs[id] = netdev.Descriptor{Offset: p.slotOffset(id)}
	l := p.cfg.layout
	data := p.slot(id)[l.minTxHead : l.length-l.minTxTail]
	return newBuffer[Tx](p, []part{{id: id, desc: &p.descs[id], data: data}}, 0), nil
}

// rxCompleted validates the chain starting at head and turns it into a
// buffer. An error here means the device broke the descriptor protocol.
func (p *pool) rxCompleted(head DescID[Rx]) (*Buffer[Rx], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	var (
		ids      [netdev.MaxDescriptorChain]uint16
		count    int
		expected uint8
		id       = uint16(head)
	)
	for {
		if count == p.cfg.maxBufferParts {
			return nil, fmt.Errorf("%w: chain starting at %d is longer than %d",
				ErrBadDescriptor, head, p.cfg.maxBufferParts)
		}
		if id >= p.cfg.numRxBuffers {
			return nil, fmt.Errorf("%w: %d is not an rx descriptor", ErrBadDescriptor, id)
		}
		if p.states[id] != stateInFlight {
			return nil, fmt.Errorf("%w: rx descriptor %d is not owned by the device",
				ErrBadDescriptor, id)
		}
		d := &p.descs[id]
		if count > 0 && d.ChainLength != expected {
			return nil, fmt.Errorf("%w: rx descriptor %d has chain length %d, expected %d",
				ErrBadDescriptor, id, d.ChainLength, expected)
		}
		if int(d.HeadLength)+int(d.DataLength)+int(d.TailLength) > p.cfg.layout.length {
			return nil, fmt.Errorf("%w: rx descriptor %d: %d+%d+%d exceeds buffer length %d",
				ErrBadDescriptor, id, d.HeadLength, d.DataLength, d.TailLength, p.cfg.layout.length)
		}

		ids[count] = id
		count++
		if d.ChainLength == 0 {
			break
		}
		expected = d.ChainLength - 1
		id = d.Nxt
	}

	parts := make([]part, count)
	total := 0
	for i, id := range ids[:count] {
		d := &p.descs[id]
		start := int(d.HeadLength)
		parts[i] = part{id: id, desc: d, data: p.slot(id)[start : start+int(d.DataLength)]}
		total += int(d.DataLength)
		p.states[id] = stateUser
	}
	p.userOwned++

	return newBuffer[Rx](p, parts, total), nil
}

// commitTx finalizes the descriptor of b and transfers it to the device.
func (p *pool) commitTx(b *Buffer[Tx]) DescID[Tx] {
	pt := b.parts[0]
	l := p.cfg.layout

	d := pt.desc
	d.Offset = p.slotOffset(pt.id)
	d.ChainLength = 0
	d.Nxt = 0
	d.HeadLength = uint16(l.minTxHead)
	d.TailLength = uint16(l.minTxTail)
	d.DataLength = uint32(b.len)

	p.mu.Lock()
	p.states[pt.id] = stateInFlight
	p.userOwned--
	if p.closed {
		p.unmapIfUnusedLocked()
	}
	p.mu.Unlock()

	b.forget()
	return DescID[Tx](pt.id)
}

// txCompleted returns a descriptor the device finished sending to the free
// list.
func (p *pool) txCompleted(id DescID[Tx]) error {
	p.mu.Lock()
	if id < DescID[Tx](p.cfg.numRxBuffers) || int(id) >= len(p.states) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d is not a tx descriptor", ErrBadDescriptor, id)
	}
	if p.states[id] != stateInFlight {
		p.mu.Unlock()
		return fmt.Errorf("%w: tx descriptor %d is not owned by the device", ErrBadDescriptor, id)
	}
	p.states[id] = stateFree
	p.txFree = append(p.txFree, id)
	p.mu.Unlock()

	p.txFreed.notify()
	return nil
}

func (p *pool) txRelease(id uint16) {
	p.mu.Lock()
	p.userOwned--
	if p.closed {
		p.unmapIfUnusedLocked()
		p.mu.Unlock()
		return
	}
	p.states[id] = stateFree
	p.txFree = append(p.txFree, DescID[Tx](id))
	p.mu.Unlock()

	p.txFreed.notify()
}

// rxRelease returns a frame's descriptors to the device and counts the frame
// as processed.
func (p *pool) rxRelease(ids []uint16) {
	p.mu.Lock()
	p.userOwned--
	if p.closed {
		p.unmapIfUnusedLocked()
		p.mu.Unlock()
		return
	}
	rx := make([]DescID[Rx], len(ids))
	for i, id := range ids {
		p.resetRx(id)
		p.states[id] = stateFree
		rx[i] = DescID[Rx](id)
	}
	p.mu.Unlock()

	p.rxPending.extend(rx...)
	p.rxFrames.Add(1)
	p.rxReleased.notify()
}

// waitRxFrames blocks until at least n RX frames were released.
func (p *pool) waitRxFrames(ctx context.Context, n uint64) error {
	for {
		if p.rxFrames.Load() >= n {
			return nil
		}
		released := p.rxReleased.listen()
		if p.rxFrames.Load() >= n {
			return nil
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-released:
		}
	}
}

// close releases the region handles. The mappings are torn down once the
// last outstanding buffer is released.
func (p *pool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	err := p.closeVmos()
	if p.userOwned == 0 {
		err = errors.Join(err, p.unmap())
	}
	p.txFreed.notify()
	return err
}

func (p *pool) unmapIfUnusedLocked() {
	if p.userOwned == 0 {
		_ = p.unmap()
	}
}

func (p *pool) unmap() error {
	var errs []error
	if p.descMap != nil {
		errs = append(errs, p.descMap.Close())
		p.descMap = nil
	}
	if p.dataMap != nil {
		errs = append(errs, p.dataMap.Close())
		p.dataMap = nil
	}
	p.descs = nil
	p.data = nil
	return errors.Join(errs...)
}

func (p *pool) closeVmos() error {
	var errs []error
	if p.descVmo != nil {
		errs = append(errs, p.descVmo.Close())
		p.descVmo = nil
	}
	if p.dataVmo != nil {
		errs = append(errs, p.dataVmo.Close())
		p.dataVmo = nil
	}
	return errors.Join(errs...)
}

// stateCounts reports how many RX and TX descriptors are in each state.
func (p *pool) stateCounts() (rx, tx map[descState]int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rx, tx = map[descState]int{}, map[descState]int{}
	for id, s := range p.states {
		if id < int(p.cfg.numRxBuffers) {
			rx[s]++
		} else {
			tx[s]++
		}
	}
	return rx, tx
}
