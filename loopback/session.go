package loopback

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
	"github.com/NomadArchitect/fuchsia-sub001/zx"
	"github.com/sirupsen/logrus"
)

type attachment struct {
	salt   uint8
	frames []netdev.FrameType
}

// session is the device side of an open session.
type session struct {
	d     *Device
	l     *logrus.Entry
	flags netdev.SessionFlags

	descMap *zx.Mapping
	dataMap *zx.Mapping
	descs   []netdev.Descriptor
	data    []byte
	rx      *zx.Fifo
	tx      *zx.Fifo

	mu       sync.Mutex
	attached map[uint8]attachment
	closed   bool
	closedCh chan struct{}
	leases   chan netdev.DelegatedRxLease

	cancel context.CancelFunc

	// Only touched by run.
	rxAvail   []uint16
	txBacklog []uint16
	rxDone    []uint16
	txDone    []uint16
}

func (s *session) Attach(_ context.Context, port netdev.PortID, rxFrames []netdev.FrameType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return zx.StatusPeerClosed
	}
	if !s.d.hasPort(port) {
		return zx.StatusNotFound
	}
	if _, ok := s.attached[port.Base]; ok {
		return zx.StatusAlreadyBound
	}

	s.attached[port.Base] = attachment{salt: port.Salt, frames: slices.Clone(rxFrames)}
	s.l.WithField("port", port.Base).Debug("Port attached")
	return nil
}

func (s *session) Detach(_ context.Context, port netdev.PortID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return zx.StatusPeerClosed
	}
	a, ok := s.attached[port.Base]
	if !ok || a.salt != port.Salt {
		return zx.StatusNotFound
	}

	delete(s.attached, port.Base)
	s.l.WithField("port", port.Base).Debug("Port detached")
	return nil
}

func (s *session) WatchDelegatedRxLease(ctx context.Context) (netdev.DelegatedRxLease, error) {
	select {
	case l := <-s.leases:
		return l, nil
	case <-s.closedCh:
		return netdev.DelegatedRxLease{}, zx.StatusPeerClosed
	case <-ctx.Done():
		return netdev.DelegatedRxLease{}, ctx.Err()
	}
}

// Close closes the control channel and stops the worker, which closes the
// device ends of the FIFOs.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return zx.StatusBadHandle
	}
	s.closed = true
	close(s.closedCh)
	s.mu.Unlock()

	s.cancel()
	s.d.removeSession(s)
	s.l.Info("Session closed")
	return nil
}

// accepts reports whether a frame of type t on port should be delivered.
func (s *session) accepts(port netdev.PortID, t netdev.FrameType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attached[port.Base]
	return ok && a.salt == port.Salt && slices.Contains(a.frames, t)
}

// run serves the FIFOs until the session closes either of them or ctx ends.
func (s *session) run(ctx context.Context) error {
	defer func() {
		_ = s.rx.Close()
		_ = s.tx.Close()
		_ = s.unmap()
	}()

	w := zx.NewWaker()
	buf := make([]uint16, s.rx.Depth())
	for {
		progress := false

		n, err := s.rx.TryRead(w, buf)
		if err != nil {
			return s.exit(err)
		}
		s.rxAvail = append(s.rxAvail, buf[:n]...)
		progress = progress || n > 0

		n, err = s.tx.TryRead(w, buf)
		if err != nil {
			return s.exit(err)
		}
		s.txBacklog = append(s.txBacklog, buf[:n]...)
		progress = progress || n > 0

		s.process()

		if s.rxDone, err = s.flush(s.rx, w, s.rxDone); err != nil {
			return s.exit(err)
		}
		if s.txDone, err = s.flush(s.tx, w, s.txDone); err != nil {
			return s.exit(err)
		}

		if progress {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.C():
		}
	}
}

// exit turns FIFO errors caused by either side closing into a clean exit.
func (s *session) exit(err error) error {
	if errors.Is(err, zx.StatusPeerClosed) || errors.Is(err, zx.StatusBadHandle) {
		s.l.Debug("Session worker exiting")
		return nil
	}
	s.l.WithError(err).Error("Session worker failed")
	return err
}

// flush writes as many completions as the FIFO accepts and returns the rest.
func (s *session) flush(f *zx.Fifo, w *zx.Waker, ids []uint16) ([]uint16, error) {
	if len(ids) == 0 {
		return ids, nil
	}
	n, err := f.TryWrite(w, ids)
	if err != nil {
		return ids, err
	}
	return append(ids[:0], ids[n:]...), nil
}

// process completes queued TX frames in order, echoing the ones accepted by
// an attached port. It stops at the first frame to deliver when no RX
// descriptor is available.
func (s *session) process() {
	for len(s.txBacklog) > 0 {
		id := s.txBacklog[0]
		if int(id) >= len(s.descs) {
			s.l.WithField("descriptor", id).Warn("Invalid tx descriptor")
			s.txBacklog = s.txBacklog[1:]
			continue
		}

		d := &s.descs[id]
		payload, ok := s.payload(d)
		switch {
		case !ok:
			d.ReturnFlags = uint32(netdev.TxReturnError)
		case !s.d.opts.echo:
		case !s.accepts(d.PortID, d.FrameType):
			d.ReturnFlags = uint32(netdev.TxReturnNotAvailable)
		default:
			if len(s.rxAvail) == 0 {
				return
			}
			rxID := s.rxAvail[0]
			s.rxAvail = s.rxAvail[1:]
			s.deliver(rxID, d, payload)
		}

		s.txDone = append(s.txDone, id)
		s.txBacklog = s.txBacklog[1:]
	}
}

func (s *session) payload(d *netdev.Descriptor) ([]byte, bool) {
	start := d.Offset + uint64(d.HeadLength)
	end := start + uint64(d.DataLength)
	if d.ChainLength != 0 || end > uint64(len(s.data)) || end < start {
		return nil, false
	}
	return s.data[start:end], true
}

// deliver copies payload into the RX descriptor rxID. Frames that do not fit
// are dropped and the descriptor is returned empty.
func (s *session) deliver(rxID uint16, from *netdev.Descriptor, payload []byte) {
	if int(rxID) >= len(s.descs) {
		s.l.WithField("descriptor", rxID).Warn("Invalid rx descriptor")
		return
	}

	rd := &s.descs[rxID]
	capacity := uint64(rd.DataLength)
	if uint64(len(payload)) > capacity || rd.Offset+capacity > uint64(len(s.data)) {
		s.l.WithField("descriptor", rxID).WithField("length", len(payload)).Debug("Dropping frame larger than rx buffer")
		payload = nil
	} else {
		copy(s.data[rd.Offset:], payload)
	}

	rd.FrameType = from.FrameType
	rd.PortID = from.PortID
	rd.ChainLength = 0
	rd.Nxt = 0
	rd.HeadLength = 0
	rd.TailLength = 0
	rd.DataLength = uint32(len(payload))
	rd.InboundFlags = 0
	s.rxDone = append(s.rxDone, rxID)
}

func (s *session) unmap() error {
	var errs []error
	if s.descMap != nil {
		errs = append(errs, s.descMap.Close())
		s.descMap = nil
	}
	if s.dataMap != nil {
		errs = append(errs, s.dataMap.Close())
		s.dataMap = nil
	}
	s.descs = nil
	s.data = nil
	return errors.Join(errs...)
}
