package session

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
	"github.com/NomadArchitect/fuchsia-sub001/zx"
)

// RxLease is a power lease delegated by the device. It keeps the system awake
// while the frame it was tied to is processed and must be released once the
// holder is done.
type RxLease struct {
	handle io.Closer
}

func (l *RxLease) Handle() io.Closer {
	return l.handle
}

func (l *RxLease) Release() error {
	return l.handle.Close()
}

// WatchRxLeases returns the leases delegated by the device. A lease is only
// yielded once the session has released as many RX frames as the lease's
// watermark, so holding the returned lease covers the remaining processing.
//
// The sequence ends cleanly when the device closes the session or the
// session is closed, and ends after yielding any other error.
//
// WatchRxLeases panics if the session was not configured with
// [DerivableConfig.WatchRxLeases] or if it was already called.
func (s *Session) WatchRxLeases(ctx context.Context) iter.Seq2[*RxLease, error] {
	if s.cfg.options&netdev.SessionFlagReceiveRxPowerLeases == 0 {
		panic("session: WatchRxLeases requires a session created with WatchRxLeases")
	}
	if !s.watchingLeases.CompareAndSwap(false, true) {
		panic("session: WatchRxLeases called more than once")
	}

	return func(yield func(*RxLease, error) bool) {
		ctx, cancel := s.bind(ctx)
		defer cancel()

		for {
			delegated, err := s.ctrl.WatchDelegatedRxLease(ctx)
			if err != nil {
				if errors.Is(err, zx.StatusPeerClosed) || errors.Is(context.Cause(ctx), ErrClosed) {
					return
				}
				yield(nil, err)
				return
			}

			if delegated.HoldUntilFrame == nil || delegated.Handle == nil {
				if delegated.Handle != nil {
					_ = delegated.Handle.Close()
				}
				yield(nil, ErrInvalidLease)
				return
			}

			s.log().WithField("hold_until_frame", *delegated.HoldUntilFrame).Debug("Received delegated rx lease")
			if err := s.pool.waitRxFrames(ctx, *delegated.HoldUntilFrame); err != nil {
				_ = delegated.Handle.Close()
				if !errors.Is(err, ErrClosed) {
					yield(nil, err)
				}
				return
			}

			if !yield(&RxLease{handle: delegated.Handle}, nil) {
				return
			}
		}
	}
}
