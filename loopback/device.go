package loopback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
	"github.com/NomadArchitect/fuchsia-sub001/zx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrDeviceClosed is returned when the [Device] is closed while operations are
// still running.
var ErrDeviceClosed = errors.New("device was closed")

// Device is an in-process network device. Frames sent by a session are
// delivered back to it as received frames on the same port.
type Device struct {
	l    *logrus.Logger
	opts optionValues

	mu       sync.Mutex
	sessions []*session
	closed   bool

	cancel context.CancelFunc
	ctx    context.Context
	g      *errgroup.Group
}

// New creates a loopback device.
//
// There are multiple options that can be passed to this constructor to
// influence device creation:
//   - [WithDeviceInfo]
//   - [WithPorts]
//   - [WithoutEcho]
//
// Remember to call [Device.Close] after use to stop the session workers.
func New(l *logrus.Logger, options ...Option) (*Device, error) {
	opts := optionDefaults()
	opts.apply(options)
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	return &Device{l: l, opts: opts, cancel: cancel, ctx: ctx, g: g}, nil
}

func (d *Device) GetInfo(context.Context) (netdev.DeviceInfo, error) {
	return d.opts.info, nil
}

func (d *Device) hasPort(id netdev.PortID) bool {
	return slices.Contains(d.opts.ports, id)
}

// OpenSession maps the session's regions and starts a worker serving its
// FIFOs.
func (d *Device) OpenSession(_ context.Context, name string, info netdev.SessionInfo) (_ netdev.SessionControl, _ netdev.Fifos, err error) {
	if err = d.checkSessionInfo(info); err != nil {
		return nil, netdev.Fifos{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, netdev.Fifos{}, zx.StatusPeerClosed
	}
	if info.Options&netdev.SessionFlagPrimary != 0 {
		for _, s := range d.sessions {
			if s.flags&netdev.SessionFlagPrimary != 0 {
				return nil, netdev.Fifos{}, zx.StatusAlreadyBound
			}
		}
	}

	s := &session{
		d:        d,
		l:        d.l.WithField("device_session", name),
		flags:    info.Options,
		attached: make(map[uint8]attachment),
		leases:   make(chan netdev.DelegatedRxLease, 16),
		closedCh: make(chan struct{}),
	}

	// Clean up a partially initialized session when something fails.
	defer func() {
		if err != nil {
			_ = s.unmap()
		}
	}()

	if s.descMap, err = info.Descriptors.Map(); err != nil {
		return nil, netdev.Fifos{}, err
	}
	if s.dataMap, err = info.Data.Map(); err != nil {
		return nil, netdev.Fifos{}, err
	}
	s.descs = netdev.Descriptors(s.descMap.Bytes(), int(info.DescriptorCount))
	s.data = s.dataMap.Bytes()

	depth := fifoDepth(int(info.DescriptorCount))
	rxSession, rxDevice, err := zx.NewFifoPair(depth)
	if err != nil {
		return nil, netdev.Fifos{}, err
	}
	txSession, txDevice, err := zx.NewFifoPair(depth)
	if err != nil {
		return nil, netdev.Fifos{}, err
	}
	s.rx, s.tx = rxDevice, txDevice

	ctx, cancel := context.WithCancel(d.ctx)
	s.cancel = cancel
	d.sessions = append(d.sessions, s)
	d.g.Go(func() error {
		return s.run(ctx)
	})

	s.l.WithField("descriptors", info.DescriptorCount).Info("Session opened")
	return s, netdev.Fifos{Rx: rxSession, Tx: txSession}, nil
}

func (d *Device) checkSessionInfo(info netdev.SessionInfo) error {
	if info.Descriptors == nil || info.Data == nil {
		return fmt.Errorf("%w: missing memory regions", zx.StatusInvalidArgs)
	}
	if info.DescriptorVersion != d.opts.info.DescriptorVersion {
		return fmt.Errorf("%w: descriptor version %d", zx.StatusNotSupported, info.DescriptorVersion)
	}
	if info.DescriptorLength < d.opts.info.MinDescriptorLength ||
		int(info.DescriptorLength)*8 < netdev.DescriptorLength {
		return fmt.Errorf("%w: descriptor length %d", zx.StatusInvalidArgs, info.DescriptorLength)
	}
	if info.DescriptorCount == 0 {
		return fmt.Errorf("%w: no descriptors", zx.StatusInvalidArgs)
	}
	if need := int(info.DescriptorCount) * netdev.DescriptorLength; info.Descriptors.Size() < need {
		return fmt.Errorf("%w: descriptor region %d < %d", zx.StatusInvalidArgs, info.Descriptors.Size(), need)
	}
	return nil
}

// fifoDepth is the smallest valid FIFO depth holding n records, capped at the
// largest depth.
func fifoDepth(n int) int {
	depth := 1
	for depth < n && depth < zx.MaxFifoDepth {
		depth <<= 1
	}
	return depth
}

// DelegateRxLease hands a lease to the most recently opened session that asked
// for leases.
func (d *Device) DelegateRxLease(lease netdev.DelegatedRxLease) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range slices.Backward(d.sessions) {
		if s.flags&netdev.SessionFlagReceiveRxPowerLeases == 0 {
			continue
		}
		select {
		case s.leases <- lease:
			return nil
		default:
			return zx.StatusNoResources
		}
	}
	return zx.StatusBadState
}

func (d *Device) removeSession(s *session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = slices.DeleteFunc(d.sessions, func(x *session) bool { return x == s })
}

// Close closes every session and waits for their workers.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	sessions := slices.Clone(d.sessions)
	d.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.Close())
	}
	d.cancel()
	errs = append(errs, d.g.Wait())
	return errors.Join(errs...)
}
