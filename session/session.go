package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
	"github.com/NomadArchitect/fuchsia-sub001/zx"
	"github.com/sirupsen/logrus"
)

// errTaskStopped is the cause recorded when the task's context ends.
var errTaskStopped = fmt.Errorf("%w: task stopped", ErrClosed)

// Session is a zero-copy packet I/O session with a network device.
//
// The session only makes progress while its [Task] runs: without it RX
// buffers are never returned by the device and TX buffers never complete.
type Session struct {
	l       *logrus.Logger
	name    string
	cfg     Config
	pool    *pool
	ctrl    netdev.SessionControl
	metrics *sessionMetrics

	rx        fifo[Rx]
	tx        fifo[Tx]
	txPending *pending[Tx]
	rxReady   *readyBuffer[Rx]
	txReady   *readyBuffer[Tx]
	txIdle    txIdle

	watchingLeases atomic.Bool

	// ctx is cancelled with the reason the session stopped, either ErrClosed
	// or the fatal error that ended the task.
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu          sync.Mutex
	closed      bool
	taskStarted bool
	closeOnce   sync.Once
	closeErr    error

	task *Task
}

// New opens a session named name on dev. The returned [Task] must be run for
// the session to make progress.
func New(ctx context.Context, l *logrus.Logger, dev netdev.Device, name string, cfg Config) (*Session, *Task, error) {
	p, err := newPool(cfg)
	if err != nil {
		return nil, nil, err
	}

	info := netdev.SessionInfo{
		Descriptors:       p.descVmo,
		Data:              p.dataVmo,
		DescriptorVersion: netdev.DescriptorVersion,
		DescriptorLength:  uint8(netdev.DescriptorWords),
		DescriptorCount:   uint16(cfg.numBuffers()),
		Options:           cfg.options,
	}
	ctrl, fifos, err := dev.OpenSession(ctx, name, info)
	if err != nil {
		_ = p.close()
		return nil, nil, &OpenError{Name: name, Err: err}
	}

	sctx, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		l:         l,
		name:      name,
		cfg:       cfg,
		pool:      p,
		ctrl:      ctrl,
		metrics:   newSessionMetrics(name),
		rx:        fifo[Rx]{f: fifos.Rx},
		tx:        fifo[Tx]{f: fifos.Tx},
		txPending: &pending[Tx]{},
		rxReady:   newReadyBuffer[Rx](int(cfg.numRxBuffers)),
		txReady:   newReadyBuffer[Tx](int(cfg.numTxBuffers)),
		ctx:       sctx,
		cancel:    cancel,
	}
	s.task = &Task{s: s, exited: make(chan struct{})}

	s.log().WithFields(logrus.Fields{
		"rx_buffers":    cfg.numRxBuffers,
		"tx_buffers":    cfg.numTxBuffers,
		"buffer_length": cfg.layout.length,
		"buffer_stride": cfg.bufferStride,
	}).Info("Opened network device session")

	return s, s.task, nil
}

func (s *Session) log() *logrus.Entry {
	return s.l.WithField("session", s.name)
}

func (s *Session) Name() string   { return s.name }
func (s *Session) Config() Config { return s.cfg }

// err returns why the session stopped, or nil while it is running.
func (s *Session) err() error {
	if s.ctx.Err() == nil {
		return nil
	}
	return context.Cause(s.ctx)
}

// fail stops the session with a fatal error. Only the first error is kept.
func (s *Session) fail(err error) {
	if s.ctx.Err() == nil {
		s.log().WithError(err).Error("Network device session failed")
	}
	s.cancel(err)
}

// bind derives a context that also ends when the session stops, with the
// session's stop reason as its cause.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(s.ctx, func() { cancel(context.Cause(s.ctx)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Send queues b for transmission and takes ownership of it, also when an
// error is returned. The frame is zero padded to the device minimum first.
// Completion is asynchronous, see [Session.WaitTxIdle]. Once the session has
// stopped Send releases b without queueing it and returns the reason the
// session stopped.
func (s *Session) Send(b *Buffer[Tx]) error {
	b.mustLive()
	if b.pool != s.pool {
		panic("session: buffer belongs to another session")
	}

	if err := s.err(); err != nil {
		b.Release()
		return err
	}
	if err := pad(b, s.cfg.layout.minTxData); err != nil {
		b.Release()
		return err
	}

	n := b.len
	id := s.pool.commitTx(b)
	s.txIdle.started()
	s.txPending.extend(id)

	s.metrics.txFrames.Inc(1)
	s.metrics.txBytes.Inc(int64(n))
	return nil
}

// Recv waits for the next received frame.
func (s *Session) Recv(ctx context.Context) (*Buffer[Rx], error) {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	w := zx.NewWaker()
	for {
		if err := s.err(); err != nil {
			return nil, err
		}

		id, ok, err := s.rxReady.poll(s.rx, w)
		if err != nil {
			if cause := s.err(); cause != nil {
				return nil, cause
			}
			err = &FifoError{Op: "read", Dir: "rx", Err: err}
			s.fail(err)
			return nil, err
		}
		if ok {
			b, err := s.pool.rxCompleted(id)
			if err != nil {
				s.fail(err)
				return nil, err
			}
			s.metrics.rxFrames.Inc(1)
			s.metrics.rxBytes.Inc(int64(b.len))
			return b, nil
		}

		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-w.C():
		}
	}
}

// AllocTxBuffer waits for a free TX buffer able to hold n bytes. It fails
// with ErrTooLarge if no buffer can.
func (s *Session) AllocTxBuffer(ctx context.Context, n int) (*Buffer[Tx], error) {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.err(); err != nil {
		return nil, err
	}
	return s.pool.allocTxBuffer(ctx, n)
}

// AllocTxBuffers waits for one TX buffer like [Session.AllocTxBuffer] and
// then yields every other buffer that is free right now without waiting.
func (s *Session) AllocTxBuffers(ctx context.Context, n int) iter.Seq2[*Buffer[Tx], error] {
	return func(yield func(*Buffer[Tx], error) bool) {
		b, err := s.AllocTxBuffer(ctx, n)
		if !yield(b, err) || err != nil {
			return
		}

		for {
			b, err := s.pool.tryAllocTx()
			if b == nil && err == nil {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Attach subscribes the session to rxFrames on port.
func (s *Session) Attach(ctx context.Context, port Port, rxFrames []netdev.FrameType) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.err(); err != nil {
		return &PortError{Op: "attach", Port: port, Err: err}
	}
	if err := s.ctrl.Attach(ctx, port.ID(), rxFrames); err != nil {
		return &PortError{Op: "attach", Port: port, Err: err}
	}
	s.log().WithField("port", port).WithField("frames", rxFrames).Debug("Attached port")
	return nil
}

func (s *Session) Detach(ctx context.Context, port Port) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.err(); err != nil {
		return &PortError{Op: "detach", Port: port, Err: err}
	}
	if err := s.ctrl.Detach(ctx, port.ID()); err != nil {
		return &PortError{Op: "detach", Port: port, Err: err}
	}
	s.log().WithField("port", port).Debug("Detached port")
	return nil
}

// WaitTxIdle returns once every frame passed to Send before the call has
// been completed by the device.
func (s *Session) WaitTxIdle(ctx context.Context) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()
	return s.txIdle.wait(ctx)
}

// Close stops the task and releases the control channel and FIFOs. The
// shared regions are unmapped once every outstanding buffer is released.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel(ErrClosed)

		s.mu.Lock()
		s.closed = true
		started := s.taskStarted
		s.mu.Unlock()

		errs := []error{s.ctrl.Close(), s.rx.close(), s.tx.close()}
		if started {
			<-s.task.exited
		}
		errs = append(errs, s.pool.close())

		s.closeErr = errors.Join(errs...)
		s.log().Info("Closed network device session")
	})
	return s.closeErr
}
