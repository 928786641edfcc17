package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NomadArchitect/fuchsia-sub001/config"
	"github.com/NomadArchitect/fuchsia-sub001/loopback"
	"github.com/NomadArchitect/fuchsia-sub001/netdev"
	"github.com/NomadArchitect/fuchsia-sub001/session"
	"github.com/NomadArchitect/fuchsia-sub001/util"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type echoConfig struct {
	name        string
	frames      uint64
	payloadSize int
	timeout     time.Duration
	echo        bool
}

func echoConfigFromC(c *config.C) echoConfig {
	return echoConfig{
		name:        c.GetString("session.name", "netdev-echo"),
		frames:      uint64(c.GetUint32("echo.frames", 1000)),
		payloadSize: c.GetInt("echo.payload_size", 64),
		timeout:     c.GetDuration("echo.timeout", 30*time.Second),
		echo:        c.GetBool("device.echo", true),
	}
}

type summary struct {
	sent, received           uint64
	sentBytes, receivedBytes uint64
	leases                   uint64
	elapsed                  time.Duration
}

func (s summary) String() string {
	return fmt.Sprintf("sent=%s (%s) received=%s (%s) leases=%s duration=%s",
		humanize.Comma(int64(s.sent)), humanize.Bytes(s.sentBytes),
		humanize.Comma(int64(s.received)), humanize.Bytes(s.receivedBytes),
		humanize.Comma(int64(s.leases)), s.elapsed.Round(time.Millisecond))
}

// echoer owns the device and session built from the config.
type echoer struct {
	l    *logrus.Logger
	cfg  echoConfig
	dev  *loopback.Device
	s    *session.Session
	task *session.Task
	port session.Port
	fb   *frameBuilder
}

// newEchoer validates the config and opens the session. With configTest
// nothing is opened.
func newEchoer(ctx context.Context, l *logrus.Logger, c *config.C, configTest bool) (*echoer, error) {
	cfg := echoConfigFromC(c)
	if cfg.frames == 0 {
		return nil, errors.New("echo.frames must be positive")
	}
	fb, err := newFrameBuilder(cfg.payloadSize)
	if err != nil {
		return nil, err
	}

	opts, err := loopback.OptionsFromConfig(c)
	if err != nil {
		return nil, util.NewContextualError("Invalid device config", nil, err)
	}
	port, err := session.NewPort(netdev.PortID{
		Base: uint8(c.GetInt("device.port.base", 0)),
		Salt: uint8(c.GetInt("device.port.salt", 0)),
	})
	if err != nil {
		return nil, err
	}

	dev, err := loopback.New(l, opts...)
	if err != nil {
		return nil, util.NewContextualError("Failed to create loopback device", nil, err)
	}

	info, err := dev.GetInfo(ctx)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	scfg, err := session.NewConfig(info, session.DerivableConfigFromC(c))
	if err != nil {
		_ = dev.Close()
		return nil, util.NewContextualError("Invalid session config", logrus.Fields{"session": cfg.name}, err)
	}

	e := &echoer{l: l, cfg: cfg, dev: dev, port: port, fb: fb}
	if configTest {
		return e, dev.Close()
	}

	e.s, e.task, err = session.New(ctx, l, dev, cfg.name, scfg)
	if err != nil {
		_ = dev.Close()
		return nil, util.NewContextualError("Failed to open session", logrus.Fields{"session": cfg.name}, err)
	}
	return e, nil
}

// run attaches the port, sends every frame and waits for the echoes. The
// session and device are closed when it returns.
func (e *echoer) run(ctx context.Context) (sum summary, err error) {
	defer func() {
		err = errors.Join(err, e.dev.Close())
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.timeout)
	defer cancel()

	if err := e.s.Attach(ctx, e.port, []netdev.FrameType{netdev.FrameTypeEthernet}); err != nil {
		_ = e.s.Close()
		return sum, util.NewContextualError("Failed to attach port", logrus.Fields{"port": e.port}, err)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.task.Run(gctx)
	})
	if e.s.Config().Options()&netdev.SessionFlagReceiveRxPowerLeases != 0 {
		g.Go(func() error {
			return e.releaseLeases(gctx, &sum.leases)
		})
	}
	g.Go(func() error {
		defer e.s.Close()

		var traffic errgroup.Group
		traffic.Go(func() error {
			var err error
			sum.sent, sum.sentBytes, err = e.send(gctx)
			return err
		})
		if e.cfg.echo {
			traffic.Go(func() error {
				var err error
				sum.received, sum.receivedBytes, err = e.receive(gctx)
				return err
			})
		}
		if err := traffic.Wait(); err != nil {
			return err
		}
		return e.s.WaitTxIdle(gctx)
	})

	err = g.Wait()
	sum.elapsed = time.Since(start)
	return sum, err
}

func (e *echoer) send(ctx context.Context) (frames, n uint64, err error) {
	for seq := range e.cfg.frames {
		frame, err := e.fb.build(seq)
		if err != nil {
			return frames, n, err
		}

		b, err := e.s.AllocTxBuffer(ctx, len(frame))
		if err != nil {
			return frames, n, err
		}
		if _, err := b.Write(frame); err != nil {
			b.Release()
			return frames, n, err
		}
		b.SetPort(e.port)
		b.SetFrameType(netdev.FrameTypeEthernet)
		if err := e.s.Send(b); err != nil {
			return frames, n, err
		}

		frames++
		n += uint64(len(frame))
		e.l.WithField("seq", seq).Trace("Sent frame")
	}
	return frames, n, nil
}

func (e *echoer) receive(ctx context.Context) (frames, n uint64, err error) {
	for frames < e.cfg.frames {
		b, err := e.s.Recv(ctx)
		if err != nil {
			return frames, n, err
		}
		frame := b.Bytes()
		seq, payload, perr := parseFrame(frame)
		if perr == nil && seq != frames {
			perr = fmt.Errorf("frame %d arrived when %d was expected", seq, frames)
		}
		if perr == nil && !bytes.Equal(payload[seqLen:], e.fb.payload[seqLen:]) {
			perr = fmt.Errorf("frame %d payload mismatch", seq)
		}
		b.Release()
		if perr != nil {
			return frames, n, perr
		}

		frames++
		n += uint64(len(frame))
		e.l.WithField("seq", seq).Trace("Received frame")
	}
	return frames, n, nil
}

func (e *echoer) releaseLeases(ctx context.Context, count *uint64) error {
	for lease, err := range e.s.WatchRxLeases(ctx) {
		if err != nil {
			return err
		}
		*count++
		if err := lease.Release(); err != nil {
			e.l.WithError(err).Warn("Failed to release rx lease")
		}
	}
	return nil
}
