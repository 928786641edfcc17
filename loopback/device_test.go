package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
	"github.com/NomadArchitect/fuchsia-sub001/test"
	"github.com/NomadArchitect/fuchsia-sub001/zx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStride = 256

// testRegions backs n descriptors and n buffers of testStride bytes.
type testRegions struct {
	descVmo, dataVmo *zx.Vmo
	descMap, dataMap *zx.Mapping
	descs            []netdev.Descriptor
	data             []byte
}

func newTestRegions(t *testing.T, n int) *testRegions {
	r := &testRegions{}
	var err error
	r.descVmo, err = zx.NewVmo("descriptors", n*netdev.DescriptorLength)
	require.NoError(t, err)
	r.dataVmo, err = zx.NewVmo("data", n*testStride)
	require.NoError(t, err)
	r.descMap, err = r.descVmo.Map()
	require.NoError(t, err)
	r.dataMap, err = r.dataVmo.Map()
	require.NoError(t, err)
	r.descs = netdev.Descriptors(r.descMap.Bytes(), n)
	r.data = r.dataMap.Bytes()

	t.Cleanup(func() {
		_ = r.descMap.Close()
		_ = r.dataMap.Close()
		_ = r.descVmo.Close()
		_ = r.dataVmo.Close()
	})
	return r
}

func (r *testRegions) info(flags netdev.SessionFlags) netdev.SessionInfo {
	return netdev.SessionInfo{
		Descriptors:       r.descVmo,
		Data:              r.dataVmo,
		DescriptorVersion: netdev.DescriptorVersion,
		DescriptorLength:  uint8(netdev.DescriptorWords),
		DescriptorCount:   uint16(len(r.descs)),
		Options:           flags,
	}
}

func newTestDevice(t *testing.T, opts ...Option) *Device {
	d, err := New(test.NewLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })
	return d
}

func readOne(t *testing.T, f *zx.Fifo) uint16 {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	buf := make([]uint16, 1)
	n, err := f.Read(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return buf[0]
}

func write(t *testing.T, f *zx.Fifo, ids ...uint16) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := f.Write(ctx, ids)
	require.NoError(t, err)
	require.Equal(t, len(ids), n)
}

func TestNew_Validate(t *testing.T) {
	noDepth := DefaultDeviceInfo
	noDepth.BaseInfo.RxDepth = 0

	tests := []struct {
		name string
		opts []Option
		err  string
	}{
		{name: "defaults"},
		{name: "no depth", opts: []Option{WithDeviceInfo(noDepth)}, err: "invalid options: rx and tx depth are required"},
		{name: "no ports", opts: []Option{WithPorts()}, err: "invalid options: at least one port is required"},
		{name: "port too large", opts: []Option{WithPorts(netdev.PortID{Base: netdev.MaxPorts + 1})}, err: "invalid options: port base exceeds the maximum"},
		{name: "max port", opts: []Option{WithPorts(netdev.PortID{Base: netdev.MaxPorts})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(test.NewLogger(), tt.opts...)
			if tt.err != "" {
				assert.EqualError(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, d.Close())
		})
	}
}

func TestDevice_GetInfo(t *testing.T) {
	info := DefaultDeviceInfo
	info.BaseInfo.MinTxBufferLength = 60
	d := newTestDevice(t, WithDeviceInfo(info))

	got, err := d.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestDevice_OpenSessionInvalid(t *testing.T) {
	d := newTestDevice(t)
	r := newTestRegions(t, 4)

	tests := []struct {
		name   string
		modify func(*netdev.SessionInfo)
		status zx.Status
	}{
		{"missing data", func(i *netdev.SessionInfo) { i.Data = nil }, zx.StatusInvalidArgs},
		{"version", func(i *netdev.SessionInfo) { i.DescriptorVersion = 2 }, zx.StatusNotSupported},
		{"descriptor length", func(i *netdev.SessionInfo) { i.DescriptorLength = 4 }, zx.StatusInvalidArgs},
		{"no descriptors", func(i *netdev.SessionInfo) { i.DescriptorCount = 0 }, zx.StatusInvalidArgs},
		{"descriptor region", func(i *netdev.SessionInfo) { i.DescriptorCount = 4096 }, zx.StatusInvalidArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := r.info(netdev.SessionFlagPrimary)
			tt.modify(&info)
			_, _, err := d.OpenSession(context.Background(), "invalid", info)
			assert.ErrorIs(t, err, tt.status)
		})
	}
}

func TestDevice_SinglePrimary(t *testing.T) {
	d := newTestDevice(t)
	r := newTestRegions(t, 4)

	ctrl, _, err := d.OpenSession(context.Background(), "first", r.info(netdev.SessionFlagPrimary))
	require.NoError(t, err)

	_, _, err = d.OpenSession(context.Background(), "second", r.info(netdev.SessionFlagPrimary))
	assert.ErrorIs(t, err, zx.StatusAlreadyBound)

	other, _, err := d.OpenSession(context.Background(), "secondary", r.info(0))
	require.NoError(t, err)
	require.NoError(t, other.Close())

	require.NoError(t, ctrl.Close())
	assert.ErrorIs(t, ctrl.Close(), zx.StatusBadHandle)

	ctrl, _, err = d.OpenSession(context.Background(), "again", r.info(netdev.SessionFlagPrimary))
	require.NoError(t, err)
	require.NoError(t, ctrl.Close())
}

func TestDevice_OpenAfterClose(t *testing.T) {
	d, err := New(test.NewLogger())
	require.NoError(t, err)
	require.NoError(t, d.Close())

	r := newTestRegions(t, 4)
	_, _, err = d.OpenSession(context.Background(), "late", r.info(netdev.SessionFlagPrimary))
	assert.ErrorIs(t, err, zx.StatusPeerClosed)
}

func TestDevice_Echo(t *testing.T) {
	d := newTestDevice(t)
	r := newTestRegions(t, 2)
	ctrl, fifos, err := d.OpenSession(context.Background(), "echo", r.info(netdev.SessionFlagPrimary))
	require.NoError(t, err)
	require.NoError(t, ctrl.Attach(context.Background(), netdev.PortID{}, []netdev.FrameType{netdev.FrameTypeIPv4}))

	// Descriptor 0 receives, descriptor 1 transmits.
	r.descs[0] = netdev.Descriptor{Offset: 0, DataLength: testStride}
	r.descs[1] = netdev.Descriptor{
		FrameType:  netdev.FrameTypeIPv4,
		Offset:     testStride,
		HeadLength: 4,
		DataLength: 3,
	}
	copy(r.data[testStride+4:], "abc")

	write(t, fifos.Rx, 0)
	write(t, fifos.Tx, 1)

	assert.Equal(t, uint16(1), readOne(t, fifos.Tx))
	assert.Zero(t, r.descs[1].ReturnFlags)
	assert.Equal(t, uint16(0), readOne(t, fifos.Rx))
	assert.Equal(t, uint32(3), r.descs[0].DataLength)
	assert.Equal(t, netdev.FrameTypeIPv4, r.descs[0].FrameType)
	assert.Equal(t, "abc", string(r.data[:3]))
}

func TestDevice_DropsUnsubscribed(t *testing.T) {
	d := newTestDevice(t)
	r := newTestRegions(t, 2)
	ctrl, fifos, err := d.OpenSession(context.Background(), "drop", r.info(netdev.SessionFlagPrimary))
	require.NoError(t, err)
	require.NoError(t, ctrl.Attach(context.Background(), netdev.PortID{}, []netdev.FrameType{netdev.FrameTypeIPv6}))

	r.descs[1] = netdev.Descriptor{FrameType: netdev.FrameTypeIPv4, Offset: testStride, DataLength: 1}
	write(t, fifos.Tx, 1)
	assert.Equal(t, uint16(1), readOne(t, fifos.Tx))
	assert.Equal(t, uint32(netdev.TxReturnNotAvailable), r.descs[1].ReturnFlags)

	r.descs[1] = netdev.Descriptor{Offset: uint64(len(r.data)), DataLength: 1}
	write(t, fifos.Tx, 1)
	assert.Equal(t, uint16(1), readOne(t, fifos.Tx))
	assert.Equal(t, uint32(netdev.TxReturnError), r.descs[1].ReturnFlags)
}

func TestDevice_AttachDetach(t *testing.T) {
	d := newTestDevice(t, WithPorts(netdev.PortID{Base: 1, Salt: 7}))
	r := newTestRegions(t, 2)
	ctrl, _, err := d.OpenSession(context.Background(), "ports", r.info(netdev.SessionFlagPrimary))
	require.NoError(t, err)
	ctx := context.Background()
	port := netdev.PortID{Base: 1, Salt: 7}

	assert.ErrorIs(t, ctrl.Attach(ctx, netdev.PortID{}, nil), zx.StatusNotFound)
	require.NoError(t, ctrl.Attach(ctx, port, nil))
	assert.ErrorIs(t, ctrl.Attach(ctx, port, nil), zx.StatusAlreadyBound)
	assert.ErrorIs(t, ctrl.Detach(ctx, netdev.PortID{Base: 1, Salt: 8}), zx.StatusNotFound)
	require.NoError(t, ctrl.Detach(ctx, port))
	assert.ErrorIs(t, ctrl.Detach(ctx, port), zx.StatusNotFound)

	require.NoError(t, ctrl.Close())
	assert.ErrorIs(t, ctrl.Attach(ctx, port, nil), zx.StatusPeerClosed)
}

func TestDevice_DelegateRxLease(t *testing.T) {
	d := newTestDevice(t)
	r := newTestRegions(t, 2)
	hold := uint64(1)
	lease := netdev.DelegatedRxLease{HoldUntilFrame: &hold}

	assert.ErrorIs(t, d.DelegateRxLease(lease), zx.StatusBadState)

	ctrl, _, err := d.OpenSession(context.Background(), "leases",
		r.info(netdev.SessionFlagPrimary|netdev.SessionFlagReceiveRxPowerLeases))
	require.NoError(t, err)

	require.NoError(t, d.DelegateRxLease(lease))
	got, err := ctrl.WatchDelegatedRxLease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &hold, got.HoldUntilFrame)

	for range 16 {
		require.NoError(t, d.DelegateRxLease(lease))
	}
	assert.ErrorIs(t, d.DelegateRxLease(lease), zx.StatusNoResources)

	require.NoError(t, ctrl.Close())
	_, err = ctrl.WatchDelegatedRxLease(context.Background())
	// Queued leases may still be returned before the closed state is seen.
	for err == nil {
		_, err = ctrl.WatchDelegatedRxLease(context.Background())
	}
	assert.ErrorIs(t, err, zx.StatusPeerClosed)
}

func TestFifoDepth(t *testing.T) {
	assert.Equal(t, 1, fifoDepth(1))
	assert.Equal(t, 4, fifoDepth(3))
	assert.Equal(t, 64, fifoDepth(64))
	assert.Equal(t, zx.MaxFifoDepth, fifoDepth(65535))
	assert.NoError(t, zx.CheckFifoDepth(fifoDepth(100)))
}
