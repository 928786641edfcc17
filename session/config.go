package session

import (
	"math"
	"math/bits"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
)

// DefaultBufferLength is the next power of two after the default Ethernet MTU.
const DefaultBufferLength = 2048

// DerivableConfig holds the session settings chosen by the caller. Combined
// with the device's requirements it produces a [Config].
type DerivableConfig struct {
	// DefaultBufferLength is the desired buffer length. The device may raise
	// or cap it.
	DefaultBufferLength uint
	// Primary requests a primary session.
	Primary bool
	// WatchRxLeases enables [Session.WatchRxLeases].
	WatchRxLeases bool
}

// DefaultDerivableConfig is a primary session with [DefaultBufferLength]
// buffers and no lease watching.
var DefaultDerivableConfig = DerivableConfig{
	DefaultBufferLength: DefaultBufferLength,
	Primary:             true,
}

type bufferLayout struct {
	// length is the usable size of every buffer.
	length int
	// minTxHead and minTxTail are reserved around every TX payload.
	minTxHead int
	minTxTail int
	// minTxData is the shortest payload the device accepts; TX frames are
	// zero padded up to it.
	minTxData int
}

// Config is the validated, immutable configuration of a session.
type Config struct {
	bufferStride int
	numRxBuffers uint16
	numTxBuffers uint16
	options      netdev.SessionFlags
	layout       bufferLayout
	// maxBufferParts bounds the length of RX descriptor chains.
	maxBufferParts int
}

func (c Config) BufferStride() int            { return c.bufferStride }
func (c Config) BufferLength() int            { return c.layout.length }
func (c Config) NumRxBuffers() uint16         { return c.numRxBuffers }
func (c Config) NumTxBuffers() uint16         { return c.numTxBuffers }
func (c Config) Options() netdev.SessionFlags { return c.options }
func (c Config) MaxBufferParts() int          { return c.maxBufferParts }
func (c Config) MinTxHead() int               { return c.layout.minTxHead }
func (c Config) MinTxTail() int               { return c.layout.minTxTail }
func (c Config) MinTxData() int               { return c.layout.minTxData }

func (c Config) numBuffers() int {
	return int(c.numRxBuffers) + int(c.numTxBuffers)
}

// NewConfig derives a session configuration from the device information.
// The checks done here make every offset and length later read from a
// descriptor safe to use as an int.
func NewConfig(info netdev.DeviceInfo, dc DerivableConfig) (Config, error) {
	base := info.BaseInfo

	if info.DescriptorVersion != netdev.DescriptorVersion {
		return Config{}, configErrorf("descriptor version mismatch: %d != %d",
			netdev.DescriptorVersion, info.DescriptorVersion)
	}
	if netdev.DescriptorWords < int(info.MinDescriptorLength) {
		return Config{}, configErrorf("descriptor length too small: %d < %d",
			netdev.DescriptorWords, info.MinDescriptorLength)
	}

	if base.RxDepth == 0 {
		return Config{}, configErrorf("no RX buffers")
	}
	if base.TxDepth == 0 {
		return Config{}, configErrorf("no TX buffers")
	}

	maxBufferLength := uint(math.MaxUint)
	if base.MaxBufferLength != 0 {
		maxBufferLength = uint(base.MaxBufferLength)
	}
	bufferLength := min(maxBufferLength, max(uint(base.MinRxBufferLength), dc.DefaultBufferLength))

	alignment := uint(base.BufferAlignment)
	if alignment == 0 {
		return Config{}, configErrorf("buffer_alignment is zero")
	}
	padded, carry := bits.Add(bufferLength, alignment-1, 0)
	if carry != 0 {
		return Config{}, configErrorf("not possible to align %d to %d under math.MaxUint",
			bufferLength, alignment)
	}
	stride := padded / alignment * alignment
	if stride < bufferLength {
		return Config{}, configErrorf("buffer stride too small %d < %d", stride, bufferLength)
	}

	if bufferLength < uint(base.MinTxBufferHead)+uint(base.MinTxBufferTail) {
		return Config{}, configErrorf(
			"buffer length %d does not meet minimum tx buffer head/tail requirement %d/%d",
			bufferLength, base.MinTxBufferHead, base.MinTxBufferTail)
	}

	numBuffers := uint(base.RxDepth) + uint(base.TxDepth)
	if numBuffers >= math.MaxUint16 {
		return Config{}, configErrorf("too many buffers requested: %d + %d >= %d",
			base.RxDepth, base.TxDepth, math.MaxUint16)
	}

	hi, total := bits.Mul(stride, numBuffers)
	if hi != 0 || total > math.MaxInt {
		return Config{}, configErrorf(
			"too much memory required for the buffers: %d * %d > math.MaxInt",
			stride, numBuffers)
	}

	if stride == 0 {
		return Config{}, configErrorf("buffer_stride is zero")
	}

	if uint(base.MinTxBufferLength) > bufferLength {
		return Config{}, configErrorf("buffer_length smaller than minimum TX requirement: %d < %d",
			bufferLength, base.MinTxBufferLength)
	}

	maxParts := netdev.MaxDescriptorChain
	if base.MaxBufferParts != 0 {
		maxParts = min(int(base.MaxBufferParts), netdev.MaxDescriptorChain)
	}

	var options netdev.SessionFlags
	if dc.Primary {
		options |= netdev.SessionFlagPrimary
	}
	if dc.WatchRxLeases {
		options |= netdev.SessionFlagReceiveRxPowerLeases
	}

	return Config{
		bufferStride:   int(stride),
		numRxBuffers:   base.RxDepth,
		numTxBuffers:   base.TxDepth,
		options:        options,
		maxBufferParts: maxParts,
		layout: bufferLayout{
			length:    int(bufferLength),
			minTxHead: int(base.MinTxBufferHead),
			minTxTail: int(base.MinTxBufferTail),
			minTxData: int(base.MinTxBufferLength),
		},
	}, nil
}
