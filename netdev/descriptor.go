package netdev

import (
	"fmt"
	"unsafe"
)

const (
	// DescriptorVersion is the layout version of [Descriptor].
	DescriptorVersion uint8 = 1
	// MaxPorts is the largest port base a device may report.
	MaxPorts uint8 = 32
	// MaxDescriptorChain is the maximum number of descriptors in one frame.
	MaxDescriptorChain = 4
)

// DescriptorLength is the size of a [Descriptor] in bytes. It is always a
// whole number of 64-bit words.
const DescriptorLength = int(unsafe.Sizeof(Descriptor{}))

// DescriptorWords is [DescriptorLength] in 64-bit words.
const DescriptorWords = DescriptorLength / 8

// PortID identifies a device port. Salt distinguishes successive ports that
// reuse the same base.
type PortID struct {
	Base uint8
	Salt uint8
}

// Descriptor describes one buffer slot shared between a session and the
// device. It maps directly onto the descriptor region.
type Descriptor struct {
	FrameType FrameType
	// ChainLength is the number of descriptors following this one in the
	// same frame.
	ChainLength uint8
	// Nxt is the next descriptor of the chain, valid when ChainLength > 0.
	Nxt      uint16
	InfoType InfoType
	PortID   PortID
	_        [2]uint8
	_        uint32
	// Offset is the start of the slot in the data region.
	Offset     uint64
	HeadLength uint16
	TailLength uint16
	DataLength uint32
	// InboundFlags are set by the device on RX. For TX they carry
	// TxFlags from the session.
	InboundFlags uint32
	ReturnFlags  uint32
}

// Descriptors returns a view of count descriptors stored at the start of mem.
func Descriptors(mem []byte, count int) []Descriptor {
	if count == 0 {
		return nil
	}
	if need := count * DescriptorLength; len(mem) < need {
		panic(fmt.Sprintf("descriptor memory too small: %d < %d", len(mem), need))
	}
	if uintptr(unsafe.Pointer(&mem[0]))%unsafe.Alignof(Descriptor{}) != 0 {
		panic("descriptor memory is not aligned")
	}
	return unsafe.Slice((*Descriptor)(unsafe.Pointer(&mem[0])), count)
}
