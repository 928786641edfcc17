package netdev

import "fmt"

type FrameType uint8

const (
	FrameTypeEthernet FrameType = 1
	FrameTypeIPv4     FrameType = 2
	FrameTypeIPv6     FrameType = 3
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeEthernet:
		return "ethernet"
	case FrameTypeIPv4:
		return "ipv4"
	case FrameTypeIPv6:
		return "ipv6"
	}
	return fmt.Sprintf("FrameType(%d)", uint8(f))
}

type InfoType uint32

const InfoTypeNoInfo InfoType = 0

// SessionFlags are the options requested when opening a session.
type SessionFlags uint16

const (
	// SessionFlagPrimary marks the session that receives all frames.
	SessionFlagPrimary SessionFlags = 1 << iota
	SessionFlagListenTx
	SessionFlagReportInvalidRx
	// SessionFlagReceiveRxPowerLeases asks the device to delegate power leases
	// tied to received frames.
	SessionFlagReceiveRxPowerLeases
)

type RxAcceleration uint8
type TxAcceleration uint8

// DeviceBaseInfo describes the buffer requirements of a device.
type DeviceBaseInfo struct {
	RxDepth         uint16
	TxDepth         uint16
	BufferAlignment uint32
	// MaxBufferLength is zero when the device imposes no limit.
	MaxBufferLength   uint32
	MinRxBufferLength uint32
	MinTxBufferLength uint32
	MinTxBufferHead   uint16
	MinTxBufferTail   uint16
	MaxBufferParts    uint8
	RxAccel           []RxAcceleration
	TxAccel           []TxAcceleration
}

type DeviceInfo struct {
	// MinDescriptorLength is in 64-bit words.
	MinDescriptorLength uint8
	DescriptorVersion   uint8
	BaseInfo            DeviceBaseInfo
}

// TxReturnFlags are set by the device on completed TX descriptors.
type TxReturnFlags uint32

const (
	TxReturnNotSupported   TxReturnFlags = 1
	TxReturnOutOfResources TxReturnFlags = 2
	TxReturnNotAvailable   TxReturnFlags = 4
	TxReturnError          TxReturnFlags = 0x80000000
)
