package netdev

import (
	"context"
	"io"

	"github.com/NomadArchitect/fuchsia-sub001/zx"
)

// SessionInfo is sent to the device when opening a session.
type SessionInfo struct {
	Descriptors       *zx.Vmo
	Data              *zx.Vmo
	DescriptorVersion uint8
	// DescriptorLength is in 64-bit words.
	DescriptorLength uint8
	DescriptorCount  uint16
	Options          SessionFlags
}

// Fifos are the session's ends of the descriptor queues.
type Fifos struct {
	Rx *zx.Fifo
	Tx *zx.Fifo
}

// DelegatedRxLease is a lease the device hands to a session. Either field
// may be missing if the device is misbehaving.
type DelegatedRxLease struct {
	HoldUntilFrame *uint64
	Handle         io.Closer
}

// Device is a network device able to open sessions.
type Device interface {
	GetInfo(ctx context.Context) (DeviceInfo, error)
	// OpenSession returns the control channel and the FIFOs of a new session.
	// Failures are reported as [zx.Status] values.
	OpenSession(ctx context.Context, name string, info SessionInfo) (SessionControl, Fifos, error)
}

// SessionControl is the control channel of an open session. Errors are
// [zx.Status] values; [zx.StatusPeerClosed] means the channel is closed.
type SessionControl interface {
	Attach(ctx context.Context, port PortID, rxFrames []FrameType) error
	Detach(ctx context.Context, port PortID) error
	// WatchDelegatedRxLease blocks until the device delegates a lease.
	WatchDelegatedRxLease(ctx context.Context) (DelegatedRxLease, error)
	Close() error
}
