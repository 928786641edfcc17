package session

import (
	"fmt"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
)

// Port is a device port a session can attach to.
type Port struct {
	base uint8
	salt uint8
}

// NewPort validates a port identifier reported by the device.
func NewPort(id netdev.PortID) (Port, error) {
	if id.Base > netdev.MaxPorts {
		return Port{}, fmt.Errorf("%w: base %d > %d", ErrInvalidPortID, id.Base, netdev.MaxPorts)
	}
	return Port{base: id.Base, salt: id.Salt}, nil
}

func (p Port) ID() netdev.PortID {
	return netdev.PortID{Base: p.base, Salt: p.salt}
}

func (p Port) String() string {
	return fmt.Sprintf("%d:%d", p.base, p.salt)
}
