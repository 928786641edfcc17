package loopback

import (
	"errors"

	"github.com/NomadArchitect/fuchsia-sub001/netdev"
)

type optionValues struct {
	info  netdev.DeviceInfo
	ports []netdev.PortID
	echo  bool
}

func (o *optionValues) apply(options []Option) {
	for _, option := range options {
		option(o)
	}
}

func (o *optionValues) validate() error {
	if o.info.BaseInfo.RxDepth == 0 || o.info.BaseInfo.TxDepth == 0 {
		return errors.New("rx and tx depth are required")
	}
	if len(o.ports) == 0 {
		return errors.New("at least one port is required")
	}
	for _, p := range o.ports {
		if p.Base > netdev.MaxPorts {
			return errors.New("port base exceeds the maximum")
		}
	}
	return nil
}

// DefaultDeviceInfo describes a device with 64 buffers in each direction and
// no special buffer requirements.
var DefaultDeviceInfo = netdev.DeviceInfo{
	MinDescriptorLength: uint8(netdev.DescriptorWords),
	DescriptorVersion:   netdev.DescriptorVersion,
	BaseInfo: netdev.DeviceBaseInfo{
		RxDepth:         64,
		TxDepth:         64,
		BufferAlignment: 1,
		MaxBufferParts:  netdev.MaxDescriptorChain,
	},
}

func optionDefaults() optionValues {
	return optionValues{
		info:  DefaultDeviceInfo,
		ports: []netdev.PortID{{Base: 0, Salt: 0}},
		echo:  true,
	}
}

// Option can be passed to [New] to influence device creation.
type Option func(*optionValues)

// WithDeviceInfo returns an [Option] that sets the information reported by
// GetInfo and used to validate sessions.
func WithDeviceInfo(info netdev.DeviceInfo) Option {
	return func(o *optionValues) { o.info = info }
}

// WithPorts returns an [Option] that sets the ports sessions may attach to.
// By default the device has a single port with base 0.
func WithPorts(ports ...netdev.PortID) Option {
	return func(o *optionValues) { o.ports = ports }
}

// WithoutEcho returns an [Option] that makes the device complete TX frames
// without delivering them back as RX frames.
func WithoutEcho() Option {
	return func(o *optionValues) { o.echo = false }
}
