package loopback

import (
	"fmt"

	"github.com/NomadArchitect/fuchsia-sub001/config"
	"github.com/NomadArchitect/fuchsia-sub001/netdev"
)

// OptionsFromConfig builds device options from the device.* keys. Unset keys
// keep the values of DefaultDeviceInfo.
func OptionsFromConfig(c *config.C) ([]Option, error) {
	info := DefaultDeviceInfo
	b := &info.BaseInfo
	b.RxDepth = c.GetUint16("device.rx_depth", b.RxDepth)
	b.TxDepth = c.GetUint16("device.tx_depth", b.TxDepth)
	b.BufferAlignment = c.GetUint32("device.buffer_alignment", b.BufferAlignment)
	b.MaxBufferLength = c.GetUint32("device.max_buffer_length", b.MaxBufferLength)
	b.MinRxBufferLength = c.GetUint32("device.min_rx_buffer_length", b.MinRxBufferLength)
	b.MinTxBufferLength = c.GetUint32("device.min_tx_buffer_length", b.MinTxBufferLength)
	b.MinTxBufferHead = c.GetUint16("device.min_tx_buffer_head", b.MinTxBufferHead)
	b.MinTxBufferTail = c.GetUint16("device.min_tx_buffer_tail", b.MinTxBufferTail)

	base := c.GetInt("device.port.base", 0)
	salt := c.GetInt("device.port.salt", 0)
	if base < 0 || base > int(netdev.MaxPorts) {
		return nil, fmt.Errorf("device.port.base %d is out of range [0, %d]", base, netdev.MaxPorts)
	}
	if salt < 0 || salt > 0xff {
		return nil, fmt.Errorf("device.port.salt %d is out of range [0, 255]", salt)
	}

	opts := []Option{
		WithDeviceInfo(info),
		WithPorts(netdev.PortID{Base: uint8(base), Salt: uint8(salt)}),
	}
	if !c.GetBool("device.echo", true) {
		opts = append(opts, WithoutEcho())
	}
	return opts, nil
}
