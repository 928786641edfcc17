package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	echoPort = 7
	// headerLen is the Ethernet, IPv4 and UDP header overhead of a frame.
	headerLen = 14 + 20 + 8
	// seqLen is the sequence number carried at the start of every payload.
	seqLen = 8
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	srcIP  = net.IPv4(10, 0, 0, 1)
	dstIP  = net.IPv4(10, 0, 0, 2)
)

// frameBuilder serializes echo frames, reusing its buffer between calls.
type frameBuilder struct {
	buf     gopacket.SerializeBuffer
	payload []byte
}

func newFrameBuilder(payloadSize int) (*frameBuilder, error) {
	if payloadSize < seqLen {
		return nil, fmt.Errorf("echo.payload_size must be at least %d, got %d", seqLen, payloadSize)
	}

	payload := make([]byte, payloadSize)
	for i := seqLen; i < len(payload); i++ {
		payload[i] = byte(i)
	}
	return &frameBuilder{buf: gopacket.NewSerializeBuffer(), payload: payload}, nil
}

// build returns the frame carrying seq. It is valid until the next call.
func (fb *frameBuilder) build(seq uint64) ([]byte, error) {
	binary.BigEndian.PutUint64(fb.payload, seq)

	eth := layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := layers.UDP{
		SrcPort: echoPort,
		DstPort: echoPort,
	}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, err
	}

	opt := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(fb.buf, opt, &eth, &ip, &udp, gopacket.Payload(fb.payload)); err != nil {
		return nil, err
	}
	return fb.buf.Bytes(), nil
}

var errNotEcho = errors.New("not an echo frame")

// parseFrame decodes an echoed frame and returns its sequence number and
// payload. Ethernet padding after the UDP datagram is ignored.
func parseFrame(b []byte) (uint64, []byte, error) {
	p := gopacket.NewPacket(b, layers.LayerTypeEthernet, gopacket.DecodeOptions{NoCopy: true, Lazy: true})
	if el := p.ErrorLayer(); el != nil {
		return 0, nil, fmt.Errorf("%w: %v", errNotEcho, el.Error())
	}

	udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || udp.DstPort != echoPort {
		return 0, nil, errNotEcho
	}
	if len(udp.Payload) < seqLen {
		return 0, nil, fmt.Errorf("%w: payload of %d bytes", errNotEcho, len(udp.Payload))
	}
	return binary.BigEndian.Uint64(udp.Payload), udp.Payload, nil
}
