package session

// Rx tags receive-side descriptors and buffers.
type Rx struct{}

// Tx tags transmit-side descriptors and buffers.
type Tx struct{}

func (Rx) name() string { return "rx" }
func (Tx) name() string { return "tx" }

// Kind is the direction of a descriptor. It keeps RX and TX descriptor IDs
// from being mixed even though both are 16-bit indexes on the wire.
type Kind interface {
	Rx | Tx
	name() string
}

// DescID is the index of a descriptor in the descriptor region.
type DescID[K Kind] uint16

func isRx[K Kind]() bool {
	var k K
	return k.name() == "rx"
}
