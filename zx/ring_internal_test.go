package zx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_MemoryLayout(t *testing.T) {
	const depth = 2

	memory := make([]byte, ringSize(depth))
	r := newRing(depth, memory)

	*r.writeIndex = 0x01ff
	*r.readIndex = 1
	r.entries[0] = 0x1234
	r.entries[1] = 0x5678

	assert.Equal(t, []byte{
		0xff, 0x01,
		0x01, 0x00,
		0x34, 0x12,
		0x78, 0x56,
	}, memory)
}

func TestRing_Push(t *testing.T) {
	const depth = 8

	records := []uint16{42, 33, 69}

	tests := []struct {
		name               string
		startIndex         uint16
		expectedWriteIndex uint16
		expectedEntries    []uint16
	}{
		{
			name:               "no overflow",
			startIndex:         0,
			expectedWriteIndex: 3,
			expectedEntries:    []uint16{42, 33, 69, 0, 0, 0, 0, 0},
		},
		{
			name:               "ring overflow",
			startIndex:         6,
			expectedWriteIndex: 9,
			expectedEntries:    []uint16{69, 0, 0, 0, 0, 0, 42, 33},
		},
		{
			name:               "index overflow",
			startIndex:         65535,
			expectedWriteIndex: 2,
			expectedEntries:    []uint16{33, 69, 0, 0, 0, 0, 0, 42},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRing(depth, make([]byte, ringSize(depth)))
			*r.writeIndex = tt.startIndex
			*r.readIndex = tt.startIndex

			assert.Equal(t, len(records), r.push(records))
			assert.Equal(t, tt.expectedWriteIndex, *r.writeIndex)
			assert.Equal(t, tt.expectedEntries, r.entries)
			assert.Equal(t, len(records), r.len())

			got := make([]uint16, depth)
			assert.Equal(t, len(records), r.pop(got))
			assert.Equal(t, records, got[:len(records)])
			assert.Equal(t, 0, r.len())
		})
	}
}

func TestRing_Full(t *testing.T) {
	r := newRing(4, make([]byte, ringSize(4)))

	assert.Equal(t, 4, r.push([]uint16{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, 0, r.free())
	assert.Equal(t, 0, r.push([]uint16{7}))

	got := make([]uint16, 2)
	assert.Equal(t, 2, r.pop(got))
	assert.Equal(t, []uint16{1, 2}, got)
	assert.Equal(t, 2, r.free())
}
