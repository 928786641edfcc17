package zx_test

import (
	"context"
	"testing"
	"time"

	"github.com/NomadArchitect/fuchsia-sub001/zx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFifoDepth(t *testing.T) {
	tests := []struct {
		name        string
		depth       int
		containsErr string
	}{
		{name: "negative", depth: -1, containsErr: "too small"},
		{name: "zero", depth: 0, containsErr: "too small"},
		{name: "not a power of 2", depth: 24, containsErr: "not a power of 2"},
		{name: "too large", depth: 65536, containsErr: "larger than the maximum"},
		{name: "valid 1", depth: 1},
		{name: "valid 256", depth: 256},
		{name: "valid 32768", depth: 32768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := zx.CheckFifoDepth(tt.depth)
			if tt.containsErr != "" {
				assert.ErrorIs(t, err, zx.StatusOutOfRange)
				assert.ErrorContains(t, err, tt.containsErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFifo_ReadWrite(t *testing.T) {
	a, b, err := zx.NewFifoPair(4)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Depth())

	w := zx.NewWaker()
	buf := make([]uint16, 8)

	n, err := b.TryRead(w, buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = a.TryWrite(nil, []uint16{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	select {
	case <-w.C():
	default:
		t.Fatal("reader was not woken")
	}

	n, err = a.TryWrite(w, []uint16{5})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = b.TryRead(nil, buf)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3, 4}, buf[:n])

	select {
	case <-w.C():
	default:
		t.Fatal("writer was not woken")
	}

	// The other direction is independent.
	n, err = b.TryWrite(nil, []uint16{9})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = a.TryRead(nil, buf)
	require.NoError(t, err)
	assert.Equal(t, []uint16{9}, buf[:n])
}

func TestFifo_EmptySlice(t *testing.T) {
	a, _, err := zx.NewFifoPair(1)
	require.NoError(t, err)

	_, err = a.TryWrite(nil, nil)
	assert.ErrorIs(t, err, zx.StatusOutOfRange)
	_, err = a.TryRead(nil, nil)
	assert.ErrorIs(t, err, zx.StatusOutOfRange)
}

func TestFifo_Rights(t *testing.T) {
	a, b, err := zx.NewFifoPair(2)
	require.NoError(t, err)

	ro, err := a.Replace(zx.RightRead)
	require.NoError(t, err)
	assert.Equal(t, zx.RightRead, ro.Rights())

	_, err = a.TryWrite(nil, []uint16{1})
	assert.ErrorIs(t, err, zx.StatusBadHandle, "replaced handle must be invalid")

	_, err = ro.TryWrite(nil, []uint16{1})
	assert.ErrorIs(t, err, zx.StatusAccessDenied)

	_, err = ro.Replace(zx.RightsFifo)
	assert.ErrorIs(t, err, zx.StatusAccessDenied, "rights can not be raised")

	_, err = b.TryWrite(nil, []uint16{7})
	require.NoError(t, err)
	buf := make([]uint16, 1)
	n, err := ro.TryRead(nil, buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFifo_PeerClosed(t *testing.T) {
	a, b, err := zx.NewFifoPair(2)
	require.NoError(t, err)

	_, err = a.TryWrite(nil, []uint16{1})
	require.NoError(t, err)

	w := zx.NewWaker()
	_, err = a.TryRead(w, make([]uint16, 1))
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Close(), zx.StatusBadHandle)

	select {
	case <-w.C():
	default:
		t.Fatal("waiter was not woken on close")
	}

	_, err = b.TryWrite(nil, []uint16{2})
	assert.ErrorIs(t, err, zx.StatusPeerClosed)

	buf := make([]uint16, 2)
	n, err := b.TryRead(nil, buf)
	require.NoError(t, err, "buffered records survive the peer")
	assert.Equal(t, []uint16{1}, buf[:n])

	_, err = b.TryRead(nil, buf)
	assert.ErrorIs(t, err, zx.StatusPeerClosed)
}

func TestFifo_Blocking(t *testing.T) {
	a, b, err := zx.NewFifoPair(1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan []uint16)
	go func() {
		buf := make([]uint16, 1)
		n, err := b.Read(ctx, buf)
		assert.NoError(t, err)
		done <- buf[:n]
	}()

	n, err := a.Write(ctx, []uint16{3})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uint16{3}, <-done)

	short, cancelShort := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancelShort()
	_, err = b.Read(short, make([]uint16, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
