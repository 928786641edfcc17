//go:build linux

package zx

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Vmo is a shared memory object backed by an anonymous memfd.
type Vmo struct {
	name string
	fd   int
	size int
}

// NewVmo creates a memory object of at least size bytes. The size is rounded
// up to a whole number of pages.
func NewVmo(name string, size int) (*Vmo, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: vmo size %d", StatusInvalidArgs, size)
	}
	size = roundToPage(size)

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("create memfd: %w", err)
	}
	if err = unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("truncate memfd to %d: %w", size, err)
	}

	return &Vmo{name: name, fd: fd, size: size}, nil
}

func (v *Vmo) Name() string { return v.name }
func (v *Vmo) Size() int    { return v.size }

// Map maps the whole object read-write and shared.
func (v *Vmo) Map() (*Mapping, error) {
	if v.fd < 0 {
		return nil, StatusBadHandle
	}

	b, err := unix.Mmap(v.fd, 0, v.size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", v.name, err)
	}

	return &Mapping{b: b, unmap: unix.Munmap}, nil
}

// Close releases the handle. Existing mappings stay valid.
func (v *Vmo) Close() error {
	if v.fd < 0 {
		return StatusBadHandle
	}
	err := unix.Close(v.fd)
	v.fd = -1
	return err
}
