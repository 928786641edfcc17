package session

import (
	"errors"
	"fmt"
)

var (
	// ErrTooLarge is returned when a TX allocation can not fit in a buffer.
	ErrTooLarge = errors.New("buffer too large")
	// ErrPad is returned by Send when a TX buffer can not be padded to the
	// device minimum.
	ErrPad = errors.New("failed to pad tx buffer")
	// ErrBadDescriptor means the device returned a descriptor that violates
	// the session's ownership rules. It is fatal for the session.
	ErrBadDescriptor = errors.New("bad descriptor")
	// ErrInvalidLease is returned when the device delegates a lease with
	// missing fields.
	ErrInvalidLease = errors.New("invalid rx lease")
	ErrInvalidPortID = errors.New("invalid port id")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// ConfigError is returned when device information can not produce a usable
// session configuration.
type ConfigError struct {
	Reason string
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return "invalid config: " + e.Reason
}

// OpenError is returned when the device refuses to open a session.
type OpenError struct {
	Name string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open session %s: %v", e.Name, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// PortError is returned when attaching or detaching a port fails.
type PortError struct {
	Op   string
	Port Port
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("failed to %s port %v: %v", e.Op, e.Port, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// FifoError is a failed FIFO operation. It is always fatal for the session.
type FifoError struct {
	Op  string
	Dir string
	Err error
}

func (e *FifoError) Error() string {
	return fmt.Sprintf("fifo %s %s error: %v", e.Op, e.Dir, e.Err)
}

func (e *FifoError) Unwrap() error { return e.Err }
