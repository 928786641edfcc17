package zx

import "fmt"

// Status is a kernel status code. Values other than StatusOK are errors and
// can be matched with errors.Is.
type Status int32

const (
	StatusOK            Status = 0
	StatusInternal      Status = -1
	StatusNotSupported  Status = -2
	StatusNoResources   Status = -3
	StatusNoMemory      Status = -4
	StatusInvalidArgs   Status = -10
	StatusBadHandle     Status = -11
	StatusOutOfRange    Status = -14
	StatusBadState      Status = -20
	StatusTimedOut      Status = -21
	StatusShouldWait    Status = -22
	StatusCanceled      Status = -23
	StatusPeerClosed    Status = -24
	StatusNotFound      Status = -25
	StatusAlreadyExists Status = -26
	StatusAlreadyBound  Status = -27
	StatusUnavailable   Status = -28
	StatusAccessDenied  Status = -30
)

var statusNames = map[Status]string{
	StatusOK:            "ZX_OK",
	StatusInternal:      "ZX_ERR_INTERNAL",
	StatusNotSupported:  "ZX_ERR_NOT_SUPPORTED",
	StatusNoResources:   "ZX_ERR_NO_RESOURCES",
	StatusNoMemory:      "ZX_ERR_NO_MEMORY",
	StatusInvalidArgs:   "ZX_ERR_INVALID_ARGS",
	StatusBadHandle:     "ZX_ERR_BAD_HANDLE",
	StatusOutOfRange:    "ZX_ERR_OUT_OF_RANGE",
	StatusBadState:      "ZX_ERR_BAD_STATE",
	StatusTimedOut:      "ZX_ERR_TIMED_OUT",
	StatusShouldWait:    "ZX_ERR_SHOULD_WAIT",
	StatusCanceled:      "ZX_ERR_CANCELED",
	StatusPeerClosed:    "ZX_ERR_PEER_CLOSED",
	StatusNotFound:      "ZX_ERR_NOT_FOUND",
	StatusAlreadyExists: "ZX_ERR_ALREADY_EXISTS",
	StatusAlreadyBound:  "ZX_ERR_ALREADY_BOUND",
	StatusUnavailable:   "ZX_ERR_UNAVAILABLE",
	StatusAccessDenied:  "ZX_ERR_ACCESS_DENIED",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("zx.Status(%d)", int32(s))
}

func (s Status) Error() string {
	return s.String()
}

// StatusFromRaw converts a raw status value into a Status, returning nil for
// StatusOK so it can be used directly as an error return.
func StatusFromRaw(raw int32) error {
	if raw == int32(StatusOK) {
		return nil
	}
	return Status(raw)
}
