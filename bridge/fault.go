package bridge

import (
	"errors"
	"fmt"

	"memlink/process"
)

// Status is the stable numeric failure code handed to callers outside Go.
type Status int32

const (
	StatusOK Status = iota
	StatusProcessNotFound
	StatusAccessDenied
	StatusProcessGone
	StatusInvalidArgument
	StatusPartialTransfer
	StatusReadOnlyTarget
	StatusPlatformUnsupported
	StatusAlreadyInitialized
	StatusHandleNotFound
	StatusInvalidPointer
	StatusInternal Status = 255
)

var statusNames = map[Status]string{
	StatusOK:                  "ok",
	StatusProcessNotFound:     "process-not-found",
	StatusAccessDenied:        "access-denied",
	StatusProcessGone:         "process-gone",
	StatusInvalidArgument:     "invalid-argument",
	StatusPartialTransfer:     "partial-transfer",
	StatusReadOnlyTarget:      "read-only-target",
	StatusPlatformUnsupported: "platform-unsupported",
	StatusAlreadyInitialized:  "already-initialized",
	StatusHandleNotFound:      "handle-not-found",
	StatusInvalidPointer:      "invalid-pointer",
	StatusInternal:            "internal",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

var kindStatus = map[process.ErrorKind]Status{
	process.KindNone:                StatusOK,
	process.KindProcessNotFound:     StatusProcessNotFound,
	process.KindAccessDenied:        StatusAccessDenied,
	process.KindProcessGone:         StatusProcessGone,
	process.KindInvalidArgument:     StatusInvalidArgument,
	process.KindPartialTransfer:     StatusPartialTransfer,
	process.KindReadOnlyTarget:      StatusReadOnlyTarget,
	process.KindPlatformUnsupported: StatusPlatformUnsupported,
	process.KindAlreadyInitialized:  StatusAlreadyInitialized,
	process.KindHandleNotFound:      StatusHandleNotFound,
	process.KindInvalidPointer:      StatusInvalidPointer,
}

// StatusOf returns the status code for err.
func StatusOf(err error) Status {
	var f *Fault
	if errors.As(err, &f) {
		return f.Status
	}
	if s, ok := kindStatus[process.KindOf(err)]; ok {
		return s
	}
	return StatusInternal
}

// Fault is the error type of every Context method.
type Fault struct {
	Status  Status
	Message string

	// Partial holds the bytes obtained by a partially successful read.
	Partial []byte

	// Transferred is the byte count of a partial read or write.
	Transferred uint64

	err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Status, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.err
}

// fault wraps err into a *Fault. A nil err stays nil.
func fault(err error) error {
	if err == nil {
		return nil
	}

	var existing *Fault
	if errors.As(err, &existing) {
		return existing
	}

	f := &Fault{Status: StatusOf(err), Message: err.Error(), err: err}

	var pe *process.PartialTransferError
	if errors.As(err, &pe) {
		f.Partial = pe.Data
		f.Transferred = uint64(pe.Transferred)
	}
	return f
}
