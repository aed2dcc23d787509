// Package process defines the types shared by every memlink layer: process
// identifiers, remote addresses, the owned ProcessHandle, transfer results,
// the error taxonomy and the Platform capability implemented per OS.
package process

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessNotFound is returned when no process with the requested PID exists at attach time.
	ErrProcessNotFound = errors.New("process not found")

	// ErrAccessDenied is returned when the caller lacks the privilege to open the target,
	// or when the requested pages are protected or unmapped.
	ErrAccessDenied = errors.New("access denied")

	// ErrProcessGone is returned when the target of a previously attached handle has exited.
	ErrProcessGone = errors.New("process gone")

	// ErrInvalidArgument is returned for zero lengths, overflowing ranges and negative PIDs.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPartialTransfer is matched by *PartialTransferError. It is a soft failure:
	// the bytes actually transferred are carried by the error.
	ErrPartialTransfer = errors.New("partial transfer")

	// ErrReadOnlyTarget is returned when a write hits a mapped page that is not writable.
	ErrReadOnlyTarget = errors.New("read-only target")

	// ErrPlatformUnsupported is returned on operating systems without a backend.
	ErrPlatformUnsupported = errors.New("platform unsupported")

	// ErrAlreadyInitialized marks a second initialization of the core. It is fatal.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrHandleNotFound is returned for unknown or released handle ids.
	ErrHandleNotFound = errors.New("handle not found")

	ErrInvalidPointer = errors.New("invalid pointer read")
)

// PartialTransferError reports a read or write that completed for only part
// of the requested range, typically because the range crosses into a page
// that cannot be accessed.
type PartialTransferError struct {
	Address     ProcessMemoryAddress
	Requested   ProcessMemorySize
	Transferred ProcessMemorySize

	// Data holds the bytes obtained by a partial read. It is nil for writes.
	Data []byte
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("partial transfer at %s: %d of %d bytes", e.Address.ToString(), e.Transferred, e.Requested)
}

func (e *PartialTransferError) Unwrap() error {
	return ErrPartialTransfer
}

// ErrorKind classifies an error into the taxonomy above.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindProcessNotFound
	KindAccessDenied
	KindProcessGone
	KindInvalidArgument
	KindPartialTransfer
	KindReadOnlyTarget
	KindPlatformUnsupported
	KindAlreadyInitialized
	KindHandleNotFound
	KindInvalidPointer
	KindUnknown
)

var kindNames = map[ErrorKind]string{
	KindNone:                "none",
	KindProcessNotFound:     "process-not-found",
	KindAccessDenied:        "access-denied",
	KindProcessGone:         "process-gone",
	KindInvalidArgument:     "invalid-argument",
	KindPartialTransfer:     "partial-transfer",
	KindReadOnlyTarget:      "read-only-target",
	KindPlatformUnsupported: "platform-unsupported",
	KindAlreadyInitialized:  "already-initialized",
	KindHandleNotFound:      "handle-not-found",
	KindInvalidPointer:      "invalid-pointer",
	KindUnknown:             "unknown",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// kindOrder is checked in sequence. ProcessGone comes first so that it wins
// over an access error joined to it.
var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrProcessGone, KindProcessGone},
	{ErrPartialTransfer, KindPartialTransfer},
	{ErrReadOnlyTarget, KindReadOnlyTarget},
	{ErrAccessDenied, KindAccessDenied},
	{ErrProcessNotFound, KindProcessNotFound},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrPlatformUnsupported, KindPlatformUnsupported},
	{ErrAlreadyInitialized, KindAlreadyInitialized},
	{ErrHandleNotFound, KindHandleNotFound},
	{ErrInvalidPointer, KindInvalidPointer},
}

// KindOf returns the ErrorKind of err, KindNone for nil and KindUnknown for
// errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
