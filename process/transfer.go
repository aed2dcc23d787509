package process

import (
	"errors"
	"fmt"
)

// TransferStatus is the outcome of a single read or write.
type TransferStatus int

const (
	TransferSuccess TransferStatus = iota
	TransferPartial
	TransferDenied
	TransferInvalidAddress
	TransferProcessGone
	TransferReadOnly
	TransferFailed
)

func (s TransferStatus) String() string {
	switch s {
	case TransferSuccess:
		return "success"
	case TransferPartial:
		return "partial"
	case TransferDenied:
		return "denied"
	case TransferInvalidAddress:
		return "invalid-address"
	case TransferProcessGone:
		return "process-gone"
	case TransferReadOnly:
		return "read-only"
	default:
		return "failed"
	}
}

// TransferResult describes how much of a requested transfer happened.
type TransferResult struct {
	Requested   ProcessMemorySize
	Transferred ProcessMemorySize
	Status      TransferStatus

	// Data is set for reads.
	Data []byte
	Err  error
}

func (r TransferResult) String() string {
	return fmt.Sprintf("%s: %d/%d bytes", r.Status, r.Transferred, r.Requested)
}

// NewTransferResult builds a TransferResult from the return values of a read
// or write. For a *PartialTransferError the transferred count and data are
// taken from the error.
func NewTransferResult(data []byte, n int, requested ProcessMemorySize, err error) TransferResult {
	r := TransferResult{
		Requested:   requested,
		Transferred: ProcessMemorySize(n),
		Data:        data,
		Err:         err,
	}

	var pe *PartialTransferError
	if errors.As(err, &pe) {
		r.Transferred = pe.Transferred
		if pe.Data != nil {
			r.Data = pe.Data
		}
	}

	switch KindOf(err) {
	case KindNone:
		r.Status = TransferSuccess
	case KindPartialTransfer:
		r.Status = TransferPartial
	case KindAccessDenied:
		r.Status = TransferDenied
	case KindInvalidArgument:
		r.Status = TransferInvalidAddress
	case KindProcessGone:
		r.Status = TransferProcessGone
	case KindReadOnlyTarget:
		r.Status = TransferReadOnly
	default:
		r.Status = TransferFailed
	}

	if r.Status != TransferSuccess && r.Status != TransferPartial {
		r.Transferred = 0
		r.Data = nil
	}

	return r
}
