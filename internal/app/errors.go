package app

// TransferError reports a failure of the transfer protocol itself, as
// opposed to local I/O trouble or channel faults. The reason is shown to
// the user verbatim, and may have been sent to the peer as well.
type TransferError struct {
	Reason string
}

func (e *TransferError) Error() string { return e.Reason }
