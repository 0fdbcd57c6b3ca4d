package xfer

import "errors"

var (
	// ErrResourceExhausted indicates a unit could not be pinned or
	// allocated, or the queue is at its configured depth limit.
	ErrResourceExhausted = errors.New("transfer resources exhausted")

	// ErrInvalidArgument indicates a malformed request, such as mapping
	// an item larger than one memory unit.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoData indicates a control operation on an empty queue.
	ErrNoData = errors.New("no transfer pending")

	// ErrFault indicates a copy across the privilege boundary failed.
	ErrFault = errors.New("memory fault")

	// ErrChannelUnavailable indicates the control channel handle is
	// closed or mid-reopen.
	ErrChannelUnavailable = errors.New("control channel unavailable")
)
