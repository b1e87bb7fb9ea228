package protocol

import (
	"errors"

	"github.com/scomans/dev-console-sub000/channel"
	"github.com/scomans/dev-console-sub000/coordinator"
	"github.com/scomans/dev-console-sub000/process"
	"github.com/scomans/dev-console-sub000/readiness"
)

// CodeOf classifies an error returned by the coordinator.
func CodeOf(err error) ErrorCode {
	var timeout *readiness.TimeoutError
	switch {
	case errors.Is(err, coordinator.ErrUnknownChannel):
		return ErrNotFound
	case errors.Is(err, coordinator.ErrNoProject):
		return ErrNoProject
	case errors.Is(err, process.ErrAlreadyActive):
		return ErrAlreadyActive
	case errors.Is(err, process.ErrShuttingDown):
		return ErrShuttingDown
	case errors.As(err, &timeout):
		return ErrTimeout
	case errors.Is(err, channel.ErrMissingID), errors.Is(err, channel.ErrMissingExecutable):
		return ErrInvalidArgs
	default:
		return ErrInternal
	}
}
