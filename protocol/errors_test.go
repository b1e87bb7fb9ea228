package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/scomans/dev-console-sub000/channel"
	"github.com/scomans/dev-console-sub000/coordinator"
	"github.com/scomans/dev-console-sub000/process"
	"github.com/scomans/dev-console-sub000/readiness"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{fmt.Errorf("%w: api", coordinator.ErrUnknownChannel), ErrNotFound},
		{coordinator.ErrNoProject, ErrNoProject},
		{fmt.Errorf("%w: api is running", process.ErrAlreadyActive), ErrAlreadyActive},
		{process.ErrShuttingDown, ErrShuttingDown},
		{fmt.Errorf("api: %w", &readiness.TimeoutError{}), ErrTimeout},
		{channel.ErrMissingExecutable, ErrInvalidArgs},
		{errors.New("boom"), ErrInternal},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
