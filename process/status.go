package process

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a channel's execution record.
type Status uint32

const (
	// Stopped means no process and no pending readiness wait.
	Stopped Status = iota
	// Waiting means the run is blocked on readiness conditions.
	Waiting
	// Running means the process has been spawned and not yet reaped.
	Running
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "stopped":
		return Stopped, nil
	case "waiting":
		return Waiting, nil
	case "running":
		return Running, nil
	}
	return Stopped, fmt.Errorf("unknown status %q", name)
}

// StatusEvent reports one status transition of a channel.
type StatusEvent struct {
	ChannelID string    `json:"id"`
	Status    Status    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	RunID     string    `json:"runId,omitempty"`
	Time      time.Time `json:"time"`
}

// RecordInfo is a read-only snapshot of an execution record.
type RecordInfo struct {
	ChannelID string    `json:"id"`
	Status    Status    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	RunID     string    `json:"runId,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	// ExitCode is the exit code of the last finished process, -1 if it was
	// killed by a signal or never ran.
	ExitCode int `json:"exitCode"`
}

// Uptime returns how long the current process has been running.
func (r RecordInfo) Uptime() time.Duration {
	if r.Status != Running || r.StartedAt.IsZero() {
		return 0
	}
	return time.Since(r.StartedAt)
}
