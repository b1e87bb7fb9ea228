// Package output turns raw process output into sequenced, sanitized log
// lines, keeps bounded per-channel and global histories of them, and
// publishes newly produced lines in batches.
package output

import "time"

// Kind classifies a log line.
type Kind string

const (
	// KindData is a line read from a process's standard output.
	KindData Kind = "data"
	// KindError is a line read from standard error, or a synthetic error.
	KindError Kind = "error"
	// KindInfo is a synthetic status line emitted by the daemon.
	KindInfo Kind = "info"
)

// LogLine is one unit of output. Message is display-ready markup.
type LogLine struct {
	Seq       uint64    `json:"seq"`
	ChannelID string    `json:"channelId"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	Time      time.Time `json:"time"`
}

// Batch is a group of lines published together, in sequence order.
type Batch []LogLine
