// Package protocol defines the text protocol spoken on the daemon socket.
//
// Every message ends with ";;". A payload is appended as
// " -- LENGTH\nBASE64" where LENGTH is the length of the base64 text:
//
//	EXECUTE RUN api;;
//	EXECUTE RUN -- 24\neyJjaGFubmVsIjp7fX0=;;
//	LOG GET api;;
package protocol

import (
	"github.com/scomans/dev-console-sub000/channel"
	"github.com/scomans/dev-console-sub000/coordinator"
)

// Command is a parsed client request.
type Command struct {
	Verb    string   // EXECUTE, LOG, GROUP, ...
	SubVerb string   // RUN, KILL, GET, ...
	Args    []string // Positional arguments
	Data    []byte   // Decoded payload, usually JSON
}

// Arg returns the i-th argument or "".
func (c *Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Command verbs.
const (
	VerbExecute  = "EXECUTE"
	VerbLog      = "LOG"
	VerbGroup    = "GROUP"
	VerbProject  = "PROJECT"
	VerbPing     = "PING"
	VerbInfo     = "INFO"
	VerbShutdown = "SHUTDOWN"
)

// EXECUTE sub-verbs.
const (
	SubVerbRun     = "RUN"
	SubVerbKill    = "KILL"
	SubVerbRestart = "RESTART"
	SubVerbStatus  = "STATUS"
	SubVerbWatch   = "WATCH"
)

// LOG sub-verbs.
const (
	SubVerbGet    = "GET"
	SubVerbGetAll = "GET-ALL"
	SubVerbStream = "STREAM"
	SubVerbClear  = "CLEAR"
)

// GROUP sub-verbs. GROUP RESTART <id> reuses SubVerbRestart.
const (
	SubVerbRunAll     = "RUN-ALL"
	SubVerbStopAll    = "STOP-ALL"
	SubVerbRestartAll = "RESTART-ALL"
)

// PROJECT sub-verbs. PROJECT GET reuses SubVerbGet.
const (
	SubVerbReload = "RELOAD"
	SubVerbOpen   = "OPEN"
)

// RunRequest is the payload of EXECUTE RUN when the caller supplies the
// channel definition instead of an ID from the loaded project.
type RunRequest struct {
	Channel     channel.Channel `json:"channel"`
	ProjectFile string          `json:"project_file,omitempty"`
}

// RunResult answers EXECUTE RUN and EXECUTE RESTART.
type RunResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// GroupResult answers the GROUP verbs.
type GroupResult struct {
	Results []coordinator.Result `json:"results"`
	Error   string               `json:"error,omitempty"`
}

// OpenRequest is the payload of PROJECT OPEN.
type OpenRequest struct {
	Path string `json:"path"`
}

// ProjectInfo answers PROJECT GET.
type ProjectInfo struct {
	Path     string            `json:"path"`
	Version  int               `json:"version"`
	Channels []channel.Channel `json:"channels"`
}

// DaemonInfo answers INFO.
type DaemonInfo struct {
	Version      string   `json:"version"`
	PID          int      `json:"pid"`
	SocketPath   string   `json:"socket_path"`
	WebAddr      string   `json:"web_addr,omitempty"`
	Project      string   `json:"project,omitempty"`
	Uptime       string   `json:"uptime"`
	StartedAt    int64    `json:"started_at"`
	Clients      int64    `json:"clients"`
	TotalStarted int64    `json:"total_started"`
	TotalFailed  int64    `json:"total_failed"`
	DroppedLines uint64   `json:"dropped_lines"`
	Active       []string `json:"active"`
}
