package protocol

import (
	"encoding/base64"
	"fmt"
)

// ResponseType indicates the type of response.
type ResponseType string

const (
	ResponseOK    ResponseType = "OK"
	ResponseErr   ResponseType = "ERR"
	ResponseJSON  ResponseType = "JSON"
	ResponseChunk ResponseType = "CHUNK"
	ResponseEnd   ResponseType = "END"
	ResponsePong  ResponseType = "PONG"
)

// Response is a parsed daemon response.
type Response struct {
	Type    ResponseType
	Message string // OK and ERR text
	Code    string // ERR code
	Data    []byte // JSON and CHUNK payload
}

// ErrorCode classifies ERR responses.
type ErrorCode string

const (
	ErrNotFound       ErrorCode = "not_found"
	ErrAlreadyActive  ErrorCode = "already_active"
	ErrNoProject      ErrorCode = "no_project"
	ErrShuttingDown   ErrorCode = "shutting_down"
	ErrInvalidArgs    ErrorCode = "invalid_args"
	ErrInvalidAction  ErrorCode = "invalid_action"
	ErrInvalidCommand ErrorCode = "invalid_command"
	ErrMissingParam   ErrorCode = "missing_param"
	ErrTimeout        ErrorCode = "timeout"
	ErrInternal       ErrorCode = "internal"
)

// FormatOK formats "OK [message];;".
func FormatOK(message string) []byte {
	if message == "" {
		return []byte("OK" + CommandTerminator)
	}
	return []byte(fmt.Sprintf("OK %s%s", message, CommandTerminator))
}

// FormatErr formats "ERR code message;;".
func FormatErr(code ErrorCode, message string) []byte {
	return []byte(fmt.Sprintf("ERR %s %s%s", code, message, CommandTerminator))
}

// FormatPong formats "PONG;;".
func FormatPong() []byte {
	return []byte("PONG" + CommandTerminator)
}

// FormatJSON formats "JSON -- LENGTH\nBASE64;;".
func FormatJSON(data []byte) []byte {
	return formatPayload(ResponseJSON, data)
}

// FormatChunk formats one element of a stream, "CHUNK -- LENGTH\nBASE64;;".
func FormatChunk(data []byte) []byte {
	return formatPayload(ResponseChunk, data)
}

// FormatEnd formats the end of a stream, "END;;".
func FormatEnd() []byte {
	return []byte("END" + CommandTerminator)
}

func formatPayload(t ResponseType, data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	return []byte(fmt.Sprintf("%s %s %d\n%s%s", t, DataMarker, len(encoded), encoded, CommandTerminator))
}
