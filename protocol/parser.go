package protocol

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// CommandTerminator marks the end of a message.
	CommandTerminator = ";;"
	// DataMarker separates arguments from the payload length.
	DataMarker = "--"
	// MaxMessageSize bounds a single message including its payload.
	MaxMessageSize = 16 << 20
)

var (
	// ErrJSONInsteadOfCommand indicates raw JSON was sent instead of a command.
	ErrJSONInsteadOfCommand = errors.New("json_instead_of_command")
	// ErrMessageTooLarge is returned when no terminator is found within
	// MaxMessageSize bytes.
	ErrMessageTooLarge = errors.New("message too large")
)

// VerbRegistry knows which verbs and sub-verbs exist.
type VerbRegistry struct {
	mu       sync.RWMutex
	verbs    map[string]bool
	subVerbs map[string]bool
}

// NewVerbRegistry creates a registry holding the daemon's verbs.
func NewVerbRegistry() *VerbRegistry {
	vr := &VerbRegistry{
		verbs:    make(map[string]bool),
		subVerbs: make(map[string]bool),
	}
	vr.RegisterVerb(VerbExecute, VerbLog, VerbGroup, VerbProject, VerbPing, VerbInfo, VerbShutdown)
	vr.RegisterSubVerb(
		SubVerbRun, SubVerbKill, SubVerbRestart, SubVerbStatus, SubVerbWatch,
		SubVerbGet, SubVerbGetAll, SubVerbStream, SubVerbClear,
		SubVerbRunAll, SubVerbStopAll, SubVerbRestartAll,
		SubVerbReload, SubVerbOpen,
	)
	return vr
}

// RegisterVerb adds verbs to the registry.
func (vr *VerbRegistry) RegisterVerb(verbs ...string) {
	vr.mu.Lock()
	defer vr.mu.Unlock()
	for _, v := range verbs {
		vr.verbs[strings.ToUpper(v)] = true
	}
}

// RegisterSubVerb adds sub-verbs to the registry.
func (vr *VerbRegistry) RegisterSubVerb(subVerbs ...string) {
	vr.mu.Lock()
	defer vr.mu.Unlock()
	for _, sv := range subVerbs {
		vr.subVerbs[strings.ToUpper(sv)] = true
	}
}

// IsValidVerb checks if a verb is registered.
func (vr *VerbRegistry) IsValidVerb(verb string) bool {
	vr.mu.RLock()
	defer vr.mu.RUnlock()
	return vr.verbs[strings.ToUpper(verb)]
}

// IsSubVerb checks if s is a registered sub-verb.
func (vr *VerbRegistry) IsSubVerb(s string) bool {
	vr.mu.RLock()
	defer vr.mu.RUnlock()
	return vr.subVerbs[strings.ToUpper(s)]
}

// ValidVerbs returns the registered verbs, sorted.
func (vr *VerbRegistry) ValidVerbs() []string {
	vr.mu.RLock()
	result := make([]string, 0, len(vr.verbs))
	for v := range vr.verbs {
		result = append(result, v)
	}
	vr.mu.RUnlock()

	sort.Strings(result)
	return result
}

// DefaultRegistry is the registry used by NewParser.
var DefaultRegistry = NewVerbRegistry()

// UnknownCommandError reports a verb missing from the registry.
type UnknownCommandError struct {
	Verb       string
	ValidVerbs []string
}

func (e *UnknownCommandError) Error() string {
	return "unknown_command:" + e.Verb
}

// Parser reads commands and responses from a stream.
type Parser struct {
	reader   *bufio.Reader
	registry *VerbRegistry
}

// NewParser creates a parser with the default registry.
func NewParser(r io.Reader) *Parser {
	return NewParserWithRegistry(r, DefaultRegistry)
}

// NewParserWithRegistry creates a parser with a custom verb registry.
func NewParserWithRegistry(r io.Reader, registry *VerbRegistry) *Parser {
	return &Parser{
		reader:   bufio.NewReader(r),
		registry: registry,
	}
}

// splitPayload separates "HEAD -- LENGTH\nBASE64" into head and payload.
func splitPayload(content string) (head, payload string, err error) {
	marker := " " + DataMarker + " "
	if idx := strings.Index(content, marker); idx != -1 {
		return content[:idx], content[idx+len(marker):], nil
	}
	if strings.HasSuffix(content, " "+DataMarker) {
		return "", "", errors.New("data marker present but no data length")
	}
	return content, "", nil
}

// ParseCommand reads the next command. A malformed command is reported
// after it was consumed, so the caller can keep reading.
func (p *Parser) ParseCommand() (*Command, error) {
	content, err := p.readMessage()
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty command")
	}
	if strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[") {
		return nil, ErrJSONInsteadOfCommand
	}

	head, payload, err := splitPayload(content)
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(head)
	if len(parts) == 0 {
		return nil, errors.New("empty command")
	}

	verb := strings.ToUpper(parts[0])
	if !p.registry.IsValidVerb(verb) {
		return nil, &UnknownCommandError{Verb: verb, ValidVerbs: p.registry.ValidVerbs()}
	}

	cmd := &Command{Verb: verb}
	if len(parts) > 1 {
		if sub := strings.ToUpper(parts[1]); p.registry.IsSubVerb(sub) {
			cmd.SubVerb = sub
			cmd.Args = parts[2:]
		} else {
			cmd.Args = parts[1:]
		}
	}

	if payload != "" {
		data, err := decodePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse data: %w", err)
		}
		cmd.Data = data
	}
	return cmd, nil
}

// ParseResponse reads the next response.
func (p *Parser) ParseResponse() (*Response, error) {
	content, err := p.readMessage()
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty response")
	}

	head, payload, err := splitPayload(content)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(head, " ", 3)
	resp := &Response{Type: ResponseType(strings.ToUpper(parts[0]))}

	switch resp.Type {
	case ResponseOK:
		if len(parts) > 1 {
			resp.Message = strings.Join(parts[1:], " ")
		}
	case ResponseErr:
		if len(parts) >= 2 {
			resp.Code = parts[1]
		}
		if len(parts) >= 3 {
			resp.Message = parts[2]
		}
	case ResponsePong, ResponseEnd:
	case ResponseJSON, ResponseChunk:
		if payload == "" {
			return nil, fmt.Errorf("%s response requires data", resp.Type)
		}
		data, err := decodePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s data: %w", resp.Type, err)
		}
		resp.Data = data
	default:
		return nil, fmt.Errorf("unknown response type: %s", resp.Type)
	}
	return resp, nil
}

// decodePayload decodes "LENGTH\nBASE64".
func decodePayload(payload string) ([]byte, error) {
	lengthStr, encoded, ok := strings.Cut(payload, "\n")
	if !ok {
		return nil, errors.New("data length without data content (missing newline)")
	}

	length, err := strconv.Atoi(strings.TrimSpace(lengthStr))
	if err != nil {
		return nil, fmt.Errorf("invalid data length %q: %w", lengthStr, err)
	}
	if len(encoded) != length {
		return nil, fmt.Errorf("data length mismatch: expected %d, got %d", length, len(encoded))
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 data: %w", err)
	}
	return decoded, nil
}

// readMessage reads up to and excluding the next terminator. Base64 and
// the verbs never contain ';', so the first ";;" always ends the message.
func (p *Parser) readMessage() (string, error) {
	var buf bytes.Buffer
	for {
		chunk, err := p.reader.ReadSlice(';')
		buf.Write(chunk)

		if buf.Len() > MaxMessageSize {
			return "", ErrMessageTooLarge
		}

		switch {
		case err == nil:
			if next, perr := p.reader.Peek(1); perr == nil && next[0] == ';' {
				_, _ = p.reader.ReadByte()
				b := buf.Bytes()
				return string(b[:len(b)-1]), nil
			}
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			if buf.Len() > 0 {
				return "", fmt.Errorf("unexpected EOF, missing terminator %q", CommandTerminator)
			}
			return "", err
		default:
			return "", err
		}
	}
}

// Resync discards input up to the next terminator.
func (p *Parser) Resync() error {
	_, err := p.readMessage()
	return err
}

// FormatCommand encodes a command for transmission.
func FormatCommand(cmd *Command) []byte {
	var buf bytes.Buffer

	buf.WriteString(cmd.Verb)
	if cmd.SubVerb != "" {
		buf.WriteByte(' ')
		buf.WriteString(cmd.SubVerb)
	}
	for _, arg := range cmd.Args {
		buf.WriteByte(' ')
		buf.WriteString(arg)
	}

	if len(cmd.Data) > 0 {
		encoded := base64.StdEncoding.EncodeToString(cmd.Data)
		buf.WriteString(" " + DataMarker + " ")
		buf.WriteString(strconv.Itoa(len(encoded)))
		buf.WriteByte('\n')
		buf.WriteString(encoded)
	}

	buf.WriteString(CommandTerminator)
	return buf.Bytes()
}

// Writer writes protocol messages. It is safe for concurrent use, so a
// stream pusher and a command handler may share one connection.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a protocol writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) write(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(b)
	return err
}

// WriteOK writes an OK response.
func (w *Writer) WriteOK(message string) error { return w.write(FormatOK(message)) }

// WriteErr writes an ERR response.
func (w *Writer) WriteErr(code ErrorCode, message string) error {
	return w.write(FormatErr(code, message))
}

// WritePong writes a PONG response.
func (w *Writer) WritePong() error { return w.write(FormatPong()) }

// WriteJSON writes a JSON response.
func (w *Writer) WriteJSON(data []byte) error { return w.write(FormatJSON(data)) }

// WriteChunk writes one stream element.
func (w *Writer) WriteChunk(data []byte) error { return w.write(FormatChunk(data)) }

// WriteEnd ends a stream.
func (w *Writer) WriteEnd() error { return w.write(FormatEnd()) }

// WriteCommand writes a command.
func (w *Writer) WriteCommand(cmd *Command) error { return w.write(FormatCommand(cmd)) }
