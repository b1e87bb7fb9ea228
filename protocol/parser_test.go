package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/scomans/dev-console-sub000/channel"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVerb    string
		wantSubVerb string
		wantArgs    []string
		wantErr     bool
	}{
		{name: "ping", input: "PING;;", wantVerb: "PING"},
		{name: "lowercase", input: "ping;;", wantVerb: "PING"},
		{
			name:        "execute run by id",
			input:       "EXECUTE RUN api;;",
			wantVerb:    "EXECUTE",
			wantSubVerb: "RUN",
			wantArgs:    []string{"api"},
		},
		{
			name:        "log get-all",
			input:       "LOG GET-ALL;;",
			wantVerb:    "LOG",
			wantSubVerb: "GET-ALL",
		},
		{
			name:        "group restart with id",
			input:       "GROUP RESTART web;;",
			wantVerb:    "GROUP",
			wantSubVerb: "RESTART",
			wantArgs:    []string{"web"},
		},
		{
			name:     "args without sub-verb",
			input:    "INFO verbose;;",
			wantVerb: "INFO",
			wantArgs: []string{"verbose"},
		},
		{name: "unknown verb", input: "PROC LIST;;", wantErr: true},
		{name: "json instead of command", input: `{"verb": "PING"};;`, wantErr: true},
		{name: "empty", input: ";;", wantErr: true},
		{name: "marker without length", input: "EXECUTE RUN --;;", wantErr: true},
		{name: "missing terminator", input: "PING", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := NewParser(strings.NewReader(tt.input)).ParseCommand()

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseCommand() = %+v, want error", cmd)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() error = %v", err)
			}

			if cmd.Verb != tt.wantVerb {
				t.Errorf("Verb = %q, want %q", cmd.Verb, tt.wantVerb)
			}
			if cmd.SubVerb != tt.wantSubVerb {
				t.Errorf("SubVerb = %q, want %q", cmd.SubVerb, tt.wantSubVerb)
			}
			if strings.Join(cmd.Args, " ") != strings.Join(tt.wantArgs, " ") {
				t.Errorf("Args = %q, want %q", cmd.Args, tt.wantArgs)
			}
		})
	}
}

func TestUnknownCommandError(t *testing.T) {
	_, err := NewParser(strings.NewReader("FOOBAR;;")).ParseCommand()

	var unknown *UnknownCommandError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *UnknownCommandError", err)
	}
	if unknown.Verb != "FOOBAR" {
		t.Errorf("Verb = %q, want FOOBAR", unknown.Verb)
	}
	if len(unknown.ValidVerbs) == 0 || unknown.ValidVerbs[0] != VerbExecute {
		t.Errorf("ValidVerbs = %v, want sorted list starting with EXECUTE", unknown.ValidVerbs)
	}
}

// A bad command is consumed entirely so the next one parses.
func TestParseContinuesAfterError(t *testing.T) {
	p := NewParser(strings.NewReader("NOPE 1 2;;PING;;"))

	if _, err := p.ParseCommand(); err == nil {
		t.Fatal("first ParseCommand() should fail")
	}
	cmd, err := p.ParseCommand()
	if err != nil {
		t.Fatalf("second ParseCommand() error = %v", err)
	}
	if cmd.Verb != VerbPing {
		t.Errorf("Verb = %q, want PING", cmd.Verb)
	}
}

func TestParseSequence(t *testing.T) {
	p := NewParser(strings.NewReader("EXECUTE KILL a;;LOG CLEAR a;;"))

	for _, want := range []string{SubVerbKill, SubVerbClear} {
		cmd, err := p.ParseCommand()
		if err != nil {
			t.Fatal(err)
		}
		if cmd.SubVerb != want {
			t.Errorf("SubVerb = %q, want %q", cmd.SubVerb, want)
		}
	}
	if _, err := p.ParseCommand(); err != io.EOF {
		t.Errorf("ParseCommand() at end error = %v, want io.EOF", err)
	}
}

func TestRunRequestRoundTrip(t *testing.T) {
	req := RunRequest{
		Channel: channel.Channel{
			ID:         "api",
			Executable: "npm",
			Arguments:  []string{"run", "dev; echo"},
			WaitOn:     []string{"tcp:5432"},
		},
		ProjectFile: "/work/devconsole.json",
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	formatted := FormatCommand(&Command{Verb: VerbExecute, SubVerb: SubVerbRun, Data: data})
	parsed, err := NewParser(bytes.NewReader(formatted)).ParseCommand()
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if parsed.SubVerb != SubVerbRun || len(parsed.Args) != 0 {
		t.Errorf("parsed = %+v, want EXECUTE RUN without args", parsed)
	}

	var got RunRequest
	if err := json.Unmarshal(parsed.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Channel.Arguments[1] != "dev; echo" || got.ProjectFile != req.ProjectFile {
		t.Errorf("payload = %+v, want %+v", got, req)
	}
}

func TestParseDataErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing newline", "EXECUTE RUN -- 4;;"},
		{"bad length", "EXECUTE RUN -- x\nAAAA;;"},
		{"length mismatch", "EXECUTE RUN -- 8\nAAAA;;"},
		{"bad base64", "EXECUTE RUN -- 4\n!!!!;;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewParser(strings.NewReader(tt.input)).ParseCommand(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType ResponseType
		wantMsg  string
		wantCode string
		wantData string
		wantErr  bool
	}{
		{name: "ok", input: "OK;;", wantType: ResponseOK},
		{name: "ok with message", input: "OK killed api;;", wantType: ResponseOK, wantMsg: "killed api"},
		{name: "pong", input: "PONG;;", wantType: ResponsePong},
		{
			name:     "error",
			input:    "ERR not_found unknown channel: x;;",
			wantType: ResponseErr,
			wantCode: "not_found",
			wantMsg:  "unknown channel: x",
		},
		{name: "end", input: "END;;", wantType: ResponseEnd},
		{name: "json", input: string(FormatJSON([]byte(`{"a":1}`))), wantType: ResponseJSON, wantData: `{"a":1}`},
		{name: "chunk", input: string(FormatChunk([]byte("line"))), wantType: ResponseChunk, wantData: "line"},
		{name: "json without data", input: "JSON;;", wantErr: true},
		{name: "unknown type", input: "MAYBE;;", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewParser(strings.NewReader(tt.input)).ParseResponse()

			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResponse() error = %v", err)
			}

			if resp.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", resp.Type, tt.wantType)
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", resp.Message, tt.wantMsg)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", resp.Code, tt.wantCode)
			}
			if string(resp.Data) != tt.wantData {
				t.Errorf("Data = %q, want %q", resp.Data, tt.wantData)
			}
		})
	}
}

func TestWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)

	tests := []struct {
		name  string
		write func() error
		want  string
	}{
		{"ok", func() error { return w.WriteOK("done") }, "OK done;;"},
		{"pong", w.WritePong, "PONG;;"},
		{"err", func() error { return w.WriteErr(ErrNotFound, "no such channel") }, "ERR not_found no such channel;;"},
		{"end", w.WriteEnd, "END;;"},
		{"command", func() error { return w.WriteCommand(&Command{Verb: VerbLog, SubVerb: SubVerbGet, Args: []string{"a"}}) }, "LOG GET a;;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			if err := tt.write(); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

// Concurrent chunk writes never interleave inside a message.
func TestWriterConcurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.WriteChunk(bytes.Repeat([]byte("x"), 1000))
		}()
	}
	wg.Wait()

	p := NewParser(&buf)
	for i := 0; i < 20; i++ {
		resp, err := p.ParseResponse()
		if err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
		if resp.Type != ResponseChunk || len(resp.Data) != 1000 {
			t.Fatalf("response %d = %s with %d bytes", i, resp.Type, len(resp.Data))
		}
	}
}

func TestVerbRegistry(t *testing.T) {
	reg := NewVerbRegistry()

	for _, v := range []string{"EXECUTE", "log", "Group", "PROJECT", "PING", "INFO", "SHUTDOWN"} {
		if !reg.IsValidVerb(v) {
			t.Errorf("IsValidVerb(%q) = false, want true", v)
		}
	}
	if reg.IsValidVerb("PROC") {
		t.Error("IsValidVerb(PROC) = true, want false")
	}

	reg.RegisterVerb("CUSTOM")
	if !reg.IsValidVerb("CUSTOM") {
		t.Error("expected CUSTOM to be valid after registration")
	}

	if !reg.IsSubVerb("restart-all") {
		t.Error("expected restart-all to be a sub-verb")
	}
	reg.RegisterSubVerb("MYCUSTOM")
	if !reg.IsSubVerb("MYCUSTOM") {
		t.Error("expected MYCUSTOM to be valid after registration")
	}
}

func TestCommandArg(t *testing.T) {
	cmd := &Command{Args: []string{"a"}}
	if cmd.Arg(0) != "a" || cmd.Arg(1) != "" {
		t.Errorf("Arg(0), Arg(1) = %q, %q, want a and empty", cmd.Arg(0), cmd.Arg(1))
	}
}
