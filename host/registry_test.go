package host

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/scomans/dev-console-sub000/protocol"
)

func noop(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	return nil
}

func TestCommandRegistryRegister(t *testing.T) {
	reg := NewCommandRegistry()

	err := reg.Register(CommandDefinition{
		Verb:        "TEST",
		SubHandlers: map[string]CommandHandler{"action1": noop, "ACTION2": noop},
		Description: "Test command",
	})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if !reg.HasVerb("TEST") {
		t.Error("expected TEST to be registered")
	}
	if !reg.HasVerb("test") {
		t.Error("expected lowercase test to be registered (case-insensitive)")
	}
	if !protocol.DefaultRegistry.IsValidVerb("TEST") || !protocol.DefaultRegistry.IsSubVerb("ACTION1") {
		t.Error("verb and sub-verbs should be known to the parser")
	}
}

func TestCommandRegistryRegisterInvalid(t *testing.T) {
	tests := []struct {
		name string
		def  CommandDefinition
	}{
		{"empty verb", CommandDefinition{Handler: noop}},
		{"no handlers", CommandDefinition{Verb: "TEST"}},
		{"nil sub-handler", CommandDefinition{Verb: "TEST", SubHandlers: map[string]CommandHandler{"X": nil}}},
	}
	for _, tt := range tests {
		if err := NewCommandRegistry().Register(tt.def); err == nil {
			t.Errorf("Register(%s) error = nil, want error", tt.name)
		}
	}
}

func TestCommandRegistryValidSubVerbs(t *testing.T) {
	reg := NewCommandRegistry()
	reg.MustRegister(CommandDefinition{
		Verb:        "LOG",
		SubHandlers: map[string]CommandHandler{"STREAM": noop, "GET": noop, "CLEAR": noop},
	})

	if got := strings.Join(reg.ValidSubVerbs("LOG"), ","); got != "CLEAR,GET,STREAM" {
		t.Errorf("ValidSubVerbs = %q, want CLEAR,GET,STREAM", got)
	}
	if reg.ValidSubVerbs("UNKNOWN") != nil {
		t.Error("expected nil for unknown verb")
	}
}

func TestCommandRegistryRegisterSubHandler(t *testing.T) {
	reg := NewCommandRegistry()
	reg.MustRegister(CommandDefinition{Verb: "TEST", Handler: noop})

	if err := reg.RegisterSubHandler("TEST", "SPECIAL", noop); err != nil {
		t.Fatalf("RegisterSubHandler error: %v", err)
	}
	// Registering twice does not duplicate the listing.
	if err := reg.RegisterSubHandler("test", "special", noop); err != nil {
		t.Fatal(err)
	}
	if subs := reg.ValidSubVerbs("TEST"); len(subs) != 1 || subs[0] != "SPECIAL" {
		t.Errorf("ValidSubVerbs = %v, want [SPECIAL]", subs)
	}

	if err := reg.RegisterSubHandler("NONEXISTENT", "SUB", noop); err == nil {
		t.Error("expected error for non-existent verb")
	}
}

// dispatch runs cmd through reg on one end of a pipe and returns the
// response read from the other end.
func dispatch(t *testing.T, reg *CommandRegistry, cmd *protocol.Command) *protocol.Response {
	t.Helper()

	server, client := net.Pipe()
	defer client.Close()
	conn := newConnection(1, server, &Host{})
	defer conn.Close()

	go func() { _ = reg.Dispatch(context.Background(), conn, cmd) }()

	resp, err := protocol.NewParser(client).ParseResponse()
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	return resp
}

func TestCommandRegistryDispatch(t *testing.T) {
	reg := NewCommandRegistry()
	reg.MustRegister(CommandDefinition{
		Verb: "GROUP",
		SubHandlers: map[string]CommandHandler{
			"RUN-ALL": func(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
				return conn.WriteOK("ran")
			},
		},
	})
	reg.MustRegister(CommandDefinition{
		Verb: "PROJECT",
		Handler: func(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
			return conn.WriteOK("default " + cmd.Arg(0))
		},
	})

	tests := []struct {
		name     string
		cmd      *protocol.Command
		wantType protocol.ResponseType
		wantCode protocol.ErrorCode
		wantMsg  string
	}{
		{"sub-handler", &protocol.Command{Verb: "GROUP", SubVerb: "RUN-ALL"}, protocol.ResponseOK, "", "ran"},
		{"default handler", &protocol.Command{Verb: "PROJECT", Args: []string{"x"}}, protocol.ResponseOK, "", "default x"},
		{"missing action", &protocol.Command{Verb: "GROUP"}, protocol.ResponseErr, protocol.ErrMissingParam, "GROUP requires an action"},
		{"unknown action", &protocol.Command{Verb: "GROUP", Args: []string{"jump"}}, protocol.ResponseErr, protocol.ErrInvalidAction, "unknown GROUP action JUMP"},
		{"unknown verb", &protocol.Command{Verb: "LOG"}, protocol.ResponseErr, protocol.ErrInvalidCommand, "unknown command LOG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := dispatch(t, reg, tt.cmd)
			if resp.Type != tt.wantType || resp.Code != string(tt.wantCode) {
				t.Errorf("response = %s %s, want %s %s", resp.Type, resp.Code, tt.wantType, tt.wantCode)
			}
			if !strings.HasPrefix(resp.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want prefix %q", resp.Message, tt.wantMsg)
			}
		})
	}
}
