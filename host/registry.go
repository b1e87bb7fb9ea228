package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/scomans/dev-console-sub000/protocol"
)

// CommandHandler processes a command and writes the response.
type CommandHandler func(ctx context.Context, conn *Connection, cmd *protocol.Command) error

// CommandDefinition defines a command that can be registered with the host.
type CommandDefinition struct {
	// Verb is the primary command verb (e.g., "EXECUTE", "LOG").
	Verb string
	// SubHandlers maps sub-verbs to their handlers.
	SubHandlers map[string]CommandHandler
	// Handler serves the verb without a known sub-verb. Optional when
	// SubHandlers is set.
	Handler CommandHandler
	// Description is optional documentation for the command.
	Description string
}

// verbHandler holds handlers for a verb and its sub-verbs.
type verbHandler struct {
	handler     CommandHandler
	subHandlers sync.Map // subVerb -> CommandHandler

	mu        sync.RWMutex
	validSubs []string
}

func (vh *verbHandler) subs() []string {
	vh.mu.RLock()
	defer vh.mu.RUnlock()
	return append([]string(nil), vh.validSubs...)
}

// CommandRegistry manages command handlers with lock-free lookups.
type CommandRegistry struct {
	handlers sync.Map // verb -> *verbHandler
}

// NewCommandRegistry creates a new command registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{}
}

// Register adds a command to the registry and makes its verb and
// sub-verbs known to the protocol parser.
func (r *CommandRegistry) Register(def CommandDefinition) error {
	if def.Verb == "" {
		return errors.New("command verb cannot be empty")
	}
	if def.Handler == nil && len(def.SubHandlers) == 0 {
		return errors.New("command needs a handler or sub-verb handlers")
	}

	verb := strings.ToUpper(def.Verb)
	vh := &verbHandler{handler: def.Handler}

	for sv, handler := range def.SubHandlers {
		if handler == nil {
			return fmt.Errorf("handler for %s %s cannot be nil", verb, sv)
		}
		sv = strings.ToUpper(sv)
		vh.subHandlers.Store(sv, handler)
		vh.validSubs = append(vh.validSubs, sv)
		protocol.DefaultRegistry.RegisterSubVerb(sv)
	}
	sort.Strings(vh.validSubs)

	r.handlers.Store(verb, vh)
	protocol.DefaultRegistry.RegisterVerb(verb)

	return nil
}

// MustRegister is Register for built-in commands.
func (r *CommandRegistry) MustRegister(def CommandDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// RegisterSubHandler adds a sub-verb handler to an existing verb.
func (r *CommandRegistry) RegisterSubHandler(verb, subVerb string, handler CommandHandler) error {
	verb = strings.ToUpper(verb)
	subVerb = strings.ToUpper(subVerb)

	val, ok := r.handlers.Load(verb)
	if !ok {
		return fmt.Errorf("verb %s not registered", verb)
	}

	vh := val.(*verbHandler)
	if _, loaded := vh.subHandlers.Swap(subVerb, handler); !loaded {
		vh.mu.Lock()
		vh.validSubs = append(vh.validSubs, subVerb)
		sort.Strings(vh.validSubs)
		vh.mu.Unlock()
	}

	protocol.DefaultRegistry.RegisterSubVerb(subVerb)
	return nil
}

// Dispatch routes a command to the appropriate handler.
func (r *CommandRegistry) Dispatch(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	verb := strings.ToUpper(cmd.Verb)

	val, ok := r.handlers.Load(verb)
	if !ok {
		return conn.WriteErr(protocol.ErrInvalidCommand,
			fmt.Sprintf("unknown command %s (valid: %s)", cmd.Verb, strings.Join(r.validVerbs(), ", ")))
	}
	vh := val.(*verbHandler)

	if cmd.SubVerb != "" {
		if subHandler, ok := vh.subHandlers.Load(strings.ToUpper(cmd.SubVerb)); ok {
			return subHandler.(CommandHandler)(ctx, conn, cmd)
		}
	}
	if vh.handler != nil {
		return vh.handler(ctx, conn, cmd)
	}

	valid := strings.Join(vh.subs(), ", ")
	action := cmd.SubVerb
	if action == "" && len(cmd.Args) > 0 {
		action = strings.ToUpper(cmd.Args[0])
	}
	if action == "" {
		return conn.WriteErr(protocol.ErrMissingParam,
			fmt.Sprintf("%s requires an action (valid: %s)", verb, valid))
	}
	return conn.WriteErr(protocol.ErrInvalidAction,
		fmt.Sprintf("unknown %s action %s (valid: %s)", verb, action, valid))
}

// HasVerb checks if a verb is registered.
func (r *CommandRegistry) HasVerb(verb string) bool {
	_, ok := r.handlers.Load(strings.ToUpper(verb))
	return ok
}

// validVerbs returns the registered verbs, sorted.
func (r *CommandRegistry) validVerbs() []string {
	var verbs []string
	r.handlers.Range(func(key, _ any) bool {
		verbs = append(verbs, key.(string))
		return true
	})
	sort.Strings(verbs)
	return verbs
}

// ValidSubVerbs returns the sorted sub-verbs of a verb.
func (r *CommandRegistry) ValidSubVerbs(verb string) []string {
	val, ok := r.handlers.Load(strings.ToUpper(verb))
	if !ok {
		return nil
	}
	return val.(*verbHandler).subs()
}
