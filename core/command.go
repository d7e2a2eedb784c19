package core

import (
	"errors"
	"sync"
)

// ErrUnknownCommand is returned by Dispatch for an ID nobody registered
var ErrUnknownCommand = errors.New("unknown command ID")

// ErrNotACommand is returned by Dispatch for a response-only message ID
var ErrNotACommand = errors.New("message is a response, not a command")

// CommandHandler handles one command. It decodes its own arguments from the
// data pointer and leaves the slice positioned after them.
type CommandHandler func(data *[]byte) error

// Command is one entry of the message table. Responses (MCU to host) are
// entries without a handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // Argument format for the dictionary (e.g., "high=%u low=%u")
	Handler CommandHandler
}

// IsResponse reports whether the entry is a response message
func (c *Command) IsResponse() bool {
	return c.Handler == nil
}

// CommandRegistry assigns message IDs in registration order
type CommandRegistry struct {
	mu       sync.RWMutex
	commands []*Command
	nameToID map[string]uint16
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		nameToID: make(map[string]uint16),
	}
}

// RegisterCommand registers a command handler in the global registry
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse registers a response message (MCU -> Host)
func RegisterResponse(name string, format string) uint16 {
	return globalRegistry.Register(name, format, nil)
}

// Register adds a message to the registry. Registering a name twice returns the
// existing ID.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := uint16(len(r.commands))
	r.commands = append(r.commands, &Command{
		ID:      id,
		Name:    name,
		Format:  format,
		Handler: handler,
	})
	r.nameToID[name] = id
	return id
}

// GetCommand retrieves a message by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.commands) {
		return nil, false
	}
	return r.commands[id], true
}

// GetCommandByName retrieves a message by name
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered messages
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok {
		return ErrUnknownCommand
	}
	if cmd.IsResponse() {
		return ErrNotACommand
	}
	return cmd.Handler(data)
}

// GetCommandsAndResponses returns "name format" -> ID maps for the dictionary
func (r *CommandRegistry) GetCommandsAndResponses() (map[string]int, map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make(map[string]int)
	responses := make(map[string]int)
	for _, cmd := range r.commands {
		formatStr := cmd.Name
		if cmd.Format != "" {
			formatStr = cmd.Name + " " + cmd.Format
		}
		if cmd.IsResponse() {
			responses[formatStr] = int(cmd.ID)
		} else {
			commands[formatStr] = int(cmd.ID)
		}
	}
	return commands, responses
}

// DispatchCommand is a convenience function using the global registry
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the global command registry
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}
