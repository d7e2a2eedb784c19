package core

import (
	"errors"
	"testing"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	if err := registry.Dispatch(999, &data); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
}

func TestCommandRegistryMultiple(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("response1", "val=%u", nil)
	id3 := registry.Register("command3", "", func(data *[]byte) error { return nil })

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}
	if registry.Count() != 3 {
		t.Errorf("Expected 3 messages, got %d", registry.Count())
	}

	commands, responses := registry.GetCommandsAndResponses()
	if commands["command1 arg1=%u"] != 0 || commands["command3"] != 2 {
		t.Errorf("Unexpected command table: %v", commands)
	}
	if len(responses) != 1 || responses["response1 val=%u"] != 1 {
		t.Errorf("Unexpected response table: %v", responses)
	}
}

func TestCommandRegistryDuplicateName(t *testing.T) {
	registry := NewCommandRegistry()

	first := registry.Register("get_count", "", func(data *[]byte) error { return nil })
	registry.Register("other", "", nil)
	again := registry.Register("get_count", "", func(data *[]byte) error { return nil })

	if first != again {
		t.Errorf("Re-registering returned ID %d, want %d", again, first)
	}
	if registry.Count() != 2 {
		t.Errorf("Expected 2 messages, got %d", registry.Count())
	}
}

func TestDispatchResponseIsRejected(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.Register("count", "high=%u low=%u", nil)

	var data []byte
	if err := registry.Dispatch(id, &data); !errors.Is(err, ErrNotACommand) {
		t.Errorf("Expected ErrNotACommand, got %v", err)
	}
}

func TestDispatchPassesHandlerError(t *testing.T) {
	registry := NewCommandRegistry()
	boom := errors.New("boom")
	id := registry.Register("fail", "", func(data *[]byte) error { return boom })

	var data []byte
	if err := registry.Dispatch(id, &data); err != boom {
		t.Errorf("Expected handler error, got %v", err)
	}
}

func TestGetCommandByName(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register("a", "", nil)
	registry.Register("b", "x=%c", nil)

	cmd, ok := registry.GetCommandByName("b")
	if !ok || cmd.ID != 1 || cmd.Format != "x=%c" || !cmd.IsResponse() {
		t.Errorf("Unexpected lookup result: %+v %v", cmd, ok)
	}
	if _, ok := registry.GetCommandByName("missing"); ok {
		t.Error("Lookup of an unregistered name succeeded")
	}
}
