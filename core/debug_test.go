package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"t2count/core"
	"t2count/irq"
)

// An interrupt that comes due while an event is being written is taken only
// after the slot and head are updated.
func TestRecordEventRunsMasked(t *testing.T) {
	irq.Default.Reset()
	t.Cleanup(irq.Default.Reset)
	core.ClearEvents()

	in := &pin{}
	var enabledInHandler []bool
	irq.Default.Attach(in, func() {
		enabledInHandler = append(enabledInHandler, irq.Default.Enabled())
		core.RecordEvent(core.EvtPulse, 3, 4)
	})
	in.pending = true

	core.RecordEvent(core.EvtPulse, 1, 2)

	events := core.Events()
	require.Equal(t, []core.CounterEvent{
		{EventType: core.EvtPulse, Value1: 1, Value2: 2},
		{EventType: core.EvtPulse, Value1: 3, Value2: 4},
	}, events)
	require.Equal(t, []bool{false}, enabledInHandler)
	require.Equal(t, 1, irq.Default.MaxDepth())
	require.True(t, irq.Default.Enabled())
}

func TestRecordEventKeepsCallerMask(t *testing.T) {
	irq.Default.Reset()
	t.Cleanup(irq.Default.Reset)
	core.ClearEvents()

	state := irq.Disable()
	core.RecordEvent(core.EvtReset, 0, 0)
	require.False(t, irq.Default.Enabled())
	irq.Restore(state)

	require.Len(t, core.Events(), 1)
}

func TestDebugDumpCommand(t *testing.T) {
	f := newFirmware(t)
	core.ClearEvents()
	f.call(t, "counter_setup")

	var lines []string
	core.SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer core.SetDebugWriter(func(string) {})

	require.Empty(t, f.call(t, "debug_dump"))
	require.Equal(t, []string{
		"[COUNTER] === Event Ring Dump ===",
		"[COUNTER] SETUP v1=1 v2=4",
		"[COUNTER] === End Dump ===",
	}, lines)
}

func TestProtocolDebugWriter(t *testing.T) {
	f := newFirmware(t)
	core.SetDebugWriter(core.ProtocolDebugWriter)
	defer core.SetDebugWriter(func(string) {})
	core.ClearEvents()
	f.call(t, "counter_setup")

	msgs := f.call(t, "debug_dump")
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		require.Equal(t, f.id(t, "debug_output"), m[0])
	}
}
