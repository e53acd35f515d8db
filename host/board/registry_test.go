package board

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arduinoio/protocol"
)

func TestRegistryModeChangeResetsValue(t *testing.T) {
	r := NewRegistry()
	pin := DigitalPin(3)

	assert.Equal(t, ModeUnset, r.SetMode(pin, ModeOutput))
	require.True(t, r.RecordCommandedValue(pin, 1))

	// Same mode again keeps the value
	assert.Equal(t, ModeOutput, r.SetMode(pin, ModeOutput))
	v, ok := r.Read(pin)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	assert.Equal(t, ModeOutput, r.SetMode(pin, ModePWM))
	_, ok = r.Read(pin)
	assert.False(t, ok)
}

func TestRegistryWriterSeparation(t *testing.T) {
	r := NewRegistry()
	out := DigitalPin(8)
	in := DigitalPin(9)
	r.SetMode(out, ModeOutput)
	r.SetMode(in, ModeInput)

	assert.False(t, r.RecordReport(out, 1), "reports must not overwrite commanded values")
	assert.False(t, r.RecordCommandedValue(in, 1), "commands must not overwrite reported values")
	assert.False(t, r.RecordReport(DigitalPin(10), 1), "unknown pins take no reports")

	assert.True(t, r.RecordReport(in, 1))
	v, ok := r.Read(in)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = r.Read(out)
	assert.False(t, ok)
}

func TestRegistryApplyDigitalPort(t *testing.T) {
	r := NewRegistry()
	r.SetMode(DigitalPin(8), ModeInput)
	r.SetMode(DigitalPin(10), ModeInput)
	r.SetMode(DigitalPin(11), ModeOutput)
	r.RecordCommandedValue(DigitalPin(11), 0)

	// Port 1 covers pins 8..15; pins 8 and 11 high
	applied := r.ApplyDigitalPort(1, 0b1001)
	assert.Equal(t, 2, applied)

	v, ok := r.Read(DigitalPin(8))
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = r.Read(DigitalPin(10))
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)

	v, _ = r.Read(DigitalPin(11))
	assert.Equal(t, 0.0, v, "output pin changed by a report")
}

func TestRegistryReporting(t *testing.T) {
	r := NewRegistry()
	a0 := AnalogPin(0)

	r.SetMode(a0, ModeAnalog)
	r.SetReporting(a0, true)
	assert.True(t, r.Reporting(a0))

	r.SetMode(a0, ModeUnset)
	assert.False(t, r.Reporting(a0))

	assert.False(t, r.PortReporting(2))
	r.SetPortReporting(2, true)
	assert.True(t, r.PortReporting(2))
}

func TestRegistryAnalogChannels(t *testing.T) {
	r := NewRegistry()

	pin, ok := r.PinForChannel(2, 14)
	assert.True(t, ok)
	assert.Equal(t, uint8(16), pin)

	ch, ok := r.ChannelForPin(16, 14)
	assert.True(t, ok)
	assert.Equal(t, uint8(2), ch)

	_, ok = r.ChannelForPin(13, 14)
	assert.False(t, ok)

	r.SetAnalogMapping([]uint8{0x7F, 0x7F, 1, 0})
	pin, ok = r.PinForChannel(0, 14)
	assert.True(t, ok)
	assert.Equal(t, uint8(3), pin)

	ch, ok = r.ChannelForPin(2, 14)
	assert.True(t, ok)
	assert.Equal(t, uint8(1), ch)

	_, ok = r.PinForChannel(5, 14)
	assert.False(t, ok)
	_, ok = r.ChannelForPin(0, 14)
	assert.False(t, ok)
}

func TestRegistryCheckPin(t *testing.T) {
	r := NewRegistry()

	assert.NoError(t, r.CheckPin("test", 100, ModePWM))
	assert.ErrorIs(t, r.CheckPin("test", -1, ModeOutput), ErrValidation)
	assert.ErrorIs(t, r.CheckPin("test", 128, ModeOutput), ErrValidation)

	r.SetCapabilities([]protocol.PinCapability{
		{Modes: map[protocol.PinMode]uint8{protocol.PinModeOutput: 1}},
		{Modes: map[protocol.PinMode]uint8{protocol.PinModeOutput: 1, protocol.PinModePWM: 8}},
	})
	assert.NoError(t, r.CheckPin("test", 1, ModePWM))
	assert.ErrorIs(t, r.CheckPin("test", 0, ModePWM), ErrValidation)
	assert.ErrorIs(t, r.CheckPin("test", 2, ModeOutput), ErrValidation)
}

func TestRegistrySnapshotOrder(t *testing.T) {
	r := NewRegistry()
	r.SetMode(AnalogPin(1), ModeAnalog)
	r.SetMode(DigitalPin(9), ModeOutput)
	r.SetMode(DigitalPin(2), ModeInput)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, DigitalPin(2), snap[0].ID)
	assert.Equal(t, DigitalPin(9), snap[1].ID)
	assert.Equal(t, AnalogPin(1), snap[2].ID)
	assert.Equal(t, ModeAnalog, snap[2].Mode)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	in := DigitalPin(4)
	out := DigitalPin(5)
	r.SetMode(in, ModeInput)
	r.SetMode(out, ModeOutput)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.ApplyDigitalPort(0, uint16(i&0x10))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.RecordCommandedValue(out, float64(i%2))
			r.Snapshot()
		}
	}()
	wg.Wait()

	v, ok := r.Read(out)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestPinIDString(t *testing.T) {
	assert.Equal(t, "pin 13", DigitalPin(13).String())
	assert.Equal(t, "pin A2", AnalogPin(2).String())
	assert.Equal(t, protocol.PinModeIgnore, ModeDisabled.Wire())
}
