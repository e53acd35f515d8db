package board

import (
	"fmt"
	"sort"
	"sync"

	"arduinoio/protocol"
)

// AddressSpace separates digital pin numbers from analog input channels
type AddressSpace uint8

const (
	Digital AddressSpace = iota
	Analog
)

func (a AddressSpace) String() string {
	if a == Analog {
		return "analog"
	}
	return "digital"
}

// PinID identifies a pin within an address space
type PinID struct {
	Space AddressSpace
	Index uint8
}

// DigitalPin returns the identity of digital pin n
func DigitalPin(n uint8) PinID {
	return PinID{Space: Digital, Index: n}
}

// AnalogPin returns the identity of analog input channel n (A0 is 0)
func AnalogPin(n uint8) PinID {
	return PinID{Space: Analog, Index: n}
}

func (p PinID) String() string {
	if p.Space == Analog {
		return fmt.Sprintf("pin A%d", p.Index)
	}
	return fmt.Sprintf("pin %d", p.Index)
}

// Mode is the tracked configuration of a pin
type Mode uint8

const (
	ModeUnset Mode = iota
	ModeInput
	ModeOutput
	ModeAnalog
	ModePWM
	ModeDisabled
)

func (m Mode) String() string {
	switch m {
	case ModeUnset:
		return "unset"
	case ModeInput:
		return "input"
	case ModeOutput:
		return "output"
	case ModeAnalog:
		return "analog"
	case ModePWM:
		return "pwm"
	case ModeDisabled:
		return "disabled"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Wire returns the Firmata pin mode for m
func (m Mode) Wire() protocol.PinMode {
	switch m {
	case ModeInput:
		return protocol.PinModeInput
	case ModeOutput:
		return protocol.PinModeOutput
	case ModeAnalog:
		return protocol.PinModeAnalog
	case ModePWM:
		return protocol.PinModePWM
	}
	return protocol.PinModeIgnore
}

// commanded reports whether lastValue is written by the host in this mode
func (m Mode) commanded() bool {
	return m == ModeOutput || m == ModePWM
}

// reported reports whether lastValue comes from device reports in this mode
func (m Mode) reported() bool {
	return m == ModeInput || m == ModeAnalog
}

// PinState is a point-in-time copy of a registry entry
type PinState struct {
	ID        PinID
	Mode      Mode
	Value     float64
	HasValue  bool
	Reporting bool
}

type pinEntry struct {
	mode      Mode
	value     float64
	hasValue  bool
	reporting bool
}

// Registry is the host's belief about the board's pin state.
// The receive loop writes report-derived values; the session writes modes,
// commanded values and reporting flags. One lock guards all of it.
type Registry struct {
	mu             sync.RWMutex
	pins           map[PinID]*pinEntry
	reportingPorts map[uint8]bool
	caps           []protocol.PinCapability
	mapping        []uint8
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		pins:           make(map[PinID]*pinEntry),
		reportingPorts: make(map[uint8]bool),
	}
}

func (r *Registry) entry(id PinID) *pinEntry {
	e, ok := r.pins[id]
	if !ok {
		e = &pinEntry{}
		r.pins[id] = e
	}
	return e
}

// SetMode records a mode change and returns the previous mode.
// A real change discards lastValue; setting the current mode again is a no-op.
func (r *Registry) SetMode(id PinID, mode Mode) Mode {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(id)
	prev := e.mode
	if prev == mode {
		return prev
	}
	e.mode = mode
	e.value = 0
	e.hasValue = false
	if !mode.reported() {
		e.reporting = false
	}
	return prev
}

// Mode returns the tracked mode of a pin
func (r *Registry) Mode(id PinID) Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.pins[id]; ok {
		return e.mode
	}
	return ModeUnset
}

// RecordReport stores a value received from the device. Only input and analog pins accept reports.
func (r *Registry) RecordReport(id PinID, value float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.pins[id]
	if !ok || !e.mode.reported() {
		return false
	}
	e.value = value
	e.hasValue = true
	return true
}

// ApplyDigitalPort records a digital port report for every input pin of the port
func (r *Registry) ApplyDigitalPort(port uint8, mask uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := 0
	for bit := uint8(0); bit < protocol.PinsPerPort; bit++ {
		e, ok := r.pins[DigitalPin(port*protocol.PinsPerPort+bit)]
		if !ok || e.mode != ModeInput {
			continue
		}
		e.value = 0
		if mask&(1<<bit) != 0 {
			e.value = 1
		}
		e.hasValue = true
		applied++
	}
	return applied
}

// RecordCommandedValue stores the value the host wrote. Only output and PWM pins accept it.
func (r *Registry) RecordCommandedValue(id PinID, value float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.pins[id]
	if !ok || !e.mode.commanded() {
		return false
	}
	e.value = value
	e.hasValue = true
	return true
}

// Read returns the last value of a pin, or false if there is none yet
func (r *Registry) Read(id PinID) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.pins[id]
	if !ok || !e.hasValue {
		return 0, false
	}
	return e.value, true
}

// SetReporting records whether change reporting is enabled for a pin
func (r *Registry) SetReporting(id PinID, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(id).reporting = enabled
}

// Reporting returns whether change reporting is enabled for a pin
func (r *Registry) Reporting(id PinID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.pins[id]
	return ok && e.reporting
}

// SetPortReporting records whether digital reporting is enabled for a port
func (r *Registry) SetPortReporting(port uint8, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reportingPorts[port] = enabled
}

// PortReporting returns whether digital reporting is enabled for a port
func (r *Registry) PortReporting(port uint8) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reportingPorts[port]
}

// SetCapabilities stores the capability table reported by the board
func (r *Registry) SetCapabilities(caps []protocol.PinCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps = caps
}

// Capabilities returns the capability table, nil if the board never reported one
func (r *Registry) Capabilities() []protocol.PinCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps
}

// SetAnalogMapping stores the pin to analog channel table reported by the board
func (r *Registry) SetAnalogMapping(channels []uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapping = channels
}

// PinForChannel resolves the digital pin behind an analog channel.
// Without a reported mapping the channel is assumed to start at fallbackOffset.
func (r *Registry) PinForChannel(channel uint8, fallbackOffset uint8) (uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.mapping == nil {
		pin := int(fallbackOffset) + int(channel)
		if channel >= protocol.MaxAnalogPins || pin >= protocol.MaxPins {
			return 0, false
		}
		return uint8(pin), true
	}
	return protocol.AnalogMappingReport{Channels: r.mapping}.PinForChannel(channel)
}

// ChannelForPin is the inverse of PinForChannel
func (r *Registry) ChannelForPin(pin uint8, fallbackOffset uint8) (uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.mapping == nil {
		if pin < fallbackOffset || pin-fallbackOffset >= protocol.MaxAnalogPins {
			return 0, false
		}
		return pin - fallbackOffset, true
	}
	if int(pin) >= len(r.mapping) || r.mapping[pin] == protocol.NoAnalogChannel {
		return 0, false
	}
	return r.mapping[pin], true
}

// CheckPin validates that a digital pin exists and supports mode.
// Before a capability report arrives only the protocol's pin range is enforced.
func (r *Registry) CheckPin(op string, pin int, mode Mode) error {
	if pin < 0 || pin >= protocol.MaxPins {
		return invalidPin(op, pin, "pin number out of range")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.caps == nil {
		return nil
	}
	if pin >= len(r.caps) {
		return invalidPin(op, pin, fmt.Sprintf("board has %d pins", len(r.caps)))
	}
	if !r.caps[pin].Supports(mode.Wire()) {
		return invalidPin(op, pin, fmt.Sprintf("pin does not support %s mode", mode))
	}
	return nil
}

// Snapshot returns a copy of every tracked pin, digital pins first
func (r *Registry) Snapshot() []PinState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]PinState, 0, len(r.pins))
	for id, e := range r.pins {
		states = append(states, PinState{
			ID:        id,
			Mode:      e.mode,
			Value:     e.value,
			HasValue:  e.hasValue,
			Reporting: e.reporting,
		})
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].ID.Space != states[j].ID.Space {
			return states[i].ID.Space < states[j].ID.Space
		}
		return states[i].ID.Index < states[j].ID.Index
	})
	return states
}
