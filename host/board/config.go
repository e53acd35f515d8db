package board

import (
	"time"

	"github.com/rs/zerolog"

	"arduinoio/host/serial"
)

// Config holds everything a session needs at connect time.
// The delays model device settle times; they are tunables rather than
// guarantees and are a known source of flakiness on slow boards.
type Config struct {
	// Serial port settings
	Port serial.Config

	// Pins driven to SafeValue on connect and on close
	OutputPins []int

	// Safe state for output pins, 0 or 1. Anything else is coerced to 1.
	SafeValue int

	// Pause after opening the port before the handshake
	InitDelay time.Duration

	// How long to wait for the version report
	HandshakeTimeout time.Duration

	// How long to wait for capability, pin state and I2C replies
	QueryTimeout time.Duration

	// Ask the board for its capability table and analog mapping
	QueryCapabilities bool

	// First digital pin of analog channel 0 when the board reports no mapping (14 on an Uno)
	AnalogPinOffset uint8

	// Pause after every real mode change
	SettleDelay time.Duration

	// Extra pause after switching a pin to input before reading it
	DigitalReadDelay time.Duration

	// Bounded poll for the first analog report
	AnalogRetries    int
	AnalogRetryDelay time.Duration

	// Receive loop back-off when no bytes are available
	PollInterval time.Duration

	// Analog reporting period; zero keeps the firmware default
	SamplingInterval time.Duration

	// Delay between an I2C write and the following read, in microseconds
	I2CReadDelay uint16

	// Optional structured logger; nil disables logging
	Logger *zerolog.Logger

	// Optional frame tracer
	Tracer Tracer
}

// DefaultConfig returns settings suited to an Uno running StandardFirmata at 57600 baud
func DefaultConfig(device string) Config {
	return Config{
		Port:              *serial.DefaultConfig(device),
		SafeValue:         1,
		InitDelay:         50 * time.Millisecond,
		HandshakeTimeout:  5 * time.Second,
		QueryTimeout:      time.Second,
		QueryCapabilities: true,
		AnalogPinOffset:   14,
		SettleDelay:       10 * time.Millisecond,
		DigitalReadDelay:  20 * time.Millisecond,
		AnalogRetries:     5,
		AnalogRetryDelay:  50 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	}
}

func (c Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}
