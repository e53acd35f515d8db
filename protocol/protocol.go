// Package protocol implements the Firmata wire protocol spoken by StandardFirmata
package protocol

import "fmt"

// Version is the Firmata protocol version this codec targets
const Version = "2.5"

// Command bytes (high bit set)
const (
	DigitalMessage     = 0x90 // digital I/O port message, low nibble is the port
	AnalogMessage      = 0xE0 // analog/PWM message, low nibble is the pin/channel
	ReportAnalog       = 0xC0 // enable analog reporting, low nibble is the channel
	ReportDigital      = 0xD0 // enable digital reporting, low nibble is the port
	SetPinMode         = 0xF4
	SetDigitalPinValue = 0xF5
	ReportVersion      = 0xF9
	SystemReset        = 0xFF
	StartSysex         = 0xF0
	EndSysex           = 0xF7
)

// Sysex command bytes (follow StartSysex)
const (
	SysexExtendedAnalog        = 0x6F
	SysexCapabilityQuery       = 0x6B
	SysexCapabilityResponse    = 0x6C
	SysexPinStateQuery         = 0x6D
	SysexPinStateResponse      = 0x6E
	SysexAnalogMappingQuery    = 0x69
	SysexAnalogMappingResponse = 0x6A
	SysexStringData            = 0x71
	SysexI2CRequest            = 0x76
	SysexI2CReply              = 0x77
	SysexI2CConfig             = 0x78
	SysexReportFirmware        = 0x79
	SysexSamplingInterval      = 0x7A
)

// Protocol limits
const (
	MessageMax      = 512  // Scratch output size for a single outgoing frame
	SysexMax        = 1024 // Largest sysex payload accepted by the decoder
	MaxPins         = 128  // Pin numbers are a single 7-bit data byte
	MaxDigitalPorts = 16
	MaxAnalogPins   = 16 // Channels addressable by ReportAnalog/AnalogMessage
	PinsPerPort     = 8
	NoAnalogChannel = 0x7F // Analog mapping entry for pins without an analog channel
	I2CMaxData      = 32   // Wire library buffer on AVR boards
)

// PinMode is a Firmata pin mode as encoded on the wire
type PinMode uint8

const (
	PinModeInput       PinMode = 0x00
	PinModeOutput      PinMode = 0x01
	PinModeAnalog      PinMode = 0x02
	PinModePWM         PinMode = 0x03
	PinModeServo       PinMode = 0x04
	PinModeShift       PinMode = 0x05
	PinModeI2C         PinMode = 0x06
	PinModeOneWire     PinMode = 0x07
	PinModeStepper     PinMode = 0x08
	PinModeEncoder     PinMode = 0x09
	PinModeSerial      PinMode = 0x0A
	PinModeInputPullup PinMode = 0x0B
	PinModeIgnore      PinMode = 0x7F
)

var pinModeNames = map[PinMode]string{
	PinModeInput:       "input",
	PinModeOutput:      "output",
	PinModeAnalog:      "analog",
	PinModePWM:         "pwm",
	PinModeServo:       "servo",
	PinModeShift:       "shift",
	PinModeI2C:         "i2c",
	PinModeOneWire:     "onewire",
	PinModeStepper:     "stepper",
	PinModeEncoder:     "encoder",
	PinModeSerial:      "serial",
	PinModeInputPullup: "input_pullup",
	PinModeIgnore:      "ignore",
}

func (m PinMode) String() string {
	if name, ok := pinModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(0x%02x)", uint8(m))
}

// PortOf returns the digital port a pin belongs to
func PortOf(pin uint8) uint8 {
	return pin / PinsPerPort
}
