package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand = errors.New("unknown command byte")
	ErrUnknownSysex   = errors.New("unknown sysex command")
	ErrUnexpectedData = errors.New("data byte outside of a frame")
	ErrTruncatedFrame = errors.New("frame interrupted by command byte")
	ErrSysexTooLong   = errors.New("sysex exceeds maximum length")
	ErrMalformedSysex = errors.New("malformed sysex payload")
)

// Kind identifies the type of a decoded message
type Kind uint8

const (
	KindProtocolError Kind = iota
	KindDigitalReport
	KindAnalogReport
	KindVersion
	KindFirmware
	KindCapability
	KindAnalogMapping
	KindPinState
	KindI2CReply
	KindStringData
)

func (k Kind) String() string {
	switch k {
	case KindProtocolError:
		return "protocol_error"
	case KindDigitalReport:
		return "digital_report"
	case KindAnalogReport:
		return "analog_report"
	case KindVersion:
		return "version"
	case KindFirmware:
		return "firmware"
	case KindCapability:
		return "capability"
	case KindAnalogMapping:
		return "analog_mapping"
	case KindPinState:
		return "pin_state"
	case KindI2CReply:
		return "i2c_reply"
	case KindStringData:
		return "string_data"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is a decoded frame received from the device
type Message interface {
	Kind() Kind
}

// DigitalReport carries the input state of the eight pins of a port
type DigitalReport struct {
	Port uint8
	Mask uint16 // Bit n is pin Port*8+n
}

// PinValue returns the reported level of pin, false if the pin is not in this port
func (r DigitalReport) PinValue(pin uint8) (high bool, ok bool) {
	if PortOf(pin) != r.Port {
		return false, false
	}
	return r.Mask&(1<<(pin%PinsPerPort)) != 0, true
}

// AnalogReport carries a raw reading from an analog input channel
type AnalogReport struct {
	Channel uint8
	Value   uint16
}

// VersionReport is the reply to REPORT_VERSION
type VersionReport struct {
	Major uint8
	Minor uint8
}

// FirmwareReport is the reply to REPORT_FIRMWARE
type FirmwareReport struct {
	Major uint8
	Minor uint8
	Name  string
}

// PinCapability lists the modes a pin supports and their resolution in bits
type PinCapability struct {
	Modes map[PinMode]uint8
}

// Supports returns whether the pin can be put in mode
func (c PinCapability) Supports(mode PinMode) bool {
	_, ok := c.Modes[mode]
	return ok
}

// CapabilityReport is the reply to CAPABILITY_QUERY, indexed by pin number
type CapabilityReport struct {
	Pins []PinCapability
}

// AnalogMappingReport maps pin numbers to analog channels (NoAnalogChannel if none)
type AnalogMappingReport struct {
	Channels []uint8
}

// PinForChannel returns the pin number backing an analog channel
func (r AnalogMappingReport) PinForChannel(channel uint8) (uint8, bool) {
	for pin, ch := range r.Channels {
		if ch == channel {
			return uint8(pin), true
		}
	}
	return 0, false
}

// PinStateReport is the reply to PIN_STATE_QUERY
type PinStateReport struct {
	Pin   uint8
	Mode  PinMode
	State uint32
}

// I2CReply carries data read from an I2C device
type I2CReply struct {
	Address  uint16
	Register uint16
	Data     []byte
}

// StringData is a text message sent by the firmware
type StringData struct {
	Text string
}

// ProtocolError reports a malformed or unrecognized frame. Decoding continues after it.
type ProtocolError struct {
	Opcode byte
	Err    error
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("protocol error at 0x%02x: %v", e.Opcode, e.Err)
}

func (e ProtocolError) Unwrap() error {
	return e.Err
}

func (DigitalReport) Kind() Kind       { return KindDigitalReport }
func (AnalogReport) Kind() Kind        { return KindAnalogReport }
func (VersionReport) Kind() Kind       { return KindVersion }
func (FirmwareReport) Kind() Kind      { return KindFirmware }
func (CapabilityReport) Kind() Kind    { return KindCapability }
func (AnalogMappingReport) Kind() Kind { return KindAnalogMapping }
func (PinStateReport) Kind() Kind      { return KindPinState }
func (I2CReply) Kind() Kind            { return KindI2CReply }
func (StringData) Kind() Kind          { return KindStringData }
func (ProtocolError) Kind() Kind       { return KindProtocolError }
