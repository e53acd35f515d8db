package protocol

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrPinRange      = errors.New("pin number out of range")
	ErrChannelRange  = errors.New("analog channel out of range")
	ErrPortRange     = errors.New("digital port out of range")
	ErrI2CAddress    = errors.New("i2c address out of range")
	ErrI2CDataLength = errors.New("i2c payload too long")
)

// I2CMode selects the operation of an I2C request
type I2CMode uint8

const (
	I2CModeWrite          I2CMode = 0x00
	I2CModeReadOnce       I2CMode = 0x01
	I2CModeReadContinuous I2CMode = 0x02
	I2CModeStopReading    I2CMode = 0x03
)

// NoRegister marks an I2C read that does not address a register first
const NoRegister = -1

func checkPin(pin uint8) error {
	if pin >= MaxPins {
		return fmt.Errorf("%w: %d", ErrPinRange, pin)
	}
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// EncodeSetPinMode encodes SET_PIN_MODE
func EncodeSetPinMode(output OutputBuffer, pin uint8, mode PinMode) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	output.Output([]byte{SetPinMode, pin, byte(mode) & 0x7F})
	return nil
}

// EncodeDigitalWrite encodes SET_DIGITAL_PIN_VALUE for a single pin
func EncodeDigitalWrite(output OutputBuffer, pin uint8, high bool) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	output.Output([]byte{SetDigitalPinValue, pin, boolByte(high)})
	return nil
}

// EncodeAnalogWrite encodes a PWM/analog output value.
// Pins above 15 do not fit the ANALOG_MESSAGE nibble and use EXTENDED_ANALOG.
func EncodeAnalogWrite(output OutputBuffer, pin uint8, value uint16) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	if value > 0x3FFF {
		return ErrValueRange
	}
	if pin < MaxAnalogPins {
		output.Output([]byte{AnalogMessage | pin})
		return EncodeUint14(output, value)
	}
	output.Output([]byte{StartSysex, SysexExtendedAnalog, pin})
	if err := EncodeUint14(output, value); err != nil {
		return err
	}
	output.Output([]byte{EndSysex})
	return nil
}

// PWMValue scales a duty cycle fraction in [0, 1] to the 8-bit PWM range.
// Out of range fractions are clamped; callers validate before encoding.
func PWMValue(fraction float64) uint16 {
	if fraction <= 0 || math.IsNaN(fraction) {
		return 0
	}
	if fraction >= 1 {
		return 255
	}
	return uint16(math.Round(fraction * 255))
}

// EncodeReportAnalog toggles reporting for an analog input channel
func EncodeReportAnalog(output OutputBuffer, channel uint8, enable bool) error {
	if channel >= MaxAnalogPins {
		return fmt.Errorf("%w: %d", ErrChannelRange, channel)
	}
	output.Output([]byte{ReportAnalog | channel, boolByte(enable)})
	return nil
}

// EncodeReportDigital toggles change reporting for a digital port
func EncodeReportDigital(output OutputBuffer, port uint8, enable bool) error {
	if port >= MaxDigitalPorts {
		return fmt.Errorf("%w: %d", ErrPortRange, port)
	}
	output.Output([]byte{ReportDigital | port, boolByte(enable)})
	return nil
}

// EncodeReportVersion requests the protocol version
func EncodeReportVersion(output OutputBuffer) {
	output.Output([]byte{ReportVersion})
}

func encodeSysex(output OutputBuffer, cmd byte, payload ...byte) {
	output.Output([]byte{StartSysex, cmd})
	output.Output(payload)
	output.Output([]byte{EndSysex})
}

// EncodeQueryFirmware requests the firmware name and version
func EncodeQueryFirmware(output OutputBuffer) {
	encodeSysex(output, SysexReportFirmware)
}

// EncodeCapabilityQuery requests the supported modes of every pin
func EncodeCapabilityQuery(output OutputBuffer) {
	encodeSysex(output, SysexCapabilityQuery)
}

// EncodeAnalogMappingQuery requests the analog channel to pin mapping
func EncodeAnalogMappingQuery(output OutputBuffer) {
	encodeSysex(output, SysexAnalogMappingQuery)
}

// EncodePinStateQuery requests mode and state of a single pin
func EncodePinStateQuery(output OutputBuffer, pin uint8) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	encodeSysex(output, SysexPinStateQuery, pin)
	return nil
}

// EncodeSamplingInterval sets the analog/I2C reporting period in milliseconds
func EncodeSamplingInterval(output OutputBuffer, ms uint16) error {
	if ms > 0x3FFF {
		return ErrValueRange
	}
	encodeSysex(output, SysexSamplingInterval, byte(ms&0x7F), byte(ms>>7))
	return nil
}

// EncodeI2CConfig configures the delay between an I2C write and the following read
func EncodeI2CConfig(output OutputBuffer, delayMicros uint16) error {
	if delayMicros > 0x3FFF {
		return ErrValueRange
	}
	encodeSysex(output, SysexI2CConfig, byte(delayMicros&0x7F), byte(delayMicros>>7))
	return nil
}

func i2cHeader(output OutputBuffer, addr uint16, mode I2CMode) error {
	if addr > 0x3FF {
		return fmt.Errorf("%w: 0x%x", ErrI2CAddress, addr)
	}
	second := byte(mode&0x03) << 3
	if addr > 0x7F {
		// 10-bit addressing
		second |= 0x20 | byte(addr>>7)&0x07
	}
	output.Output([]byte{StartSysex, SysexI2CRequest, byte(addr & 0x7F), second})
	return nil
}

// EncodeI2CWrite encodes an I2C write of data to addr
func EncodeI2CWrite(output OutputBuffer, addr uint16, data []byte) error {
	if len(data) > I2CMaxData {
		return fmt.Errorf("%w: %d bytes", ErrI2CDataLength, len(data))
	}
	if err := i2cHeader(output, addr, I2CModeWrite); err != nil {
		return err
	}
	EncodeSevenBitBytes(output, data)
	output.Output([]byte{EndSysex})
	return nil
}

// EncodeI2CRead encodes a one-shot read of count bytes, optionally from register
func EncodeI2CRead(output OutputBuffer, addr uint16, register int, count int) error {
	if count < 0 || count > I2CMaxData {
		return fmt.Errorf("%w: %d bytes", ErrI2CDataLength, count)
	}
	if err := i2cHeader(output, addr, I2CModeReadOnce); err != nil {
		return err
	}
	if register != NoRegister {
		if err := EncodeUint14(output, uint16(register)); err != nil {
			return err
		}
	}
	if err := EncodeUint14(output, uint16(count)); err != nil {
		return err
	}
	output.Output([]byte{EndSysex})
	return nil
}
