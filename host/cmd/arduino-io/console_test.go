package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"arduinoio/host/board"
	"arduinoio/protocol"
)

type stubDevice struct{ mock.Mock }

func (s *stubDevice) DigitalWrite(pin int, value int) (int, error) {
	args := s.Called(pin, value)
	return args.Int(0), args.Error(1)
}

func (s *stubDevice) DigitalRead(pin int) (int, bool, error) {
	args := s.Called(pin)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (s *stubDevice) AnalogWrite(pin int, fraction float64) error {
	return s.Called(pin, fraction).Error(0)
}

func (s *stubDevice) AnalogRead(channel int) (float64, bool, error) {
	args := s.Called(channel)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

func (s *stubDevice) PinState(ctx context.Context, pin int) (protocol.PinStateReport, error) {
	args := s.Called(ctx, pin)
	return args.Get(0).(protocol.PinStateReport), args.Error(1)
}

func (s *stubDevice) Pins() []board.PinState {
	return s.Called().Get(0).([]board.PinState)
}

func (s *stubDevice) Firmware() board.FirmwareInfo {
	return s.Called().Get(0).(board.FirmwareInfo)
}

type stubBus struct{ mock.Mock }

func (b *stubBus) Tx(addr uint16, w, r []byte) error {
	args := b.Called(addr, w, len(r))
	if data, ok := args.Get(0).([]byte); ok {
		copy(r, data)
	}
	return args.Error(1)
}

func newTestConsole() (*console, *stubDevice, *stubBus, *bytes.Buffer) {
	dev := &stubDevice{}
	bus := &stubBus{}
	out := &bytes.Buffer{}
	return &console{dev: dev, bus: bus, out: out, timeout: time.Second}, dev, bus, out
}

func TestConsoleDigital(t *testing.T) {
	c, dev, _, out := newTestConsole()
	dev.On("DigitalWrite", 13, 1).Return(1, nil)
	dev.On("DigitalRead", 7).Return(0, true, nil)
	dev.On("DigitalRead", 8).Return(0, false, nil)

	assert.False(t, c.execute("dwrite 13 1"))
	assert.False(t, c.execute("dread 7"))
	assert.False(t, c.execute("dread 8"))

	assert.Contains(t, out.String(), "pin 13 = 1")
	assert.Contains(t, out.String(), "pin 7 = 0")
	assert.Contains(t, out.String(), "pin 8: no value yet")
	dev.AssertExpectations(t)
}

func TestConsoleAnalog(t *testing.T) {
	c, dev, _, out := newTestConsole()
	dev.On("AnalogWrite", 3, 0.25).Return(nil)
	dev.On("AnalogRead", 0).Return(512.0, true, nil)
	dev.On("AnalogRead", 1).Return(0.0, false, nil)

	c.execute("awrite 3 0.25")
	c.execute("aread 0")
	c.execute("aread 1")

	assert.Contains(t, out.String(), "pin 3 duty 0.250")
	assert.Contains(t, out.String(), "A0 = 512")
	assert.Contains(t, out.String(), "A1: no value")
	dev.AssertExpectations(t)
}

func TestConsoleReportsErrors(t *testing.T) {
	c, dev, _, out := newTestConsole()
	dev.On("DigitalWrite", 13, 5).Return(0, &board.ValidationError{Op: "digital write", Pin: 13, Value: 5, Reason: "digital value must be 0 or 1"})

	c.execute("dwrite 13 5")
	c.execute("dwrite 13")
	c.execute("awrite x 0.5")
	c.execute("blink 13")

	s := out.String()
	assert.Contains(t, s, "Error: digital write pin 13: invalid value 5")
	assert.Contains(t, s, "usage: dwrite")
	assert.Contains(t, s, `invalid number "x"`)
	assert.Contains(t, s, "Unknown command: blink")
}

func TestConsoleI2C(t *testing.T) {
	c, _, bus, out := newTestConsole()
	bus.On("Tx", uint16(0x48), []byte{0x05}, 2).Return([]byte{0x12, 0x34}, nil)
	bus.On("Tx", uint16(0x3C), []byte{0x00, 0xAE}, 0).Return(nil, nil)

	c.execute("i2c read 0x48 5 2")
	c.execute("i2c write 0x3c 0 0xae")
	c.execute("i2c read 0x48 5 99")

	assert.Contains(t, out.String(), "0x48[0x05]: 12 34")
	assert.Contains(t, out.String(), "OK")
	assert.Contains(t, out.String(), "count must be 1..32")
	bus.AssertExpectations(t)
}

func TestConsoleStateAndPins(t *testing.T) {
	c, dev, _, out := newTestConsole()
	dev.On("PinState", mock.Anything, 9).Return(protocol.PinStateReport{Pin: 9, Mode: protocol.PinModeOutput, State: 1}, nil)
	dev.On("Pins").Return([]board.PinState{
		{ID: board.DigitalPin(9), Mode: board.ModeOutput, Value: 1, HasValue: true},
		{ID: board.AnalogPin(0), Mode: board.ModeAnalog, Reporting: true},
	})
	dev.On("Firmware").Return(board.FirmwareInfo{
		Protocol: protocol.VersionReport{Major: 2, Minor: 5},
		Firmware: protocol.FirmwareReport{Major: 2, Minor: 5, Name: "StandardFirmata.ino"},
	})

	c.execute("state 9")
	c.execute("pins")
	c.execute("firmware")

	s := out.String()
	assert.Contains(t, s, "pin 9: mode output, state 1")
	assert.Contains(t, s, "pin A0")
	assert.Contains(t, s, "(reporting)")
	assert.Contains(t, s, "StandardFirmata.ino 2.5 (protocol 2.5)")
}

func TestConsoleQuit(t *testing.T) {
	c, _, _, _ := newTestConsole()
	assert.False(t, c.execute(""))
	assert.False(t, c.execute("help"))
	assert.True(t, c.execute("quit"))
	assert.True(t, c.execute("EXIT"))
}
