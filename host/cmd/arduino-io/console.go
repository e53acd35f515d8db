package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"tinygo.org/x/drivers"

	"arduinoio/host/board"
	"arduinoio/protocol"
)

// device is the part of board.Session the console drives
type device interface {
	DigitalWrite(pin int, value int) (int, error)
	DigitalRead(pin int) (int, bool, error)
	AnalogWrite(pin int, fraction float64) error
	AnalogRead(channel int) (float64, bool, error)
	PinState(ctx context.Context, pin int) (protocol.PinStateReport, error)
	Pins() []board.PinState
	Firmware() board.FirmwareInfo
}

type console struct {
	dev     device
	bus     drivers.I2C
	out     io.Writer
	timeout time.Duration
}

// execute runs one command line and reports whether the user asked to quit
func (c *console) execute(line string) (quit bool) {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return false
	}
	if len(args) == 0 {
		return false
	}

	cmd, args := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		c.printHelp()
	case "dwrite":
		err = c.digitalWrite(args)
	case "dread":
		err = c.digitalRead(args)
	case "awrite":
		err = c.analogWrite(args)
	case "aread":
		err = c.analogRead(args)
	case "state":
		err = c.pinState(args)
	case "pins":
		c.printPins()
	case "i2c":
		err = c.i2c(args)
	case "firmware":
		fmt.Fprintln(c.out, c.dev.Firmware())
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for available commands)\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
Available commands:
  dwrite <pin> <0|1>              - Drive a digital output
  dread <pin>                     - Read a digital input
  awrite <pin> <0.0-1.0>          - Set a PWM duty cycle
  aread <channel>                 - Read an analog input (0 is A0)
  state <pin>                     - Ask the board for a pin's mode and state
  pins                            - Show tracked pin state
  i2c read <addr> <reg> <count>   - Read bytes from an I2C register
  i2c write <addr> <reg> <byte>.. - Write bytes to an I2C register
  firmware                        - Show firmware version
  help                            - Show this help message
  quit/exit/q                     - Exit the program`)
}

func (c *console) digitalWrite(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: dwrite <pin> <0|1>")
	}
	pin, err := parseInt(args[0])
	if err != nil {
		return err
	}
	value, err := parseInt(args[1])
	if err != nil {
		return err
	}
	written, err := c.dev.DigitalWrite(pin, value)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "pin %d = %d\n", pin, written)
	return nil
}

func (c *console) digitalRead(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: dread <pin>")
	}
	pin, err := parseInt(args[0])
	if err != nil {
		return err
	}
	value, ok, err := c.dev.DigitalRead(pin)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(c.out, "pin %d: no value yet\n", pin)
		return nil
	}
	fmt.Fprintf(c.out, "pin %d = %d\n", pin, value)
	return nil
}

func (c *console) analogWrite(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: awrite <pin> <0.0-1.0>")
	}
	pin, err := parseInt(args[0])
	if err != nil {
		return err
	}
	fraction, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid fraction %q", args[1])
	}
	if err := c.dev.AnalogWrite(pin, fraction); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "pin %d duty %.3f\n", pin, fraction)
	return nil
}

func (c *console) analogRead(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: aread <channel>")
	}
	ch, err := parseInt(args[0])
	if err != nil {
		return err
	}
	value, ok, err := c.dev.AnalogRead(ch)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(c.out, "A%d: no value\n", ch)
		return nil
	}
	fmt.Fprintf(c.out, "A%d = %.0f\n", ch, value)
	return nil
}

func (c *console) pinState(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: state <pin>")
	}
	pin, err := parseInt(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	st, err := c.dev.PinState(ctx, pin)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "pin %d: mode %s, state %d\n", st.Pin, st.Mode, st.State)
	return nil
}

func (c *console) printPins() {
	pins := c.dev.Pins()
	if len(pins) == 0 {
		fmt.Fprintln(c.out, "No pins in use")
		return
	}
	for _, p := range pins {
		value := "-"
		if p.HasValue {
			value = strconv.FormatFloat(p.Value, 'f', -1, 64)
		}
		line := fmt.Sprintf("  %-8s %-8s %s", p.ID, p.Mode, value)
		if p.Reporting {
			line += " (reporting)"
		}
		fmt.Fprintln(c.out, line)
	}
}

func (c *console) i2c(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: i2c read <addr> <reg> <count> | i2c write <addr> <reg> <byte>...")
	}
	addr, err := parseInt(args[1])
	if err != nil {
		return err
	}
	reg, err := parseByte(args[2])
	if err != nil {
		return err
	}

	switch args[0] {
	case "read":
		if len(args) != 4 {
			return fmt.Errorf("usage: i2c read <addr> <reg> <count>")
		}
		n, err := parseInt(args[3])
		if err != nil {
			return err
		}
		if n <= 0 || n > protocol.I2CMaxData {
			return fmt.Errorf("count must be 1..%d", protocol.I2CMaxData)
		}
		buf := make([]byte, n)
		if err := c.bus.Tx(uint16(addr), []byte{reg}, buf); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "0x%02x[0x%02x]: % x\n", addr, reg, buf)

	case "write":
		w := []byte{reg}
		for _, s := range args[3:] {
			b, err := parseByte(s)
			if err != nil {
				return err
			}
			w = append(w, b)
		}
		if err := c.bus.Tx(uint16(addr), w, nil); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "OK")

	default:
		return fmt.Errorf("unknown i2c action %q", args[0])
	}
	return nil
}

// parseInt accepts decimal, 0x hex and 0b binary
func parseInt(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return int(v), nil
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q", s)
	}
	return byte(v), nil
}
