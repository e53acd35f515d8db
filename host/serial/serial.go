package serial

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"
)

// ErrClosed is returned by operations on a port after Close
var ErrClosed = errors.New("serial port closed")

// Port is the byte-oriented duplex connection to a Firmata board.
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Fake ports in tests
type Port interface {
	io.Writer

	// ReadAvailable returns the bytes that arrived within the read timeout.
	// An empty slice means nothing was ready; it never blocks indefinitely.
	ReadAvailable() ([]byte, error)

	// Close releases the device. Calling it more than once is a no-op.
	Close() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string `yaml:"device"`

	// Baud rate (StandardFirmata uses 57600)
	Baud int `yaml:"baud"`

	// Upper bound for a single ReadAvailable call
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DefaultConfig returns a default configuration for StandardFirmata
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        57600,
		ReadTimeout: 50 * time.Millisecond,
	}
}

// IsDisconnect reports whether err means the device went away,
// as opposed to a failure of a single transfer.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, syscall.ENODEV) ||
		errors.Is(err, syscall.ENXIO)
}
