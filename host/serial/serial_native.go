//go:build !wasm

package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// hangupReads is how many consecutive early zero-length reads mark a hung up device
const hangupReads = 3

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port io.ReadWriteCloser
	cfg  *Config
	buf  []byte

	// earlyEOFs counts zero-length reads that returned well before the read timeout
	earlyEOFs int

	mu     sync.Mutex
	closed bool
}

// Open opens a native serial port
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.ReadTimeout <= 0 {
		// tarm/serial treats zero as "block forever"
		return nil, fmt.Errorf("read timeout must be positive, got %v", cfg.ReadTimeout)
	}

	serialConfig := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}

	port, err := serial.OpenPort(serialConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return newNativePort(port, cfg), nil
}

func newNativePort(port io.ReadWriteCloser, cfg *Config) *NativePort {
	return &NativePort{
		port: port,
		cfg:  cfg,
		buf:  make([]byte, 256),
	}
}

// ReadAvailable reads whatever arrived within the configured read timeout
func (p *NativePort) ReadAvailable() ([]byte, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	start := time.Now()
	n, err := p.port.Read(p.buf)
	if n == 0 && errors.Is(err, io.EOF) {
		// A VTIME timeout surfaces as a zero-length read after the timeout.
		// A hung up tty returns the same thing immediately.
		if time.Since(start) >= p.cfg.ReadTimeout/2 {
			p.earlyEOFs = 0
			return nil, nil
		}
		p.earlyEOFs++
		if p.earlyEOFs >= hangupReads {
			return nil, fmt.Errorf("read %s: device hung up: %w", p.cfg.Device, io.EOF)
		}
		return nil, nil
	}
	p.earlyEOFs = 0
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.cfg.Device, err)
	}

	out := make([]byte, n)
	copy(out, p.buf[:n])
	return out, nil
}

// Write writes data to the serial port
func (p *NativePort) Write(b []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}
	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", p.cfg.Device, err)
	}
	return n, nil
}

// Close closes the serial port
func (p *NativePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.port.Close()
}

func (p *NativePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
