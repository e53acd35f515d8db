package board

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arduinoio/protocol"
)

// fakePort is an in-memory serial.Port. failFrame lets a test reject selected frames.
type fakePort struct {
	mu        sync.Mutex
	rx        []byte
	writes    [][]byte
	readErr   error
	failFrame func(frame []byte) error
	onWrite   func(frame []byte)
	closes    int
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.failFrame != nil {
		if err := p.failFrame(b); err != nil {
			p.mu.Unlock()
			return 0, err
		}
	}
	frame := append([]byte(nil), b...)
	p.writes = append(p.writes, frame)
	hook := p.onWrite
	p.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return len(b), nil
}

func (p *fakePort) ReadAvailable() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readErr != nil {
		return nil, p.readErr
	}
	data := p.rx
	p.rx = nil
	return data, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePort) inject(data ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, data...)
}

func (p *fakePort) setFailFrame(fn func(frame []byte) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failFrame = fn
}

func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

func (p *fakePort) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// sentFrame reports whether frame was written as a whole
func (p *fakePort) sentFrame(frame ...byte) bool {
	for _, w := range p.frames() {
		if bytes.Equal(w, frame) {
			return true
		}
	}
	return false
}

// newFirmware returns a port that answers the handshake like StandardFirmata 2.5
func newFirmware() *fakePort {
	p := &fakePort{}
	p.onWrite = func(frame []byte) {
		if bytes.IndexByte(frame, protocol.ReportVersion) >= 0 {
			p.inject(protocol.ReportVersion, 2, 5)
		}
		if bytes.Contains(frame, []byte{protocol.StartSysex, protocol.SysexReportFirmware}) {
			p.inject(protocol.StartSysex, protocol.SysexReportFirmware, 2, 5, 'S', 0, 'F', 0, protocol.EndSysex)
		}
	}
	return p
}

func testConfig() Config {
	cfg := DefaultConfig("fake")
	cfg.InitDelay = 0
	cfg.HandshakeTimeout = time.Second
	cfg.QueryTimeout = 200 * time.Millisecond
	cfg.QueryCapabilities = false
	cfg.SettleDelay = 0
	cfg.DigitalReadDelay = 0
	cfg.AnalogRetryDelay = time.Millisecond
	cfg.PollInterval = time.Millisecond
	return cfg
}

// sleepRecorder counts pauses without waiting
type sleepRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration, cancel <-chan struct{}) bool {
	r.mu.Lock()
	r.pauses = append(r.pauses, d)
	r.mu.Unlock()

	select {
	case <-cancel:
		return false
	default:
		return true
	}
}

func (r *sleepRecorder) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.pauses {
		if p == d {
			n++
		}
	}
	return n
}

func (r *sleepRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = nil
}

func openTest(t *testing.T, port *fakePort, cfg Config) (*Session, *sleepRecorder) {
	t.Helper()

	rec := &sleepRecorder{}
	s, err := open(context.Background(), port, cfg, rec.sleep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}
