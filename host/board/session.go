package board

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"arduinoio/host/serial"
	"arduinoio/protocol"
)

// FirmwareInfo describes the firmware answering on the port
type FirmwareInfo struct {
	Protocol protocol.VersionReport
	Firmware protocol.FirmwareReport
}

func (f FirmwareInfo) String() string {
	name := f.Firmware.Name
	if name == "" {
		name = "unknown firmware"
	}
	return fmt.Sprintf("%s %d.%d (protocol %d.%d)", name, f.Firmware.Major, f.Firmware.Minor, f.Protocol.Major, f.Protocol.Minor)
}

// Session is a connection to a board running StandardFirmata.
// Foreground calls issue commands; a background Receiver applies reports
// to the pin registry. All methods are safe for concurrent use.
type Session struct {
	id       string
	cfg      Config
	port     serial.Port
	registry *Registry
	receiver *Receiver
	replies  *mailbox
	i2c      *I2CBus
	log      zerolog.Logger
	sleep    func(d time.Duration, cancel <-chan struct{}) bool

	// writeMu serializes frames on the wire and guards closing
	writeMu sync.Mutex
	closing bool

	connected atomic.Bool
	downOnce  sync.Once
	down      chan struct{}
	causeMu   sync.Mutex
	cause     error

	mu         sync.Mutex
	safeValue  int
	configured []uint8
	warnings   []error
	firmware   FirmwareInfo

	// queryMu allows one outstanding request/reply exchange at a time
	queryMu        sync.Mutex
	protocolErrors atomic.Uint64

	closeMu sync.Mutex
	closed  bool
}

// Connect opens the serial port named in cfg and starts a session on it
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	port, err := serial.Open(&cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return Open(ctx, port, cfg)
}

// Open starts a session on an already open port. The session owns the port
// from here on and closes it if the handshake fails.
//
// Output pins that fail to configure are skipped; see Warnings.
func Open(ctx context.Context, port serial.Port, cfg Config) (*Session, error) {
	return open(ctx, port, cfg, sleepFor)
}

func open(ctx context.Context, port serial.Port, cfg Config, sleep func(time.Duration, <-chan struct{}) bool) (*Session, error) {
	s := newSession(port, cfg, sleep)
	s.log.Debug().Str("device", cfg.Port.Device).Msg("opening session")

	s.receiver.Start()

	if err := s.handshake(ctx); err != nil {
		s.abort()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if s.cfg.QueryCapabilities {
		s.queryLayout(ctx)
	}

	if s.cfg.SamplingInterval > 0 {
		ms := uint16(min(s.cfg.SamplingInterval.Milliseconds(), 0x3FFF))
		if err := s.send(func(o protocol.OutputBuffer) error {
			return protocol.EncodeSamplingInterval(o, ms)
		}); err != nil {
			s.warn(fmt.Errorf("set sampling interval: %w", err))
		}
	}

	for _, pin := range s.cfg.OutputPins {
		if err := s.configureOutput(pin); err != nil {
			s.warn(err)
		}
	}

	s.log.Info().
		Str("firmware", s.Firmware().String()).
		Ints("outputs", s.ConfiguredOutputs()).
		Msg("connected to board")

	return s, nil
}

func newSession(port serial.Port, cfg Config, sleep func(time.Duration, <-chan struct{}) bool) *Session {
	if cfg.AnalogRetries < 1 {
		cfg.AnalogRetries = 1
	}

	id := uuid.New().String()
	s := &Session{
		id:       id,
		cfg:      cfg,
		port:     port,
		registry: NewRegistry(),
		replies: newMailbox(
			protocol.KindVersion,
			protocol.KindFirmware,
			protocol.KindCapability,
			protocol.KindAnalogMapping,
			protocol.KindPinState,
			protocol.KindI2CReply,
		),
		log:       cfg.logger().With().Str("session", id).Logger(),
		sleep:     sleep,
		down:      make(chan struct{}),
		safeValue: cfg.SafeValue,
	}
	s.i2c = &I2CBus{s: s}
	s.connected.Store(true)

	if cfg.SafeValue != 0 && cfg.SafeValue != 1 {
		s.warn(&ValidationError{Op: "connect", Pin: -1, Value: cfg.SafeValue, Reason: "safe value must be 0 or 1, using 1"})
		s.safeValue = 1
	}

	s.receiver = NewReceiver(port, s.handle, s.markDisconnected, cfg.PollInterval)
	if cfg.Tracer != nil {
		s.receiver.SetDataTap(func(data []byte) {
			s.trace(DirectionIn, data)
		})
	}
	return s
}

func (s *Session) handshake(ctx context.Context) error {
	if err := s.pause(s.cfg.InitDelay); err != nil {
		return err
	}

	err := s.send(func(o protocol.OutputBuffer) error {
		protocol.EncodeReportVersion(o)
		protocol.EncodeQueryFirmware(o)
		return nil
	})
	if err != nil {
		return fmt.Errorf("request version: %w", err)
	}

	if _, err := s.replies.await(ctx, protocol.KindVersion, s.cfg.HandshakeTimeout, s.down, nil); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	// Older firmwares do not answer the firmware query; the name is informational
	if _, err := s.replies.await(ctx, protocol.KindFirmware, s.cfg.QueryTimeout, s.down, nil); err != nil {
		s.log.Debug().Err(err).Msg("no firmware report")
	}
	return nil
}

// queryLayout asks for the capability table and analog mapping.
// On timeout the session keeps the protocol range checks and the fallback analog offset.
func (s *Session) queryLayout(ctx context.Context) {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()

	queries := []struct {
		kind protocol.Kind
		enc  func(protocol.OutputBuffer)
	}{
		{protocol.KindCapability, protocol.EncodeCapabilityQuery},
		{protocol.KindAnalogMapping, protocol.EncodeAnalogMappingQuery},
	}

	for _, q := range queries {
		s.replies.drain(q.kind)
		enc := q.enc
		if err := s.send(func(o protocol.OutputBuffer) error { enc(o); return nil }); err != nil {
			s.log.Warn().Err(err).Stringer("query", q.kind).Msg("layout query failed")
			continue
		}
		if _, err := s.replies.await(ctx, q.kind, s.cfg.QueryTimeout, s.down, nil); err != nil {
			s.log.Warn().Err(err).Stringer("query", q.kind).Msg("board did not describe its layout")
		}
	}
}

func (s *Session) configureOutput(pin int) error {
	if err := s.registry.CheckPin("configure output", pin, ModeOutput); err != nil {
		return err
	}

	p := uint8(pin)
	id := DigitalPin(p)
	if _, err := s.ensureMode(id, p, ModeOutput); err != nil {
		return &PinConfigurationError{Pin: id, Op: "configure output", Err: err}
	}
	if err := s.writeOutput(p, s.SafeValue()); err != nil {
		return &PinConfigurationError{Pin: id, Op: "configure output", Err: err}
	}
	return nil
}

// DigitalWrite drives an output pin to value (0 or 1), switching it to output mode if needed.
// It returns the written value.
func (s *Session) DigitalWrite(pin int, value int) (int, error) {
	const op = "digital write"

	if value != 0 && value != 1 {
		return 0, &ValidationError{Op: op, Pin: pin, Value: value, Reason: "digital value must be 0 or 1"}
	}
	if err := s.registry.CheckPin(op, pin, ModeOutput); err != nil {
		return 0, err
	}
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	p := uint8(pin)
	id := DigitalPin(p)
	if _, err := s.ensureMode(id, p, ModeOutput); err != nil {
		return 0, &PinConfigurationError{Pin: id, Op: op, Err: err}
	}
	if err := s.writeOutput(p, value); err != nil {
		return 0, &PinConfigurationError{Pin: id, Op: op, Err: err}
	}
	return value, nil
}

// DigitalRead returns the last reported level of an input pin.
// The value comes from asynchronous reports, so it is not freshly sampled;
// ok is false until the first report for the pin arrives.
func (s *Session) DigitalRead(pin int) (value int, ok bool, err error) {
	const op = "digital read"

	if err := s.registry.CheckPin(op, pin, ModeInput); err != nil {
		return 0, false, err
	}
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}

	p := uint8(pin)
	id := DigitalPin(p)
	switched, err := s.ensureMode(id, p, ModeInput)
	if err != nil {
		return 0, false, &PinConfigurationError{Pin: id, Op: op, Err: err}
	}
	if switched {
		if err := s.pause(s.cfg.DigitalReadDelay); err != nil {
			return 0, false, err
		}
	}

	v, ok := s.registry.Read(id)
	if !ok {
		return 0, false, nil
	}
	return int(v), true, nil
}

// AnalogWrite sets the PWM duty cycle of a pin, fraction in [0, 1]
func (s *Session) AnalogWrite(pin int, fraction float64) error {
	const op = "analog write"

	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return &ValidationError{Op: op, Pin: pin, Value: fraction, Reason: "PWM value must be between 0.0 and 1.0"}
	}
	if err := s.registry.CheckPin(op, pin, ModePWM); err != nil {
		return err
	}
	if err := s.checkConnected(); err != nil {
		return err
	}

	p := uint8(pin)
	id := DigitalPin(p)
	if _, err := s.ensureMode(id, p, ModePWM); err != nil {
		return &PinConfigurationError{Pin: id, Op: op, Err: err}
	}
	err := s.send(func(o protocol.OutputBuffer) error {
		return protocol.EncodeAnalogWrite(o, p, protocol.PWMValue(fraction))
	})
	if err != nil {
		return &PinConfigurationError{Pin: id, Op: op, Err: err}
	}
	s.registry.RecordCommandedValue(id, fraction)
	return nil
}

// AnalogRead returns the latest raw reading of analog channel (A0 is 0).
// The first reading after reporting is enabled usually lags, so the registry
// is polled AnalogRetries times; ok is false if no report arrived by then.
func (s *Session) AnalogRead(channel int) (value float64, ok bool, err error) {
	const op = "analog read"

	if channel < 0 || channel >= protocol.MaxAnalogPins {
		return 0, false, &ValidationError{Op: op, Pin: channel, Value: channel, Reason: "analog channel out of range"}
	}
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}

	ch := uint8(channel)
	wire, mapped := s.registry.PinForChannel(ch, s.cfg.AnalogPinOffset)
	if !mapped {
		return 0, false, &ValidationError{Op: op, Pin: channel, Value: channel, Reason: "board has no such analog channel"}
	}

	id := AnalogPin(ch)
	if _, err := s.ensureMode(id, wire, ModeAnalog); err != nil {
		return 0, false, &PinConfigurationError{Pin: id, Op: op, Err: err}
	}

	fresh := false
	if !s.registry.Reporting(id) {
		s.registry.SetReporting(id, true)
		err := s.send(func(o protocol.OutputBuffer) error {
			return protocol.EncodeReportAnalog(o, ch, true)
		})
		if err != nil {
			s.registry.SetReporting(id, false)
			return 0, false, &PinConfigurationError{Pin: id, Op: op, Err: err}
		}
		fresh = true
	}

	for attempt := 0; attempt < s.cfg.AnalogRetries; attempt++ {
		if attempt > 0 || fresh {
			if err := s.pause(s.cfg.AnalogRetryDelay); err != nil {
				return 0, false, err
			}
		}
		if v, ok := s.registry.Read(id); ok {
			return v, true, nil
		}
	}

	s.log.Debug().Int("channel", channel).Int("attempts", s.cfg.AnalogRetries).Msg("no analog reading after retries")
	return 0, false, nil
}

// PinState asks the board for the mode and state of a pin
func (s *Session) PinState(ctx context.Context, pin int) (protocol.PinStateReport, error) {
	if pin < 0 || pin >= protocol.MaxPins {
		return protocol.PinStateReport{}, invalidPin("pin state", pin, "pin number out of range")
	}
	if err := s.checkConnected(); err != nil {
		return protocol.PinStateReport{}, err
	}

	s.queryMu.Lock()
	defer s.queryMu.Unlock()

	s.replies.drain(protocol.KindPinState)
	if err := s.send(func(o protocol.OutputBuffer) error {
		return protocol.EncodePinStateQuery(o, uint8(pin))
	}); err != nil {
		return protocol.PinStateReport{}, err
	}

	msg, err := s.replies.await(ctx, protocol.KindPinState, s.cfg.QueryTimeout, s.down, func(m protocol.Message) bool {
		return m.(protocol.PinStateReport).Pin == uint8(pin)
	})
	if err != nil {
		return protocol.PinStateReport{}, err
	}
	return msg.(protocol.PinStateReport), nil
}

// Close drives every output pin this session configured to the safe value,
// stops the receive loop and closes the port. Per-pin failures are returned
// together but never stop the sweep. Calling Close again is a no-op.
func (s *Session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.writeMu.Lock()
	s.closing = true
	s.writeMu.Unlock()
	s.signalDown()

	var errs error
	for _, pin := range s.configuredPins() {
		if err := s.forceSafe(pin); err != nil {
			perr := &PinConfigurationError{Pin: DigitalPin(pin), Op: "safe state", Err: err}
			s.log.Warn().Err(err).Uint8("pin", pin).Msg("could not set pin to safe state on close")
			errs = multierr.Append(errs, perr)
		}
	}

	s.receiver.Stop()
	s.connected.Store(false)

	if err := s.port.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: close port: %w", ErrIO, err))
	}

	s.log.Info().Msg("session closed")
	return errs
}

// forceSafe puts a pin in output mode and writes the safe value regardless of tracked state
func (s *Session) forceSafe(pin uint8) error {
	safe := s.SafeValue()
	id := DigitalPin(pin)
	s.registry.SetMode(id, ModeOutput)

	if err := s.sendFrame(func(o protocol.OutputBuffer) error {
		return protocol.EncodeSetPinMode(o, pin, protocol.PinModeOutput)
	}, true, nil); err != nil {
		return err
	}
	if err := s.sendFrame(func(o protocol.OutputBuffer) error {
		return protocol.EncodeDigitalWrite(o, pin, safe == 1)
	}, true, nil); err != nil {
		return err
	}
	s.registry.RecordCommandedValue(id, float64(safe))
	return nil
}

// abort tears down a session whose handshake failed
func (s *Session) abort() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	s.closed = true
	s.writeMu.Lock()
	s.closing = true
	s.writeMu.Unlock()
	s.signalDown()

	s.receiver.Stop()
	s.connected.Store(false)
	if err := s.port.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close after failed handshake")
	}
}

// ensureMode switches a pin only if the registry does not already show mode.
// The registry is updated before the frame is sent so reports that race the
// command are not dropped; it is rolled back if the send fails.
func (s *Session) ensureMode(id PinID, wire uint8, mode Mode) (switched bool, err error) {
	if s.registry.Mode(id) == mode {
		return false, nil
	}

	prev := s.registry.SetMode(id, mode)
	if err := s.send(func(o protocol.OutputBuffer) error {
		return protocol.EncodeSetPinMode(o, wire, mode.Wire())
	}); err != nil {
		s.registry.SetMode(id, prev)
		return false, err
	}
	s.releaseAlias(id, wire)

	if mode == ModeInput {
		port := protocol.PortOf(wire)
		if !s.registry.PortReporting(port) {
			s.registry.SetPortReporting(port, true)
			if err := s.send(func(o protocol.OutputBuffer) error {
				return protocol.EncodeReportDigital(o, port, true)
			}); err != nil {
				s.registry.SetPortReporting(port, false)
				return true, err
			}
		}
	}

	s.log.Debug().Stringer("pin", id).Stringer("from", prev).Stringer("to", mode).Msg("pin mode changed")
	return true, s.pause(s.cfg.SettleDelay)
}

// releaseAlias forgets the mode of the same physical pin in the other address space,
// since the board just reconfigured it.
func (s *Session) releaseAlias(id PinID, wire uint8) {
	if id.Space == Analog {
		s.registry.SetMode(DigitalPin(wire), ModeUnset)
		return
	}
	if ch, ok := s.registry.ChannelForPin(wire, s.cfg.AnalogPinOffset); ok {
		s.registry.SetMode(AnalogPin(ch), ModeUnset)
	}
}

// writeOutput writes an output pin and adds it to the safety sweep.
// The pin is recorded under writeMu so Close cannot miss it.
func (s *Session) writeOutput(pin uint8, value int) error {
	if err := s.sendFrame(func(o protocol.OutputBuffer) error {
		return protocol.EncodeDigitalWrite(o, pin, value == 1)
	}, false, func() {
		s.addConfigured(pin)
	}); err != nil {
		return err
	}
	s.registry.RecordCommandedValue(DigitalPin(pin), float64(value))
	return nil
}

func (s *Session) send(enc func(protocol.OutputBuffer) error) error {
	return s.sendFrame(enc, false, nil)
}

// sendFrame encodes one frame and writes it, then runs sent while still holding writeMu.
// force bypasses the closing check for the safety sweep in Close.
func (s *Session) sendFrame(enc func(protocol.OutputBuffer) error, force bool, sent func()) error {
	out := protocol.NewScratchOutput()
	if err := enc(out); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if out.Overflowed() {
		return fmt.Errorf("%w: frame exceeds %d bytes", ErrValidation, protocol.MessageMax)
	}
	frame := out.Result()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !force && (s.closing || !s.connected.Load()) {
		return s.notConnected()
	}

	n, err := s.port.Write(frame)
	if n > 0 {
		s.trace(DirectionOut, frame[:n])
	}
	if err != nil {
		if serial.IsDisconnect(err) {
			s.markDisconnected(err)
		}
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w: incomplete write: %d/%d bytes", ErrIO, n, len(frame))
	}
	if sent != nil {
		sent()
	}
	return nil
}

// handle applies a decoded message; it runs on the receive goroutine
func (s *Session) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.DigitalReport:
		s.registry.ApplyDigitalPort(m.Port, m.Mask)

	case protocol.AnalogReport:
		s.registry.RecordReport(AnalogPin(m.Channel), float64(m.Value))

	case protocol.VersionReport:
		s.mu.Lock()
		s.firmware.Protocol = m
		s.mu.Unlock()

	case protocol.FirmwareReport:
		s.mu.Lock()
		s.firmware.Firmware = m
		s.mu.Unlock()

	case protocol.CapabilityReport:
		s.registry.SetCapabilities(m.Pins)

	case protocol.AnalogMappingReport:
		s.registry.SetAnalogMapping(m.Channels)

	case protocol.StringData:
		s.log.Info().Str("text", m.Text).Msg("board message")

	case protocol.ProtocolError:
		s.protocolErrors.Add(1)
		s.log.Warn().Err(m).Msg("protocol error")
	}

	s.replies.deliver(msg)
}

func (s *Session) markDisconnected(err error) {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}
	s.causeMu.Lock()
	s.cause = err
	s.causeMu.Unlock()

	s.log.Error().Err(err).Msg("board disconnected")
	s.receiver.requestStop()
	s.signalDown()
}

func (s *Session) signalDown() {
	s.downOnce.Do(func() {
		close(s.down)
	})
}

func (s *Session) checkConnected() error {
	if !s.connected.Load() {
		return s.notConnected()
	}
	return nil
}

func (s *Session) notConnected() error {
	if cause := s.Err(); cause != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, cause)
	}
	return ErrNotConnected
}

// pause waits d unless the session goes down first
func (s *Session) pause(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if !s.sleep(d, s.down) {
		return s.notConnected()
	}
	return nil
}

func sleepFor(d time.Duration, cancel <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	}
}

func (s *Session) trace(dir Direction, data []byte) {
	if s.cfg.Tracer == nil {
		return
	}
	s.cfg.Tracer.Trace(TraceEvent{
		Timestamp: time.Now(),
		SessionID: s.id,
		Direction: dir,
		Data:      append([]byte(nil), data...),
	})
}

func (s *Session) warn(err error) {
	s.mu.Lock()
	s.warnings = append(s.warnings, err)
	s.mu.Unlock()

	s.log.Warn().Err(err).Msg("connect warning")
}

func (s *Session) addConfigured(pin uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.configured {
		if p == pin {
			return
		}
	}
	s.configured = append(s.configured, pin)
}

func (s *Session) configuredPins() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint8(nil), s.configured...)
}

// ID returns the unique identifier of this session, used in logs and traces
func (s *Session) ID() string {
	return s.id
}

// SafeValue returns the value output pins are driven to on close
func (s *Session) SafeValue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.safeValue
}

// ConfiguredOutputs returns every pin configured as output, in configuration order
func (s *Session) ConfiguredOutputs() []int {
	pins := s.configuredPins()
	out := make([]int, len(pins))
	for i, p := range pins {
		out[i] = int(p)
	}
	return out
}

// Warnings returns the non-fatal problems met while connecting
func (s *Session) Warnings() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.warnings...)
}

// Firmware returns the version information reported during the handshake
func (s *Session) Firmware() FirmwareInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firmware
}

// Capabilities returns the board's capability table, nil if it never sent one
func (s *Session) Capabilities() []protocol.PinCapability {
	return s.registry.Capabilities()
}

// Pins returns a snapshot of every tracked pin
func (s *Session) Pins() []PinState {
	return s.registry.Snapshot()
}

// ProtocolErrors returns how many malformed frames were received
func (s *Session) ProtocolErrors() uint64 {
	return s.protocolErrors.Load()
}

// Connected reports whether the session can still talk to the board
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Err returns why the board was disconnected, nil if it was not
func (s *Session) Err() error {
	s.causeMu.Lock()
	defer s.causeMu.Unlock()
	return s.cause
}

// LoopState returns the state of the background receive loop
func (s *Session) LoopState() LoopState {
	return s.receiver.State()
}

// I2C returns the board's I2C bus
func (s *Session) I2C() *I2CBus {
	return s.i2c
}
