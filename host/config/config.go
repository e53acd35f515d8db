// Package config loads session settings for the console from YAML
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"arduinoio/host/board"
)

// Duration is a time.Duration written as "50ms", "1s" and so on
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if parsed < 0 {
		return fmt.Errorf("line %d: negative duration %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Timing groups the device settle tunables
type Timing struct {
	Init        Duration `yaml:"init"`
	Handshake   Duration `yaml:"handshake"`
	Query       Duration `yaml:"query"`
	Settle      Duration `yaml:"settle"`
	DigitalRead Duration `yaml:"digital_read"`
	AnalogRetry Duration `yaml:"analog_retry"`
	Poll        Duration `yaml:"poll"`
	Sampling    Duration `yaml:"sampling"`
	ReadTimeout Duration `yaml:"read_timeout"`
}

// File is the on-disk configuration
type File struct {
	Device            string `yaml:"device"`
	Baud              int    `yaml:"baud"`
	OutputPins        []int  `yaml:"output_pins"`
	SafeValue         *int   `yaml:"safe_value"`
	QueryCapabilities *bool  `yaml:"query_capabilities"`
	AnalogPinOffset   *uint8 `yaml:"analog_pin_offset"`
	AnalogRetries     int    `yaml:"analog_retries"`
	I2CReadDelay      uint16 `yaml:"i2c_read_delay_us"`
	Timing            Timing `yaml:"timing"`
	LogLevel          string `yaml:"log_level"`
	TraceFile         string `yaml:"trace_file"`
}

// LoadError reports a configuration that could not be read or parsed
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// LoadConfig parses YAML configuration and fills in defaults.
// Unknown keys are rejected.
func LoadConfig(data []byte) (*File, error) {
	var cfg File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := LoadConfig(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in missing values from board.DefaultConfig
func applyDefaults(cfg *File) {
	def := board.DefaultConfig(cfg.Device)

	if cfg.Baud == 0 {
		cfg.Baud = def.Port.Baud
	}
	if cfg.SafeValue == nil {
		v := def.SafeValue
		cfg.SafeValue = &v
	}
	if cfg.QueryCapabilities == nil {
		v := def.QueryCapabilities
		cfg.QueryCapabilities = &v
	}
	if cfg.AnalogPinOffset == nil {
		v := def.AnalogPinOffset
		cfg.AnalogPinOffset = &v
	}
	if cfg.AnalogRetries == 0 {
		cfg.AnalogRetries = def.AnalogRetries
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = zerolog.InfoLevel.String()
	}

	t := &cfg.Timing
	if t.Init == 0 {
		t.Init = Duration(def.InitDelay)
	}
	if t.Handshake == 0 {
		t.Handshake = Duration(def.HandshakeTimeout)
	}
	if t.Query == 0 {
		t.Query = Duration(def.QueryTimeout)
	}
	if t.Settle == 0 {
		t.Settle = Duration(def.SettleDelay)
	}
	if t.DigitalRead == 0 {
		t.DigitalRead = Duration(def.DigitalReadDelay)
	}
	if t.AnalogRetry == 0 {
		t.AnalogRetry = Duration(def.AnalogRetryDelay)
	}
	if t.Poll == 0 {
		t.Poll = Duration(def.PollInterval)
	}
	if t.ReadTimeout == 0 {
		t.ReadTimeout = Duration(def.Port.ReadTimeout)
	}
}

func validate(cfg *File) error {
	if cfg.Device == "" {
		return &LoadError{Message: "device is required"}
	}
	if cfg.AnalogRetries < 0 {
		return &LoadError{Message: fmt.Sprintf("analog_retries must be positive, got %d", cfg.AnalogRetries)}
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return &LoadError{Message: "invalid log_level", Cause: err}
	}
	// safe_value outside 0/1 is left for the session to coerce and warn about
	return nil
}

// Level returns the configured log level
func (f *File) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(f.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// BoardConfig converts the file into session settings
func (f *File) BoardConfig(logger *zerolog.Logger, tracer board.Tracer) board.Config {
	cfg := board.DefaultConfig(f.Device)

	cfg.Port.Baud = f.Baud
	cfg.Port.ReadTimeout = time.Duration(f.Timing.ReadTimeout)
	cfg.OutputPins = append([]int(nil), f.OutputPins...)
	cfg.SafeValue = *f.SafeValue
	cfg.QueryCapabilities = *f.QueryCapabilities
	cfg.AnalogPinOffset = *f.AnalogPinOffset
	cfg.AnalogRetries = f.AnalogRetries
	cfg.I2CReadDelay = f.I2CReadDelay

	cfg.InitDelay = time.Duration(f.Timing.Init)
	cfg.HandshakeTimeout = time.Duration(f.Timing.Handshake)
	cfg.QueryTimeout = time.Duration(f.Timing.Query)
	cfg.SettleDelay = time.Duration(f.Timing.Settle)
	cfg.DigitalReadDelay = time.Duration(f.Timing.DigitalRead)
	cfg.AnalogRetryDelay = time.Duration(f.Timing.AnalogRetry)
	cfg.PollInterval = time.Duration(f.Timing.Poll)
	cfg.SamplingInterval = time.Duration(f.Timing.Sampling)

	cfg.Logger = logger
	cfg.Tracer = tracer
	return cfg
}

// Default returns the configuration used when no file is given
func Default(device string) *File {
	f := &File{Device: device}
	applyDefaults(f)
	return f
}
