package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"arduinoio/host/board"
	"arduinoio/host/config"
)

var (
	configPath = flag.String("config", "", "YAML configuration file")
	devicePath = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud       = flag.Int("baud", 0, "Baud rate (default 57600)")
	outputs    = flag.String("outputs", "", "Comma separated pins to configure as outputs, e.g. 8,13")
	safe       = flag.Int("safe", 1, "Value written to output pins on connect and exit")
	tracePath  = flag.String("trace", "", "Write a CBOR trace of all serial traffic to this file")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "arduino> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	level := cfg.Level()
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: rl.Stderr(), TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()

	var tracer *board.CBORTracer
	if cfg.TraceFile != "" {
		f, err := os.Create(cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer f.Close()
		tracer = board.NewCBORTracer(f)
	}

	bcfg := cfg.BoardConfig(&logger, nil)
	if tracer != nil {
		bcfg.Tracer = tracer
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprintf(rl.Stdout(), "Connecting to board on %s...\n", cfg.Device)
	session, err := board.Connect(ctx, bcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error().Err(err).Msg("pins not returned to safe state")
		}
		if tracer != nil && tracer.Err() != nil {
			logger.Error().Err(tracer.Err()).Msg("trace incomplete")
		}
	}()

	for _, w := range session.Warnings() {
		fmt.Fprintf(rl.Stdout(), "Warning: %v\n", w)
	}
	fmt.Fprintf(rl.Stdout(), "Connected: %s\n", session.Firmware())
	fmt.Fprintln(rl.Stdout(), "Enter commands (type 'help' for available commands, 'quit' to exit):")

	c := &console{
		dev:     session,
		bus:     session.I2C(),
		out:     rl.Stdout(),
		timeout: bcfg.QueryTimeout,
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			break
		}
		if c.execute(line) {
			break
		}
		if !session.Connected() {
			return fmt.Errorf("%w: %v", board.ErrNotConnected, session.Err())
		}
	}

	fmt.Fprintln(rl.Stdout(), "Goodbye!")
	return nil
}

// loadConfig reads -config if given, then applies the other flags on top
func loadConfig() (*config.File, error) {
	var (
		cfg *config.File
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default(*devicePath)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["device"] {
		cfg.Device = *devicePath
	}
	if set["baud"] {
		cfg.Baud = *baud
	}
	if set["safe"] {
		v := *safe
		cfg.SafeValue = &v
	}
	if set["trace"] {
		cfg.TraceFile = *tracePath
	}
	if set["outputs"] {
		cfg.OutputPins = nil
		for _, s := range strings.Split(*outputs, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			pin, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("invalid output pin %q", s)
			}
			cfg.OutputPins = append(cfg.OutputPins, pin)
		}
	}
	return cfg, nil
}
