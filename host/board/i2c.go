package board

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/drivers"

	"arduinoio/protocol"
)

// I2CBus drives the board's I2C controller through Firmata I2C requests.
// It satisfies drivers.I2C so TinyGo device drivers can run on the host against a
// sensor wired to the board.
type I2CBus struct {
	s *Session

	mu         sync.Mutex
	configured bool
}

var _ drivers.I2C = (*I2CBus)(nil)

// Tx writes w to the device at addr, then reads len(r) bytes into r.
// A single byte w followed by a read is sent as a register read.
func (b *I2CBus) Tx(addr uint16, w, r []byte) error {
	return b.TxContext(context.Background(), addr, w, r)
}

// TxContext is Tx with a context bounding the wait for the reply
func (b *I2CBus) TxContext(ctx context.Context, addr uint16, w, r []byte) error {
	s := b.s
	if err := s.checkConnected(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.configure(); err != nil {
		return err
	}

	register := protocol.NoRegister
	switch {
	case len(r) == 0 || len(w) > 1:
		if err := s.send(func(o protocol.OutputBuffer) error {
			return protocol.EncodeI2CWrite(o, addr, w)
		}); err != nil {
			return fmt.Errorf("i2c write 0x%02x: %w", addr, err)
		}
		if len(r) == 0 {
			return nil
		}
	case len(w) == 1:
		register = int(w[0])
	}

	s.queryMu.Lock()
	defer s.queryMu.Unlock()

	s.replies.drain(protocol.KindI2CReply)
	if err := s.send(func(o protocol.OutputBuffer) error {
		return protocol.EncodeI2CRead(o, addr, register, len(r))
	}); err != nil {
		return fmt.Errorf("i2c read 0x%02x: %w", addr, err)
	}

	msg, err := s.replies.await(ctx, protocol.KindI2CReply, s.cfg.QueryTimeout, s.down, func(m protocol.Message) bool {
		return m.(protocol.I2CReply).Address == addr
	})
	if err != nil {
		return fmt.Errorf("i2c read 0x%02x: %w", addr, err)
	}

	reply := msg.(protocol.I2CReply)
	if len(reply.Data) < len(r) {
		return fmt.Errorf("%w: i2c read 0x%02x: got %d of %d bytes", ErrIO, addr, len(reply.Data), len(r))
	}
	copy(r, reply.Data)
	return nil
}

// ReadRegister reads len(buf) bytes starting at register reg
func (b *I2CBus) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	return b.Tx(uint16(addr), []byte{reg}, buf)
}

// WriteRegister writes buf starting at register reg
func (b *I2CBus) WriteRegister(addr uint8, reg uint8, buf []byte) error {
	w := make([]byte, 0, len(buf)+1)
	w = append(w, reg)
	w = append(w, buf...)
	return b.Tx(uint16(addr), w, nil)
}

// configure enables the controller on first use; callers hold b.mu
func (b *I2CBus) configure() error {
	if b.configured {
		return nil
	}
	if err := b.s.send(func(o protocol.OutputBuffer) error {
		return protocol.EncodeI2CConfig(o, b.s.cfg.I2CReadDelay)
	}); err != nil {
		return fmt.Errorf("i2c config: %w", err)
	}
	b.configured = true
	b.s.log.Debug().Uint16("read_delay_us", b.s.cfg.I2CReadDelay).Msg("i2c enabled")
	return nil
}
