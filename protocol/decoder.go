package protocol

import (
	"fmt"
	"iter"
)

// Decoder turns a byte stream from the device into messages.
// Bytes of a frame split across reads are kept until the rest arrives.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf *FifoBuffer
}

// NewDecoder creates a decoder with an empty partial-frame buffer
func NewDecoder() *Decoder {
	return &Decoder{buf: NewFifoBuffer(256)}
}

// Feed appends data to the pending input and returns the complete messages now available.
// The sequence is finite; leftover bytes stay buffered for the next call.
// Stopping the iteration early leaves the remaining frames queued.
func (d *Decoder) Feed(data []byte) iter.Seq[Message] {
	if len(data) > 0 {
		d.buf.Write(data)
	}
	return func(yield func(Message) bool) {
		for !d.buf.IsEmpty() {
			msg, n := parseFrame(d.buf.Data())
			if n == 0 {
				return
			}
			d.buf.Pop(n)
			if !yield(msg) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes waiting for the rest of their frame
func (d *Decoder) Buffered() int {
	return d.buf.Available()
}

// parseFrame decodes the frame at the start of data.
// It returns the message and the number of bytes consumed, or 0 if the frame is incomplete.
func parseFrame(data []byte) (Message, int) {
	cmd := data[0]

	if cmd&0x80 == 0 {
		// Stray data: skip to the next command byte
		n := skipData(data, 1)
		return ProtocolError{Opcode: cmd, Err: ErrUnexpectedData}, n
	}

	switch {
	case cmd == StartSysex:
		return parseSysexFrame(data)

	case cmd&0xF0 == DigitalMessage, cmd&0xF0 == AnalogMessage, cmd == ReportVersion:
		for i := 1; i < len(data) && i < 3; i++ {
			if data[i]&0x80 != 0 {
				return ProtocolError{Opcode: cmd, Err: ErrTruncatedFrame}, i
			}
		}
		if len(data) < 3 {
			return nil, 0
		}
		lsb, msb := data[1], data[2]
		switch {
		case cmd == ReportVersion:
			return VersionReport{Major: lsb, Minor: msb}, 3
		case cmd&0xF0 == DigitalMessage:
			return DigitalReport{Port: cmd & 0x0F, Mask: uint16(lsb) | uint16(msb)<<7}, 3
		default:
			return AnalogReport{Channel: cmd & 0x0F, Value: uint16(lsb) | uint16(msb)<<7}, 3
		}
	}

	return ProtocolError{Opcode: cmd, Err: ErrUnknownCommand}, skipData(data, 1)
}

// skipData returns the index of the first command byte at or after from
func skipData(data []byte, from int) int {
	n := from
	for n < len(data) && data[n]&0x80 == 0 {
		n++
	}
	return n
}

func parseSysexFrame(data []byte) (Message, int) {
	for i := 1; i < len(data); i++ {
		b := data[i]
		if b == EndSysex {
			return parseSysex(data[1:i]), i + 1
		}
		if b&0x80 != 0 {
			// Resume at the interrupting command byte
			return ProtocolError{Opcode: StartSysex, Err: ErrTruncatedFrame}, i
		}
		if i > SysexMax {
			return ProtocolError{Opcode: StartSysex, Err: ErrSysexTooLong}, skipData(data, i)
		}
	}
	return nil, 0
}

func parseSysex(payload []byte) Message {
	if len(payload) == 0 {
		return ProtocolError{Opcode: StartSysex, Err: ErrMalformedSysex}
	}
	cmd, body := payload[0], payload[1:]
	malformed := func(format string, args ...any) Message {
		return ProtocolError{Opcode: cmd, Err: fmt.Errorf("%w: "+format, append([]any{ErrMalformedSysex}, args...)...)}
	}

	switch cmd {
	case SysexReportFirmware:
		if len(body) < 2 {
			return malformed("firmware report of %d bytes", len(body))
		}
		name, err := DecodeSevenBitString(body[2:])
		if err != nil {
			return malformed("firmware name: %v", err)
		}
		return FirmwareReport{Major: body[0], Minor: body[1], Name: name}

	case SysexCapabilityResponse:
		var pins []PinCapability
		cur := PinCapability{Modes: map[PinMode]uint8{}}
		for i := 0; i < len(body); {
			if body[i] == 0x7F {
				pins = append(pins, cur)
				cur = PinCapability{Modes: map[PinMode]uint8{}}
				i++
				continue
			}
			if i+1 >= len(body) {
				return malformed("capability entry without resolution")
			}
			cur.Modes[PinMode(body[i])] = body[i+1]
			i += 2
		}
		if len(cur.Modes) > 0 {
			return malformed("unterminated capability entry")
		}
		return CapabilityReport{Pins: pins}

	case SysexAnalogMappingResponse:
		channels := make([]uint8, len(body))
		copy(channels, body)
		return AnalogMappingReport{Channels: channels}

	case SysexPinStateResponse:
		if len(body) < 2 {
			return malformed("pin state of %d bytes", len(body))
		}
		var state uint32
		for i, b := range body[2:] {
			if i >= 4 {
				break
			}
			state |= uint32(b&0x7F) << (7 * i)
		}
		return PinStateReport{Pin: body[0], Mode: PinMode(body[1]), State: state}

	case SysexI2CReply:
		addr, err := DecodeUint14(&body)
		if err != nil {
			return malformed("i2c address: %v", err)
		}
		reg, err := DecodeUint14(&body)
		if err != nil {
			return malformed("i2c register: %v", err)
		}
		b, err := DecodeSevenBitBytes(body)
		if err != nil {
			return malformed("i2c data: %v", err)
		}
		return I2CReply{Address: addr, Register: reg, Data: b}

	case SysexStringData:
		text, err := DecodeSevenBitString(body)
		if err != nil {
			return malformed("string data: %v", err)
		}
		return StringData{Text: text}
	}

	return ProtocolError{Opcode: cmd, Err: ErrUnknownSysex}
}
