package board

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a traced chunk relative to the host
type Direction uint8

const (
	DirectionOut Direction = iota
	DirectionIn
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// TraceEvent is one frame written to, or one chunk read from, the board
type TraceEvent struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	SessionID string    `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Data      []byte    `cbor:"4,keyasint"`
}

// Tracer receives a copy of the traffic of a session. Implementations must be thread-safe.
type Tracer interface {
	Trace(event TraceEvent)
}

var (
	traceEncMode cbor.EncMode
	traceDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	traceEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}
	traceDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR decoder mode: %v", err))
	}
}

// CBORTracer appends trace events to a writer as a CBOR sequence
type CBORTracer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	err error
}

// NewCBORTracer creates a tracer writing to w
func NewCBORTracer(w io.Writer) *CBORTracer {
	return &CBORTracer{enc: traceEncMode.NewEncoder(w)}
}

// Trace encodes the event. After the first write error further events are dropped.
func (t *CBORTracer) Trace(event TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return
	}
	t.err = t.enc.Encode(event)
}

// Err returns the first encoding error, if any
func (t *CBORTracer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// ReadTrace decodes every event of a CBOR trace
func ReadTrace(r io.Reader) ([]TraceEvent, error) {
	dec := traceDecMode.NewDecoder(r)

	var events []TraceEvent
	for {
		var ev TraceEvent
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, err
		}
		events = append(events, ev)
	}
}

var _ Tracer = (*CBORTracer)(nil)
