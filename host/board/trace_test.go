package board

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{ n int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("disk full")
}

func TestCBORTracer(t *testing.T) {
	var buf bytes.Buffer
	tr := NewCBORTracer(&buf)

	at := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	tr.Trace(TraceEvent{Timestamp: at, SessionID: "s1", Direction: DirectionOut, Data: []byte{0xF9}})
	tr.Trace(TraceEvent{Timestamp: at, SessionID: "s1", Direction: DirectionIn, Data: []byte{0xF9, 2, 5}})
	require.NoError(t, tr.Err())

	events, err := ReadTrace(&buf)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, at.Equal(events[0].Timestamp))
	assert.Equal(t, DirectionIn, events[1].Direction)
	assert.Equal(t, []byte{0xF9, 2, 5}, events[1].Data)
	assert.Equal(t, "in", events[1].Direction.String())
}

func TestCBORTracerStopsAfterError(t *testing.T) {
	w := &failingWriter{}
	tr := NewCBORTracer(w)

	tr.Trace(TraceEvent{SessionID: "s1"})
	tr.Trace(TraceEvent{SessionID: "s1"})

	assert.Error(t, tr.Err())
	assert.Equal(t, 1, w.n)
}

func TestReadTraceCorrupt(t *testing.T) {
	_, err := ReadTrace(bytes.NewReader([]byte{0xA1, 0x01}))
	assert.Error(t, err)
}
