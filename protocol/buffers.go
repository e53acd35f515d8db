package protocol

// OutputBuffer provides an abstraction for writing outgoing protocol data
type OutputBuffer interface {
	// Output writes data to the buffer
	Output(data []byte)
}

// ScratchOutput implements OutputBuffer using a fixed-size scratch buffer
type ScratchOutput struct {
	buf      [MessageMax]byte
	pos      int
	overflow bool
}

// NewScratchOutput creates a new ScratchOutput
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{pos: 0}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.overflow = true
	}
}

// Result returns the accumulated output data
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Overflowed reports whether any Output call was truncated
func (s *ScratchOutput) Overflowed() bool {
	return s.overflow
}

// FifoBuffer is a circular buffer holding received bytes until a full frame is available.
// Unlike a fixed firmware FIFO it grows when a write does not fit, so a partial
// sysex frame is never dropped.
type FifoBuffer struct {
	buf   []byte
	read  int
	write int
	size  int
}

// NewFifoBuffer creates a new FifoBuffer with the specified initial capacity
func NewFifoBuffer(capacity int) *FifoBuffer {
	if capacity < 2 {
		capacity = 2
	}
	return &FifoBuffer{
		buf:  make([]byte, capacity),
		size: capacity,
	}
}

// Write appends data to the FIFO buffer, growing it as needed
func (f *FifoBuffer) Write(data []byte) int {
	if need := len(data) - f.Free(); need > 0 {
		f.grow(need)
	}
	for _, b := range data {
		f.buf[f.write] = b
		f.write = (f.write + 1) % f.size
	}
	return len(data)
}

// grow reallocates the ring so at least extra more bytes fit, unwrapping it in the process
func (f *FifoBuffer) grow(extra int) {
	avail := f.Available()
	newSize := f.size * 2
	for newSize-avail-1 < extra+f.Free() {
		newSize *= 2
	}
	next := make([]byte, newSize)
	copy(next, f.Data())
	f.buf = next
	f.size = newSize
	f.read = 0
	f.write = avail
}

// Available returns the number of bytes available for reading
func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Free returns the number of bytes that can be written without growing
func (f *FifoBuffer) Free() int {
	return f.size - f.Available() - 1
}

// Data returns available data as a slice
// When wrapped, this copies data into a contiguous slice for frame parsing
func (f *FifoBuffer) Data() []byte {
	if f.read <= f.write {
		// Simple case: data is contiguous
		return f.buf[f.read:f.write]
	}
	avail := f.Available()
	result := make([]byte, avail)

	firstLen := f.size - f.read
	copy(result, f.buf[f.read:])
	copy(result[firstLen:], f.buf[:f.write])

	return result
}

// Pop removes n bytes from the front
func (f *FifoBuffer) Pop(n int) {
	if n >= f.Available() {
		f.read = f.write
		return
	}
	f.read = (f.read + n) % f.size
}

// IsEmpty returns true if the buffer is empty
func (f *FifoBuffer) IsEmpty() bool {
	return f.read == f.write
}
