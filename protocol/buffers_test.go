package protocol

import "testing"

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput()

	data1 := []byte{1, 2, 3}
	scratch.Output(data1)

	result := scratch.Result()
	if len(result) != 3 {
		t.Errorf("Expected 3 bytes in result, got %d", len(result))
	}

	data2 := []byte{4, 5}
	scratch.Output(data2)

	result = scratch.Result()
	if len(result) != 5 || result[2] != 3 || result[4] != 5 {
		t.Errorf("Expected [1 2 3 4 5], got %v", result)
	}
}

func TestScratchOutputOverflow(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output(make([]byte, MessageMax))
	if scratch.Overflowed() {
		t.Fatal("Exactly MessageMax bytes should fit")
	}
	scratch.Output([]byte{1})
	if !scratch.Overflowed() {
		t.Error("Expected overflow after exceeding MessageMax")
	}
	if len(scratch.Result()) != MessageMax {
		t.Errorf("Truncated output should keep MessageMax bytes, got %d", len(scratch.Result()))
	}
}

func TestFifoBuffer(t *testing.T) {
	fifo := NewFifoBuffer(10)

	if !fifo.IsEmpty() {
		t.Error("New FIFO should be empty")
	}

	if fifo.Available() != 0 {
		t.Errorf("Empty FIFO should have 0 available, got %d", fifo.Available())
	}

	data := []byte{1, 2, 3, 4, 5}
	written := fifo.Write(data)

	if written != 5 {
		t.Errorf("Expected to write 5 bytes, wrote %d", written)
	}

	if fifo.Available() != 5 {
		t.Errorf("Expected 5 bytes available, got %d", fifo.Available())
	}

	if d := fifo.Data(); d[0] != 1 || d[1] != 2 || d[2] != 3 {
		t.Errorf("Data mismatch: got %v", d)
	}

	fifo.Pop(3)
	if fifo.Available() != 2 {
		t.Errorf("After popping 3, expected 2 available, got %d", fifo.Available())
	}

	fifo.Pop(1)
	if fifo.Available() != 1 {
		t.Errorf("After popping 1, expected 1 available, got %d", fifo.Available())
	}

	fifo.Pop(10)
	if !fifo.IsEmpty() {
		t.Errorf("Popping more than available should empty the FIFO, %d left", fifo.Available())
	}
}

func TestFifoBufferGrows(t *testing.T) {
	fifo := NewFifoBuffer(10)

	bigData := make([]byte, 25)
	for i := range bigData {
		bigData[i] = byte(i)
	}
	written := fifo.Write(bigData)
	if written != 25 {
		t.Fatalf("Expected to write 25 bytes, wrote %d", written)
	}
	if fifo.Free() < 1 {
		t.Errorf("Grown FIFO should have room left, got %d free", fifo.Free())
	}

	got := fifo.Data()
	for i := range bigData {
		if got[i] != bigData[i] {
			t.Fatalf("Byte %d mismatch after grow: expected %d, got %d", i, bigData[i], got[i])
		}
	}
}

func TestFifoBufferWrapAround(t *testing.T) {
	fifo := NewFifoBuffer(5)

	fifo.Write([]byte{1, 2, 3, 4})

	fifo.Pop(2)

	// Write more (will wrap around)
	written := fifo.Write([]byte{5, 6})
	if written != 2 {
		t.Errorf("Expected to write 2 bytes, wrote %d", written)
	}

	if d := fifo.Data(); len(d) != 4 || d[0] != 3 || d[3] != 6 {
		t.Errorf("Wrapped Data() mismatch: got %v", d)
	}

	// Grow while wrapped keeps order
	fifo.Write([]byte{7, 8, 9})

	allData := fifo.Data()
	if len(allData) != 7 {
		t.Fatalf("Expected 7 bytes, got %d", len(allData))
	}
	for i, want := range []byte{3, 4, 5, 6, 7, 8, 9} {
		if allData[i] != want {
			t.Errorf("Wrap-around data mismatch: got %v", allData)
			break
		}
	}
}
