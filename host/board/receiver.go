package board

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"arduinoio/host/serial"
	"arduinoio/protocol"
)

// LoopState is the lifecycle state of a Receiver
type LoopState int32

const (
	LoopIdle LoopState = iota
	LoopRunning
	LoopDraining
	LoopStopped
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopRunning:
		return "running"
	case LoopDraining:
		return "draining"
	case LoopStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MessageHandler receives decoded messages in wire order
type MessageHandler func(msg protocol.Message)

// Receiver is the background task that pulls bytes from the port,
// decodes them and hands every message to the handler.
type Receiver struct {
	port         serial.Port
	decoder      *protocol.Decoder
	handler      MessageHandler
	onDisconnect func(error)
	onData       func([]byte)
	pollInterval time.Duration

	state atomic.Int32

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewReceiver creates an idle receiver. onDisconnect is called at most once,
// from the receive goroutine, when a read fails.
func NewReceiver(port serial.Port, handler MessageHandler, onDisconnect func(error), pollInterval time.Duration) *Receiver {
	return &Receiver{
		port:         port,
		decoder:      protocol.NewDecoder(),
		handler:      handler,
		onDisconnect: onDisconnect,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// SetDataTap registers a callback that sees every raw chunk read from the port
func (r *Receiver) SetDataTap(tap func([]byte)) {
	r.onData = tap
}

// Start launches the receive goroutine
func (r *Receiver) Start() {
	r.startOnce.Do(func() {
		if !r.state.CompareAndSwap(int32(LoopIdle), int32(LoopRunning)) {
			return
		}
		go r.run()
	})
}

// Stop asks the loop to finish and waits until its goroutine has exited.
// Frames already buffered by the decoder are still delivered.
func (r *Receiver) Stop() {
	r.requestStop()
	r.startOnce.Do(func() {
		// Never started: there is no goroutine to wait for
		r.state.Store(int32(LoopStopped))
		close(r.doneChan)
	})
	<-r.doneChan
}

// requestStop asks the loop to finish without waiting for it.
// It is safe to call from the loop goroutine itself.
func (r *Receiver) requestStop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}

// State returns the current loop state
func (r *Receiver) State() LoopState {
	return LoopState(r.state.Load())
}

// Done is closed once the receive goroutine has exited
func (r *Receiver) Done() <-chan struct{} {
	return r.doneChan
}

func (r *Receiver) run() {
	defer close(r.doneChan)
	defer func() {
		if p := recover(); p != nil {
			r.fail(fmt.Errorf("receive loop panic: %v", p))
		}
	}()

	var idle *time.Timer
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()

	for {
		select {
		case <-r.stopChan:
			r.drain()
			return
		default:
		}

		data, err := r.port.ReadAvailable()
		if err != nil {
			r.fail(err)
			return
		}

		if len(data) == 0 {
			// Nothing ready; back off instead of spinning
			if idle == nil {
				idle = time.NewTimer(r.pollInterval)
			} else {
				idle.Reset(r.pollInterval)
			}
			select {
			case <-r.stopChan:
				r.drain()
				return
			case <-idle.C:
			}
			continue
		}

		if r.onData != nil {
			r.onData(data)
		}
		for msg := range r.decoder.Feed(data) {
			r.handler(msg)
		}
	}
}

func (r *Receiver) drain() {
	r.state.Store(int32(LoopDraining))
	for msg := range r.decoder.Feed(nil) {
		r.handler(msg)
	}
	r.state.Store(int32(LoopStopped))
}

func (r *Receiver) fail(err error) {
	r.state.Store(int32(LoopStopped))
	if r.onDisconnect != nil {
		r.onDisconnect(err)
	}
}
