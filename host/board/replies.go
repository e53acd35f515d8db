package board

import (
	"context"
	"fmt"
	"time"

	"arduinoio/protocol"
)

// mailbox holds the latest unsolicited reply of each queried kind.
// Each kind keeps only the most recent message; older ones are dropped.
type mailbox struct {
	chans map[protocol.Kind]chan protocol.Message
}

func newMailbox(kinds ...protocol.Kind) *mailbox {
	m := &mailbox{chans: make(map[protocol.Kind]chan protocol.Message, len(kinds))}
	for _, k := range kinds {
		m.chans[k] = make(chan protocol.Message, 1)
	}
	return m
}

// deliver stores msg, replacing any unread message of the same kind
func (m *mailbox) deliver(msg protocol.Message) {
	ch, ok := m.chans[msg.Kind()]
	if !ok {
		return
	}
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// drain discards a pending message of kind
func (m *mailbox) drain(kind protocol.Kind) {
	select {
	case <-m.chans[kind]:
	default:
	}
}

// await waits for a message of kind accepted by match
func (m *mailbox) await(ctx context.Context, kind protocol.Kind, timeout time.Duration, done <-chan struct{}, match func(protocol.Message) bool) (protocol.Message, error) {
	ch, ok := m.chans[kind]
	if !ok {
		return nil, fmt.Errorf("no mailbox for %s", kind)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-ch:
			if match == nil || match(msg) {
				return msg, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: no %s after %v", ErrTimeout, kind, timeout)
		case <-done:
			return nil, ErrNotConnected
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
