// Package inproc provides an in-memory transport binding pair. Frames
// delivered on one endpoint arrive asynchronously at the other, which makes
// it suitable for tests and for hosting both sides of the boundary inside
// one process.
package inproc

import (
	"fmt"
	"sync"
)

// Endpoint is one side of an in-memory transport pair.
type Endpoint struct {
	mu        sync.Mutex
	peer      *Endpoint
	onMessage func([]byte)
	onStatus  func(bool)
	closed    bool
}

// Pair returns two connected endpoints. A frame delivered on one arrives
// at the other's bound message callback.
func Pair() (*Endpoint, *Endpoint) {
	a := &Endpoint{}
	b := &Endpoint{}
	a.peer = b
	b.peer = a
	return a, b
}

// Deliver hands a frame to the peer. The frame is dispatched on its own
// goroutine so delivery never re-enters the caller's stack, matching the
// asynchronous boundary the binding models.
func (e *Endpoint) Deliver(data []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	peer := e.peer
	e.mu.Unlock()

	frame := append([]byte(nil), data...)
	go peer.receive(frame)
	return nil
}

// Bind registers the inbound callbacks for this endpoint.
func (e *Endpoint) Bind(onMessage func([]byte), onStatus func(bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMessage = onMessage
	e.onStatus = onStatus
}

// Close shuts this endpoint down and signals disconnect to the peer.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	peer := e.peer
	e.mu.Unlock()

	peer.notifyStatus(false)
	return nil
}

// Interrupt simulates a transient transport failure: both sides observe a
// disconnect but the pair stays usable, so reconnection can be exercised.
func (e *Endpoint) Interrupt() {
	e.notifyStatus(false)
	e.peer.notifyStatus(false)
}

func (e *Endpoint) receive(frame []byte) {
	e.mu.Lock()
	onMessage := e.onMessage
	closed := e.closed
	e.mu.Unlock()

	if closed || onMessage == nil {
		return
	}
	onMessage(frame)
}

func (e *Endpoint) notifyStatus(connected bool) {
	e.mu.Lock()
	onStatus := e.onStatus
	closed := e.closed
	e.mu.Unlock()

	if closed || onStatus == nil {
		return
	}
	onStatus(connected)
}
