package fanout

import (
	"sync"

	"github.com/syncmarks/syncmarks/internal/domain"
	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/protocol"
	"github.com/syncmarks/syncmarks/internal/registry"
)

// Outbox is one session's bounded outbound frame queue. The transport's
// write pump drains Frames(); a closed channel means the session was
// dropped and the connection must be torn down.
type Outbox struct {
	ch   chan protocol.ServerFrame
	once sync.Once
}

// Frames exposes the outbound queue for the write pump.
func (o *Outbox) Frames() <-chan protocol.ServerFrame {
	return o.ch
}

func (o *Outbox) close() {
	o.once.Do(func() { close(o.ch) })
}

// Dispatcher fans accepted events out to every other session of an
// account. Backpressure policy: a session whose outbox is full is
// disconnected and must catch up via replay on reconnect, rather than
// buffer without bound.
type Dispatcher struct {
	reg    *registry.Registry
	log    logger.Logger
	buffer int

	mu       sync.Mutex
	outboxes map[string]*Outbox
}

// NewDispatcher creates a dispatcher delivering through the given
// registry with the given per-session buffer bound.
func NewDispatcher(reg *registry.Registry, log logger.Logger, buffer int) *Dispatcher {
	return &Dispatcher{
		reg:      reg,
		log:      log,
		buffer:   buffer,
		outboxes: make(map[string]*Outbox),
	}
}

// Attach creates the outbox for a registered session.
func (d *Dispatcher) Attach(sessionID string) *Outbox {
	o := &Outbox{ch: make(chan protocol.ServerFrame, d.buffer)}

	d.mu.Lock()
	d.outboxes[sessionID] = o
	d.mu.Unlock()

	return o
}

// Drop disconnects a session: unregisters it and closes its outbox.
// Idempotent; safe to call from the transport and the sweeper alike.
func (d *Dispatcher) Drop(sessionID string) {
	d.mu.Lock()
	o := d.outboxes[sessionID]
	delete(d.outboxes, sessionID)
	d.mu.Unlock()

	d.reg.Unregister(sessionID)
	if o != nil {
		o.close()
	}
}

// Send enqueues a frame for one session. Reports false when the session
// is unknown or was dropped for backpressure by this call.
func (d *Dispatcher) Send(sessionID string, frame protocol.ServerFrame) bool {
	d.mu.Lock()
	o := d.outboxes[sessionID]
	d.mu.Unlock()

	if o == nil {
		return false
	}
	select {
	case o.ch <- frame:
		return true
	default:
		d.log.Warn("session outbox full, disconnecting for catch-up",
			logger.String("session_id", sessionID))
		d.Drop(sessionID)
		return false
	}
}

// Publish delivers an accepted event and its advisories to every other
// session of the account. Implements merge.Publisher; called inside the
// engine's per-account critical section, so it must never block — a
// slow consumer is dropped instead.
func (d *Dispatcher) Publish(accountID, originSessionID string, ev *domain.AcceptedEvent, dups []domain.DuplicateAdvisory) {
	for _, s := range d.reg.ListByAccount(accountID) {
		if s.SessionID == originSessionID {
			continue
		}
		if !d.Send(s.SessionID, protocol.Event(ev)) {
			continue
		}
		for i := range dups {
			if !d.Send(s.SessionID, protocol.Duplicate(&dups[i])) {
				break
			}
		}
	}
}
