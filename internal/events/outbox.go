// Package events carries protocol events out of the process. The engine
// emits into an Outbox, the store persists the outbox alongside the state
// change, and a Relay later publishes the pending rows.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sells-group/pulse-cli/internal/model"
)

// Outbox buffers emitted events until the surrounding state change is
// committed. It implements protocol.EventSink.
type Outbox struct {
	mu     sync.Mutex
	events []model.Event
	newID  func() string
}

// NewOutbox returns an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{newID: uuid.NewString}
}

// Emit assigns ev an id and buffers it.
func (o *Outbox) Emit(ev model.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ev.ID == "" {
		ev.ID = o.newID()
	}
	o.events = append(o.events, ev)
}

// Drain returns the buffered events in emission order and empties the
// outbox.
func (o *Outbox) Drain() []model.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.events
	o.events = nil
	return out
}

// Len returns the number of buffered events.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}
