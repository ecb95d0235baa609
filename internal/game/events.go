package game

// Event is an entry in the session's event queue. The queue decouples things
// that happen during a simulation step from the observers that react to them
// one tick later; AI scripting and UI layers subscribe through handlers.
type Event struct {
	Name      string
	PlayerID  uint32
	CallCount uint32
	Data      string
}

// EventHandler observes delivered events.
type EventHandler func(Event)

// EventManager owns the session event queue. Queued events are delivered
// once per advance call, after the canvas hook and the generic observers, in
// queue order.
type EventManager struct {
	queue    []Event
	handlers []EventHandler

	delivered uint64
}

// NewEventManager returns an empty event manager.
func NewEventManager() *EventManager {
	return &EventManager{}
}

// Subscribe registers a handler. Handlers run in registration order.
func (m *EventManager) Subscribe(h EventHandler) {
	m.handlers = append(m.handlers, h)
}

// QueueEvent appends an event for delivery on the next advance call.
func (m *EventManager) QueueEvent(ev Event) {
	m.queue = append(m.queue, ev)
}

// QueuedEventCount returns the number of undelivered events.
func (m *EventManager) QueuedEventCount() int {
	return len(m.queue)
}

// DeliveredEventCount returns the total number of events delivered so far.
func (m *EventManager) DeliveredEventCount() uint64 {
	return m.delivered
}

// Advance delivers every queued event to the handlers. Events queued by a
// handler during delivery are held for the next call — delivery drains the
// queue as it was at the start of the call, so a handler cannot extend the
// current tick.
func (m *EventManager) Advance(callCount uint32) {
	if len(m.queue) == 0 {
		return
	}
	pending := m.queue
	m.queue = nil
	for _, ev := range pending {
		for _, h := range m.handlers {
			h(ev)
		}
		m.delivered++
	}
}
