package game

import (
	log "github.com/sirupsen/logrus"

	"ironfront/internal/protocol"
)

// DelayedMessage is a buffered network message together with the bookkeeping
// the dispatcher stamped on arrival.
type DelayedMessage struct {
	Msg protocol.Message

	// ArrivalOrder is the session-wide arrival sequence number.
	ArrivalOrder uint64

	// CallCount is the advance-call counter at the moment of arrival.
	CallCount uint32
}

// MessageDelayer is the total ordering gate over inbound messages during
// synchronization-sensitive windows. While locked, messages buffer in arrival
// order; on the lock depth reaching zero they are flushed strictly FIFO
// through the dispatcher before any newly arriving message is processed.
//
// The lock is a depth counter, not a boolean: the advance scheduler holds it
// for the span of a call sequence while the synchronizer may hold it across a
// resync, and the two must nest without releasing each other's window.
type MessageDelayer struct {
	lockDepth int
	queue     []DelayedMessage

	// dispatch delivers a released message into the session's dispatch
	// switch. Set once at session construction.
	dispatch func(DelayedMessage)

	advanceID protocol.MessageID
}

// NewMessageDelayer creates an open delayer delivering into dispatch.
func NewMessageDelayer(dispatch func(DelayedMessage)) *MessageDelayer {
	return &MessageDelayer{
		dispatch:  dispatch,
		advanceID: protocol.AdvanceN,
	}
}

// Lock increments the lock depth. Messages buffer until Unlock brings the
// depth back to zero.
func (d *MessageDelayer) Lock() {
	d.lockDepth++
}

// Unlock decrements the lock depth and, on reaching zero, flushes the buffer
// FIFO. A dispatch during the flush may re-lock; the flush then stops with
// the remainder still buffered.
func (d *MessageDelayer) Unlock() {
	if d.lockDepth <= 0 {
		log.Errorf("message delayer: unlock without matching lock (depth %d)", d.lockDepth)
		d.lockDepth = 0
		return
	}
	d.lockDepth--
	if d.lockDepth > 0 {
		return
	}
	for d.lockDepth == 0 && len(d.queue) > 0 {
		dm := d.queue[0]
		d.queue = d.queue[1:]
		d.dispatch(dm)
	}
}

// IsLocked reports whether delivery is currently gated.
func (d *MessageDelayer) IsLocked() bool {
	return d.lockDepth > 0
}

// ProcessMessage either admits the message for immediate delivery (returns
// true) or buffers it (returns false). The caller must not deliver a
// buffered message itself.
func (d *MessageDelayer) ProcessMessage(dm DelayedMessage) bool {
	if d.lockDepth == 0 {
		return true
	}
	d.queue = append(d.queue, dm)
	return false
}

// DelayedMessageCount returns the number of buffered messages.
func (d *MessageDelayer) DelayedMessageCount() int {
	return len(d.queue)
}

// DelayedAdvanceMessageCount returns the number of buffered advance messages.
// A growing backlog of specifically these means the client is falling behind
// real time; this is the health metric operators watch.
func (d *MessageDelayer) DelayedAdvanceMessageCount() int {
	n := 0
	for _, dm := range d.queue {
		if dm.Msg.ID == d.advanceID {
			n++
		}
	}
	return n
}

// ClearDelayedMessages drops the buffer without delivering. Session teardown
// only — doing this mid-game breaks lockstep determinism.
func (d *MessageDelayer) ClearDelayedMessages() {
	if len(d.queue) > 0 {
		log.Warnf("message delayer: dropping %d buffered messages", len(d.queue))
	}
	d.queue = nil
}
