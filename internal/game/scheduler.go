package game

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// MaxGameSpeed bounds the advance calls a single message may request. A
// speed at or above this is treated as a corrupt or hostile message and
// clamped to 1.
const MaxGameSpeed = 5000

// AdvanceHistoryLimit bounds the diagnostic record list.
const AdvanceHistoryLimit = 1000

// Canvas is the simulation layer driven by the scheduler and checkpointed by
// the synchronizer.
type Canvas interface {
	// Advance executes one deterministic simulation step.
	Advance(callCount uint32)
	// Checksum digests the full simulation state.
	Checksum() uint64
	// Serialize captures the full state as a snapshot stream.
	Serialize() ([]byte, error)
	// Load atomically replaces the full state from a snapshot stream.
	Load(data []byte) error
	// RemovePlayerUnits deletes everything the player owns, returning the
	// number of removed units.
	RemovePlayerUnits(owner uint32) int
}

// AdvanceObserver is a per-call hook run after the canvas and before the
// event manager.
type AdvanceObserver interface {
	Advance(callCount uint32)
}

// AdvanceTimes is the diagnostic timing record of one advance message: the
// moment it arrived and one timestamp per call actually executed. History
// only — never simulation state.
type AdvanceTimes struct {
	Arrival   time.Time
	GameSpeed int
	CallTimes []time.Time
}

// newAdvanceTimes opens a record for a message requesting gameSpeed calls.
func newAdvanceTimes(gameSpeed int) *AdvanceTimes {
	return &AdvanceTimes{
		Arrival:   time.Now(),
		GameSpeed: gameSpeed,
		CallTimes: make([]time.Time, 0, gameSpeed),
	}
}

// Scheduler converts advance messages into a deterministic sequence of
// advance calls. It decides that N calls are owed, not when each fires; the
// surrounding loop spreads them over the advance interval. During a call it
// invokes the simulation hooks in a fixed order — canvas, then observers in
// registration order, then the event manager — because observer execution
// order is the determinism contract, not a convention.
type Scheduler struct {
	delayer   *MessageDelayer
	canvas    Canvas
	events    *EventManager
	observers []AdvanceObserver

	// callCount and advanceFlag are replicated local-policy properties:
	// diagnostic, never fed back into simulation decisions.
	callCount   LocalValue[uint32]
	advanceFlag LocalValue[bool]

	pendingCalls int
	current      *AdvanceTimes
	history      []*AdvanceTimes
}

// NewScheduler wires a scheduler to the delayer it locks during call
// sequences and the hooks it drives.
func NewScheduler(delayer *MessageDelayer, canvas Canvas, events *EventManager) *Scheduler {
	return &Scheduler{
		delayer: delayer,
		canvas:  canvas,
		events:  events,
	}
}

// AddObserver registers a per-call observer. Observers run after the canvas
// hook in registration order.
func (s *Scheduler) AddObserver(o AdvanceObserver) {
	s.observers = append(s.observers, o)
}

// ReceiveAdvanceMessage records that gameSpeed calls are owed and locks
// message delivery until the last of them completes. Returns the effective
// (clamped) speed.
func (s *Scheduler) ReceiveAdvanceMessage(gameSpeed int) int {
	if gameSpeed <= 0 || gameSpeed >= MaxGameSpeed {
		log.Errorf("advance message with insane game speed %d, clamping to 1", gameSpeed)
		gameSpeed = 1
	}

	s.delayer.Lock()
	s.pendingCalls += gameSpeed
	s.current = newAdvanceTimes(gameSpeed)
	s.history = append(s.history, s.current)
	if len(s.history) > AdvanceHistoryLimit {
		s.history = s.history[len(s.history)-AdvanceHistoryLimit:]
	}
	return gameSpeed
}

// ReceiveAdvanceCall executes exactly one simulation step. A call with no
// pending message record is a programming error in the driving loop: it is
// reported and ignored, never fatal.
func (s *Scheduler) ReceiveAdvanceCall() {
	if s.current == nil || s.pendingCalls <= 0 {
		log.Error("advance call without a pending advance message")
		return
	}

	count := s.callCount.Value()

	s.events.QueueEvent(Event{Name: "Advance", CallCount: count})
	s.current.CallTimes = append(s.current.CallTimes, time.Now())

	// Toggle before invoking simulation: a unit that swaps its advance
	// function during this call must only affect the next call, never the
	// one in progress.
	s.advanceFlag.Set(!s.advanceFlag.Value())

	// Fixed invocation order. Unit logic queues events consumed later in
	// this same tick, so canvas must run before the event manager.
	s.canvas.Advance(count)
	for _, o := range s.observers {
		o.Advance(count)
	}
	s.events.Advance(count)

	s.callCount.Set(count + 1)

	s.pendingCalls--
	if s.pendingCalls == 0 {
		s.delayer.Unlock()
	}
}

// PendingCalls returns how many owed calls have not executed yet.
func (s *Scheduler) PendingCalls() int {
	return s.pendingCalls
}

// CallCount returns the advance-call counter.
func (s *Scheduler) CallCount() uint32 {
	return s.callCount.Value()
}

// AdvanceFlag returns the double-buffer flag toggled once per call.
func (s *Scheduler) AdvanceFlag() bool {
	return s.advanceFlag.Value()
}

// History returns the append-only list of diagnostic timing records.
func (s *Scheduler) History() []*AdvanceTimes {
	return s.history
}
