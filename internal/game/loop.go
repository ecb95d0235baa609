package game

import (
	"time"

	log "github.com/sirupsen/logrus"

	"ironfront/internal/protocol"
)

// DefaultAdvanceInterval is the wall-clock spacing between advance messages
// emitted by the authority.
const DefaultAdvanceInterval = 250 * time.Millisecond

// Loop drives a session from a single goroutine: inbound messages, the
// authority's advance-message ticker and the pacing of owed advance calls
// all funnel through one select, which is what makes the session's
// no-internal-locking contract hold.
type Loop struct {
	session  *Session
	interval time.Duration

	// OnAdvanceCall, when set, observes the duration of each advance call.
	// Set before Run.
	OnAdvanceCall func(time.Duration)

	inbox chan protocol.Message
	funcs chan func()
	stop  chan struct{}
	done  chan struct{}
}

// NewLoop creates a loop for the session. interval is the advance-message
// spacing; zero means DefaultAdvanceInterval.
func NewLoop(session *Session, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultAdvanceInterval
	}
	return &Loop{
		session:  session,
		interval: interval,
		inbox:    make(chan protocol.Message, 256),
		funcs:    make(chan func(), 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Deliver hands an inbound network message to the loop. Safe from any
// goroutine; drops with a diagnostic when the loop is saturated rather than
// blocking the transport reader.
func (l *Loop) Deliver(msg protocol.Message) {
	select {
	case l.inbox <- msg:
	default:
		log.Errorf("game loop inbox full, dropping %s from %d", msg.ID, msg.Sender)
	}
}

// Do runs fn on the loop goroutine. Used by the HTTP layer to touch session
// state without racing the dispatch path.
func (l *Loop) Do(fn func()) {
	select {
	case l.funcs <- fn:
	case <-l.stop:
	}
}

// Run processes until Stop. Owed advance calls are spread across the advance
// interval: with speed N the call timer fires every interval/N.
func (l *Loop) Run() {
	defer close(l.done)

	advance := time.NewTicker(l.interval)
	defer advance.Stop()

	callTimer := time.NewTimer(l.interval)
	if !callTimer.Stop() {
		<-callTimer.C
	}
	callTimerSet := false

	armCallTimer := func() {
		pending := l.session.Scheduler().PendingCalls()
		if pending == 0 || callTimerSet {
			return
		}
		callTimer.Reset(l.interval / time.Duration(pending+1))
		callTimerSet = true
	}

	for {
		select {
		case <-l.stop:
			return

		case msg := <-l.inbox:
			l.session.NetworkTransmission(msg)
			armCallTimer()

		case fn := <-l.funcs:
			fn()
			armCallTimer()

		case <-advance.C:
			if l.session.IsAdmin() {
				l.session.SendAdvance()
			}

		case <-callTimer.C:
			callTimerSet = false
			if l.session.Scheduler().PendingCalls() > 0 {
				start := time.Now()
				l.session.Scheduler().ReceiveAdvanceCall()
				if l.OnAdvanceCall != nil {
					l.OnAdvanceCall(time.Since(start))
				}
			}
			armCallTimer()
		}
	}
}

// Stop terminates the loop and waits for Run to return.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}
