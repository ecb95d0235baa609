package game

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ironfront/internal/protocol"
)

// SyncState is the synchronizer's position in the detect/repair protocol.
type SyncState int

const (
	// InSync is the default: periodic cheap checksum checks only.
	InSync SyncState = iota
	// ResyncPending is reachable only on the authority, between detecting a
	// mismatch and broadcasting the snapshot.
	ResyncPending
	// ResyncInProgress holds on every client from the resync request until
	// the final unlock message.
	ResyncInProgress
)

func (s SyncState) String() string {
	switch s {
	case InSync:
		return "in-sync"
	case ResyncPending:
		return "resync-pending"
	case ResyncInProgress:
		return "resync-in-progress"
	default:
		return "invalid"
	}
}

// DefaultSyncCheckInterval is the checksum cadence K: a checksum is computed
// and (on the authority) broadcast every K-th advance message. Tunable;
// lower K finds divergence sooner at the cost of one checksum exchange per K
// messages.
const DefaultSyncCheckInterval = 10

// DefaultMaxResyncAttempts bounds consecutive resyncs. A client that still
// mismatches after this many full-state reloads is a hard network fault, not
// something to retry forever.
const DefaultMaxResyncAttempts = 3

// ErrPersistentDesync is surfaced through the fault callback when repeated
// resyncs fail to converge.
var ErrPersistentDesync = errors.New("sync: clients failed to converge after repeated resyncs")

// checksumRecordLimit bounds the per-client record of recent checksums.
const checksumRecordLimit = 64

// Synchronizer detects state divergence between lockstep clients via cheap
// periodic checksums and repairs it by reloading every client from one
// canonical snapshot. A checksum mismatch is the expected detection signal,
// not an error; only snapshot corruption and persistent non-convergence are
// faults.
type Synchronizer struct {
	clientID uint32
	admin    bool
	canvas   Canvas
	delayer  *MessageDelayer
	send     func(protocol.Message)

	// expectedClients returns the ids of every client whose ack the
	// authority must collect (the authority itself excluded).
	expectedClients func() []uint32

	onFault func(error)

	state           SyncState
	checkInterval   int
	advanceMsgCount uint64

	// Recent checksums by call count, so a client can answer a check for
	// the call count the authority measured at.
	checksums     map[uint32]uint64
	checksumOrder []uint32

	pendingAcks map[uint32]bool
	ackMismatch bool

	consecutiveResyncs int
	maxResyncAttempts  int

	desyncsDetected  uint64
	resyncsCompleted uint64
}

// NewSynchronizer wires a synchronizer. send must deliver into the session's
// outbound transport; expectedClients and onFault come from the session.
func NewSynchronizer(clientID uint32, admin bool, canvas Canvas, delayer *MessageDelayer,
	send func(protocol.Message), expectedClients func() []uint32, onFault func(error)) *Synchronizer {
	return &Synchronizer{
		clientID:          clientID,
		admin:             admin,
		canvas:            canvas,
		delayer:           delayer,
		send:              send,
		expectedClients:   expectedClients,
		onFault:           onFault,
		checkInterval:     DefaultSyncCheckInterval,
		checksums:         make(map[uint32]uint64),
		maxResyncAttempts: DefaultMaxResyncAttempts,
	}
}

// SetCheckInterval overrides the checksum cadence K. Values below 1 keep the
// current cadence.
func (s *Synchronizer) SetCheckInterval(k int) {
	if k >= 1 {
		s.checkInterval = k
	}
}

// State returns the current protocol state.
func (s *Synchronizer) State() SyncState {
	return s.state
}

// DesyncsDetected returns how many checksum mismatches have been detected.
func (s *Synchronizer) DesyncsDetected() uint64 { return s.desyncsDetected }

// ResyncsCompleted returns how many full resyncs have completed.
func (s *Synchronizer) ResyncsCompleted() uint64 { return s.resyncsCompleted }

// AcceptMessage is the low-level transport gate. While a resync is pending
// or in progress only sync-protocol messages pass; everything else is
// dropped, not queued — replaying a gameplay message recorded against the
// pre-resync state would apply it to two different baselines.
func (s *Synchronizer) AcceptMessage(id protocol.MessageID) bool {
	if s.state == InSync {
		return true
	}
	return IsSyncMessage(id)
}

// IsSyncMessage reports whether id belongs to the sync protocol. This is the
// exhaustive boundary; extend it when the protocol gains a sync message.
func IsSyncMessage(id protocol.MessageID) bool {
	switch id {
	case protocol.IdNetworkSyncCheck,
		protocol.IdNetworkSyncCheckACK,
		protocol.IdNetworkRequestSync,
		protocol.IdNetworkSync,
		protocol.IdNetworkSyncUnlockGame:
		return true
	default:
		return false
	}
}

// ReceiveAdvanceMessage is the periodic checkpoint, called once per advance
// message on every client before the scheduler sees it. callCount is the
// advance-call counter at that point, identical on every in-sync client.
func (s *Synchronizer) ReceiveAdvanceMessage(callCount uint32) {
	s.advanceMsgCount++
	if s.advanceMsgCount%uint64(s.checkInterval) != 0 {
		return
	}

	sum := s.canvas.Checksum()
	s.recordChecksum(callCount, sum)

	if !s.admin {
		return
	}

	expected := s.expectedClients()
	s.pendingAcks = make(map[uint32]bool, len(expected))
	for _, id := range expected {
		if id != s.clientID {
			s.pendingAcks[id] = true
		}
	}
	s.ackMismatch = false

	s.send(protocol.Message{
		ID:       protocol.IdNetworkSyncCheck,
		Sender:   s.clientID,
		Receiver: protocol.BroadcastReceiver,
		Payload:  protocol.Encode(protocol.SyncCheckPayload{CallCount: callCount, Checksum: sum}),
	})

	// No other clients: the round trivially matches.
	if len(s.pendingAcks) == 0 {
		s.consecutiveResyncs = 0
	}
}

func (s *Synchronizer) recordChecksum(callCount uint32, sum uint64) {
	if _, ok := s.checksums[callCount]; !ok {
		s.checksumOrder = append(s.checksumOrder, callCount)
	}
	s.checksums[callCount] = sum
	for len(s.checksumOrder) > checksumRecordLimit {
		delete(s.checksums, s.checksumOrder[0])
		s.checksumOrder = s.checksumOrder[1:]
	}
}

// ReceiveNetworkSyncCheck compares the authority's checksum against the
// locally recorded one at the same call count and replies ack or nack. The
// authority ignores its own reflected check.
func (s *Synchronizer) ReceiveNetworkSyncCheck(msg protocol.Message) {
	if msg.Sender == s.clientID {
		return
	}
	var check protocol.SyncCheckPayload
	if err := protocol.Decode(msg.Payload, &check); err != nil {
		log.Warnf("sync: malformed sync check from %d: %v", msg.Sender, err)
		return
	}

	local, ok := s.checksums[check.CallCount]
	match := ok && local == check.Checksum
	if !ok {
		log.Warnf("sync: no local checksum recorded at call count %d", check.CallCount)
	} else if !match {
		log.Errorf("sync: checksum mismatch at call count %d: authority %x, local %x",
			check.CallCount, check.Checksum, local)
	}

	s.send(protocol.Message{
		ID:       protocol.IdNetworkSyncCheckACK,
		Sender:   s.clientID,
		Receiver: msg.Sender,
		Payload: protocol.Encode(protocol.SyncCheckACKPayload{
			CallCount: check.CallCount,
			Checksum:  local,
			Match:     match,
		}),
	})
}

// ReceiveNetworkSyncCheckAck aggregates client replies on the authority.
// Once every expected ack arrived, any mismatch drives the resync protocol.
func (s *Synchronizer) ReceiveNetworkSyncCheckAck(msg protocol.Message) {
	if !s.admin || s.pendingAcks == nil {
		return
	}
	if !s.pendingAcks[msg.Sender] {
		return
	}
	delete(s.pendingAcks, msg.Sender)

	var ack protocol.SyncCheckACKPayload
	if err := protocol.Decode(msg.Payload, &ack); err != nil {
		log.Warnf("sync: malformed sync ack from %d: %v", msg.Sender, err)
		s.ackMismatch = true
	} else if !ack.Match {
		s.ackMismatch = true
	}

	if len(s.pendingAcks) > 0 {
		return
	}

	if !s.ackMismatch {
		s.consecutiveResyncs = 0
		return
	}

	s.desyncsDetected++
	log.Errorf("sync: desync detected (%d so far), starting full resync", s.desyncsDetected)

	if s.consecutiveResyncs >= s.maxResyncAttempts {
		log.Errorf("sync: %d consecutive resyncs without convergence, giving up", s.consecutiveResyncs)
		if s.onFault != nil {
			s.onFault(ErrPersistentDesync)
		}
		return
	}
	s.consecutiveResyncs++
	s.SyncNetwork()
}

// SyncNetwork drives the full resync: authority only. It serializes the
// complete simulation state and broadcasts the resync request followed by
// the snapshot itself; the final unlock travels as a separate message so the
// snapshot is applied everywhere before anyone resumes gameplay traffic.
func (s *Synchronizer) SyncNetwork() {
	if !s.admin {
		log.Error("sync: SyncNetwork called on a non-authority client")
		return
	}
	if s.state != InSync {
		return
	}
	s.state = ResyncPending

	snapshot, err := s.canvas.Serialize()
	if err != nil {
		s.state = InSync
		s.fatal(errors.Wrap(err, "serialize sync snapshot"))
		return
	}

	s.send(protocol.Message{
		ID:       protocol.IdNetworkRequestSync,
		Sender:   s.clientID,
		Receiver: protocol.BroadcastReceiver,
	})
	s.send(protocol.Message{
		ID:       protocol.IdNetworkSync,
		Sender:   s.clientID,
		Receiver: protocol.BroadcastReceiver,
		Payload:  snapshot,
	})
}

// ReceiveNetworkRequestSync enters the resync window on every client,
// authority included (its own request reflects back through the relay).
// Delivery locks so gameplay messages buffered behind the resync keep their
// order for after the unlock.
func (s *Synchronizer) ReceiveNetworkRequestSync(msg protocol.Message) {
	if s.state == ResyncInProgress {
		return
	}
	s.state = ResyncInProgress
	s.delayer.Lock()
	log.Warnf("sync: resync in progress (requested by %d)", msg.Sender)
}

// ReceiveNetworkSync discards the current simulation state and reloads it
// entirely from the snapshot. Deserialization failure is fatal for this
// session instance: the client cannot know which parts applied.
func (s *Synchronizer) ReceiveNetworkSync(msg protocol.Message) {
	if s.state != ResyncInProgress {
		log.Warnf("sync: snapshot received outside a resync window, ignoring")
		return
	}
	if err := s.canvas.Load(msg.Payload); err != nil {
		s.fatal(errors.Wrap(err, "load sync snapshot"))
		return
	}
	s.checksums = make(map[uint32]uint64)
	s.checksumOrder = nil
	log.Info("sync: snapshot loaded")

	if s.admin {
		s.send(protocol.Message{
			ID:       protocol.IdNetworkSyncUnlockGame,
			Sender:   s.clientID,
			Receiver: protocol.BroadcastReceiver,
		})
	}
}

// ReceiveNetworkSyncUnlockGame completes the resync on every client and
// releases the delivery lock taken by the request.
func (s *Synchronizer) ReceiveNetworkSyncUnlockGame(msg protocol.Message) {
	if s.state != ResyncInProgress {
		return
	}
	s.state = InSync
	s.resyncsCompleted++
	s.delayer.Unlock()
	log.Info("sync: resync complete, game unlocked")
}

func (s *Synchronizer) fatal(err error) {
	log.Errorf("sync: fatal: %v", err)
	if s.onFault != nil {
		s.onFault(err)
	}
}
