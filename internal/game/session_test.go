package game

import (
	"path/filepath"
	"testing"

	"ironfront/internal/protocol"
	"ironfront/internal/transport"
	"ironfront/internal/world"
)

// sessionPair wires two sessions to an in-process relay the way a real
// deployment wires them to the message server: every sent message comes back
// to both clients in one arrival order, and owed advance calls run to
// completion after each delivery.
type sessionPair struct {
	relay  *transport.Relay
	s1, s2 *Session
	w1, w2 *world.World
}

func newSessionPair(t *testing.T) *sessionPair {
	t.Helper()
	p := &sessionPair{
		relay: transport.NewRelay(),
		w1:    world.New(32, 32),
		w2:    world.New(32, 32),
	}
	p.s1 = NewSession(Config{ClientID: 1, Admin: true}, p.w1, nil)
	p.s2 = NewSession(Config{ClientID: 2}, p.w2, nil)

	c1 := p.relay.Attach(1, func(msg protocol.Message) {
		p.s1.NetworkTransmission(msg)
		p.s1.RunPendingAdvanceCalls()
	})
	c2 := p.relay.Attach(2, func(msg protocol.Message) {
		p.s2.NetworkTransmission(msg)
		p.s2.RunPendingAdvanceCalls()
	})
	p.s1.SetTransport(c1)
	p.s2.SetTransport(c2)
	p.s1.RegisterClient(2)
	p.s2.RegisterClient(1)
	return p
}

// addPlayers puts identical players into both sessions, the way each client
// builds its collection from the same join sequence.
func (p *sessionPair) addPlayers(t *testing.T, ids ...uint32) {
	t.Helper()
	for _, s := range []*Session{p.s1, p.s2} {
		for _, id := range ids {
			if !s.AddPlayer(&Player{ID: id, Name: "p", InGame: true}) {
				t.Fatalf("AddPlayer(%d) failed", id)
			}
		}
	}
}

// startGame walks both sessions through the full start handshake.
func (p *sessionPair) startGame(t *testing.T) {
	t.Helper()
	p.s1.SendMessage(protocol.IdStartGameClicked, nil)
	for _, pl := range p.s1.Lists().GamePlayers() {
		p.s1.SendMessage(protocol.IdGameStartingCompleted, protocol.PlayerRefPayload{PlayerID: pl.ID})
	}
	if p.s1.Status() != StatusRun || p.s2.Status() != StatusRun {
		t.Fatalf("start handshake left sessions in %s/%s", p.s1.Status(), p.s2.Status())
	}
}

// TestGameStartHandshake verifies the init -> starting -> run lifecycle
func TestGameStartHandshake(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)

	var started int
	p.s1.OnGameStarted = func() { started++ }

	p.s1.SendMessage(protocol.IdStartGameClicked, nil)
	if p.s1.Status() != StatusStarting || p.s2.Status() != StatusStarting {
		t.Fatalf("expected both starting, got %s/%s", p.s1.Status(), p.s2.Status())
	}

	p.s1.SendMessage(protocol.IdGameStartingCompleted, protocol.PlayerRefPayload{PlayerID: 1})
	if p.s1.Status() != StatusStarting {
		t.Fatal("game must not start until every player completed loading")
	}

	p.s2.SendMessage(protocol.IdGameStartingCompleted, protocol.PlayerRefPayload{PlayerID: 2})
	if p.s1.Status() != StatusRun || p.s2.Status() != StatusRun {
		t.Fatalf("expected both running, got %s/%s", p.s1.Status(), p.s2.Status())
	}
	if started != 1 {
		t.Errorf("OnGameStarted fired %d times, want 1", started)
	}
}

// TestAdvanceSequence verifies advance messages replicate call counts exactly
func TestAdvanceSequence(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)
	p.startGame(t)

	for i := 0; i < 5; i++ {
		p.s1.SendAdvance()
	}

	if got := p.s1.Scheduler().CallCount(); got != 5 {
		t.Errorf("authority call count %d, want 5", got)
	}
	if got := p.s2.Scheduler().CallCount(); got != 5 {
		t.Errorf("client call count %d, want 5", got)
	}
	if p.s1.Scheduler().AdvanceFlag() != p.s2.Scheduler().AdvanceFlag() {
		t.Error("advance flags diverged between clients")
	}
}

// TestAdvanceRefusedOutsideRun verifies advance messages outside a running game are dropped
func TestAdvanceRefusedOutsideRun(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)

	p.s1.SendMessage(protocol.AdvanceN, protocol.AdvancePayload{GameSpeed: 3})

	if got := p.s1.Scheduler().CallCount(); got != 0 {
		t.Errorf("advance executed in status init: call count %d", got)
	}
}

// TestSendAdvanceWhilePaused verifies the authority stops ticking when paused
func TestSendAdvanceWhilePaused(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)
	p.startGame(t)

	p.s1.SetPaused(true)
	if !p.s1.Paused() || !p.s2.Paused() {
		t.Fatal("pause proposal did not apply on the round trip")
	}

	p.s1.SendAdvance()
	if got := p.s1.Scheduler().CallCount(); got != 0 {
		t.Errorf("paused authority still advanced: call count %d", got)
	}

	p.s1.SetPaused(false)
	p.s1.SendAdvance()
	if got := p.s2.Scheduler().CallCount(); got != 1 {
		t.Errorf("client call count %d after unpause, want 1", got)
	}
}

// TestLockstepDeterminism verifies identical message sequences give identical state
func TestLockstepDeterminism(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)

	// Identical world setup on both clients.
	for _, w := range []*world.World{p.w1, p.w2} {
		w.SpawnUnit(1, 2, 2)
		w.SpawnUnit(2, 3, 2)
		w.SpawnUnit(2, 20, 20)
	}
	p.startGame(t)

	speeds := []int{1, 3, 2, 1, 4}
	for _, speed := range speeds {
		p.s1.SendMessage(protocol.AdvanceN, protocol.AdvancePayload{GameSpeed: speed})
		if p.w1.Checksum() != p.w2.Checksum() {
			t.Fatalf("checksums diverged after speed-%d message: %x vs %x",
				speed, p.w1.Checksum(), p.w2.Checksum())
		}
	}

	want := uint32(0)
	for _, s := range speeds {
		want += uint32(s)
	}
	if got := p.s1.Scheduler().CallCount(); got != want {
		t.Errorf("call count %d, want %d", got, want)
	}
	if p.s1.Scheduler().CallCount() != p.s2.Scheduler().CallCount() {
		t.Error("call counts diverged")
	}
}

// TestKillPlayer verifies the kill mutation on both clients
func TestKillPlayer(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2, 5)
	for _, w := range []*world.World{p.w1, p.w2} {
		w.SpawnUnit(5, 4, 4)
		w.SpawnUnit(5, 5, 4)
		w.SpawnUnit(1, 10, 10)
	}
	p.startGame(t)

	target := p.s2.FindPlayer(5)
	target.Minerals = 400
	target.Oil = 120
	p.s1.FindPlayer(5).Minerals = 400
	p.s1.FindPlayer(5).Oil = 120

	var killed *Player
	var unitsRemoved int
	p.s2.OnPlayerKilled = func(pl *Player, removed int) {
		killed = pl
		unitsRemoved = removed
	}

	p.s1.RequestKillPlayer(5)

	if killed != target || unitsRemoved != 2 {
		t.Fatalf("kill callback: player %v removed %d, want player 5 removed 2", killed, unitsRemoved)
	}
	if !target.Defeated || target.Minerals != 0 || target.Oil != 0 {
		t.Error("killed player must be defeated with zeroed resources")
	}
	if p.w1.UnitsOwnedBy(5) != 0 || p.w2.UnitsOwnedBy(5) != 0 {
		t.Error("killed player's units must be removed on both clients")
	}
	if p.s2.FindPlayer(5) == nil {
		t.Error("killed player stays in the canonical collection")
	}
	for _, pl := range p.s2.Lists().ActivePlayers() {
		if pl.ID == 5 {
			t.Error("killed player must leave the active list")
		}
	}
	if p.s1.Status() != StatusRun {
		t.Errorf("two active players remain, status %s", p.s1.Status())
	}
}

// TestGameOverOnLastActivePlayer verifies the session ends at one active player
func TestGameOverOnLastActivePlayer(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)
	p.startGame(t)

	var over int
	p.s1.OnGameOver = func() { over++ }

	p.s1.RequestKillPlayer(2)

	if p.s1.Status() != StatusEnd || p.s2.Status() != StatusEnd {
		t.Errorf("expected both ended, got %s/%s", p.s1.Status(), p.s2.Status())
	}
	if over != 1 {
		t.Errorf("OnGameOver fired %d times, want 1", over)
	}
}

// TestChangeSideValidation verifies side-change id rules
func TestChangeSideValidation(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)

	// Out of the real-player range.
	p.s1.SendMessage(protocol.ChangeSide, protocol.SidePayload{PlayerID: 2, NewID: 600})
	if p.s1.FindPlayer(2) == nil {
		t.Fatal("invalid side change must leave the player untouched")
	}

	// Target id in use.
	p.s1.SendMessage(protocol.ChangeSide, protocol.SidePayload{PlayerID: 2, NewID: 1})
	if p.s1.FindPlayer(2) == nil {
		t.Fatal("side change to an occupied id must be rejected")
	}

	var oldID uint32
	p.s2.OnSideChanged = func(pl *Player, old uint32) { oldID = old }

	p.s1.SendMessage(protocol.ChangeSide, protocol.SidePayload{PlayerID: 2, NewID: 7})
	if p.s1.FindPlayer(7) == nil || p.s2.FindPlayer(7) == nil {
		t.Fatal("valid side change must apply on both clients")
	}
	if p.s1.FindPlayer(2) != nil {
		t.Error("old id still resolves after the side change")
	}
	if oldID != 2 {
		t.Errorf("OnSideChanged old id %d, want 2", oldID)
	}
}

// TestLobbyChangesRejectedDuringRun verifies lobby mutations are dropped mid-game
func TestLobbyChangesRejectedDuringRun(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)
	p.startGame(t)

	p.s1.SendMessage(protocol.ChangeSpecies, protocol.SpeciesPayload{PlayerID: 2, Species: "neuland"})
	if p.s1.FindPlayer(2).Species != "" {
		t.Error("species change during a running game must be dropped")
	}

	p.s1.SendMessage(protocol.ChangePlayField, protocol.PlayFieldPayload{Name: "delta"})
	if p.s1.PlayField() != "" {
		t.Error("play field change during a running game must be dropped")
	}
}

// TestResourceClamp verifies resource mutations clamp at zero
func TestResourceClamp(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)
	p.startGame(t)

	p.s1.SendMessage(protocol.IdModifyMinerals, protocol.ResourcePayload{PlayerID: 2, Amount: 150})
	p.s1.SendMessage(protocol.IdModifyMinerals, protocol.ResourcePayload{PlayerID: 2, Amount: -500})
	p.s1.SendMessage(protocol.IdModifyOil, protocol.ResourcePayload{PlayerID: 2, Amount: 80})

	pl := p.s2.FindPlayer(2)
	if pl.Minerals != 0 {
		t.Errorf("minerals %d, want 0 (clamped)", pl.Minerals)
	}
	if pl.Oil != 80 {
		t.Errorf("oil %d, want 80", pl.Oil)
	}
}

// TestAgreedPropertyRoundTrip verifies clean-policy values apply only on the round trip
func TestAgreedPropertyRoundTrip(t *testing.T) {
	p := newSessionPair(t)

	var changed []int
	p.s1.OnSpeedChanged = func(v int) { changed = append(changed, v) }

	// Proposed by the non-authority client; the relay round trip applies it
	// to everyone, proposer included.
	p.s2.SetGameSpeed(3)

	if p.s1.GameSpeed() != 3 || p.s2.GameSpeed() != 3 {
		t.Errorf("game speed %d/%d, want 3/3", p.s1.GameSpeed(), p.s2.GameSpeed())
	}
	if len(changed) != 1 || changed[0] != 3 {
		t.Errorf("OnSpeedChanged calls %v, want [3]", changed)
	}

	p.s1.SetGameSpeed(0)
	if p.s1.GameSpeed() != 3 {
		t.Error("insane speed proposal must be refused locally")
	}
}

// TestUnknownMessageDropped verifies unrecognized ids count as dropped
func TestUnknownMessageDropped(t *testing.T) {
	p := newSessionPair(t)

	p.s1.SendMessage(protocol.MessageID(99999), nil)

	if p.s1.DroppedMessages() != 1 || p.s2.DroppedMessages() != 1 {
		t.Errorf("dropped counts %d/%d, want 1/1",
			p.s1.DroppedMessages(), p.s2.DroppedMessages())
	}
}

// TestInvalidStatusDropped verifies out-of-range status transitions are refused
func TestInvalidStatusDropped(t *testing.T) {
	p := newSessionPair(t)

	p.s1.SendMessage(protocol.IdStatus, protocol.StatusPayload{Status: 9})
	if p.s1.Status() != StatusInit {
		t.Errorf("status moved to %s on an invalid transition", p.s1.Status())
	}

	p.s1.SendMessage(protocol.IdStatus, protocol.StatusPayload{Status: int(StatusEnd)})
	if p.s2.Status() != StatusEnd {
		t.Errorf("valid status transition did not apply, got %s", p.s2.Status())
	}
}

// TestNewGameResetsSession verifies the new-game reset
func TestNewGameResetsSession(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)
	p.startGame(t)
	p.s1.RequestKillPlayer(2)

	p.s1.SendMessage(protocol.IdNewGame, nil)

	if p.s1.Status() != StatusInit {
		t.Errorf("status %s after new game, want init", p.s1.Status())
	}
	pl := p.s2.FindPlayer(2)
	if pl.Defeated || pl.StartingCompleted {
		t.Error("new game must clear per-game player flags")
	}
	if len(p.s2.Lists().ActivePlayers()) != 2 {
		t.Errorf("active players %d after reset, want 2", len(p.s2.Lists().ActivePlayers()))
	}
}

// TestResyncConvergence verifies a diverged client is repaired from the authority snapshot
func TestResyncConvergence(t *testing.T) {
	relay := transport.NewRelay()
	w1 := world.New(32, 32)
	w2 := world.New(32, 32)
	s1 := NewSession(Config{ClientID: 1, Admin: true, SyncCheckInterval: 1}, w1, nil)
	s2 := NewSession(Config{ClientID: 2, SyncCheckInterval: 1}, w2, nil)
	c1 := relay.Attach(1, func(msg protocol.Message) {
		s1.NetworkTransmission(msg)
		s1.RunPendingAdvanceCalls()
	})
	c2 := relay.Attach(2, func(msg protocol.Message) {
		s2.NetworkTransmission(msg)
		s2.RunPendingAdvanceCalls()
	})
	s1.SetTransport(c1)
	s2.SetTransport(c2)
	s1.RegisterClient(2)
	s2.RegisterClient(1)
	for _, s := range []*Session{s1, s2} {
		s.AddPlayer(&Player{ID: 1, InGame: true})
		s.AddPlayer(&Player{ID: 2, InGame: true})
	}
	w1.SpawnUnit(1, 2, 2)
	w2.SpawnUnit(1, 2, 2)

	s1.SendMessage(protocol.IdStartGameClicked, nil)
	s1.SendMessage(protocol.IdGameStartingCompleted, protocol.PlayerRefPayload{PlayerID: 1})
	s1.SendMessage(protocol.IdGameStartingCompleted, protocol.PlayerRefPayload{PlayerID: 2})

	// Diverge client 2 behind the protocol's back.
	w2.SpawnUnit(2, 9, 9)
	if w1.Checksum() == w2.Checksum() {
		t.Fatal("worlds should differ before the resync")
	}

	// One advance message: with K=1 the check, nack, snapshot and unlock all
	// ride the same relay pump.
	s1.SendAdvance()

	if w1.Checksum() != w2.Checksum() {
		t.Fatalf("worlds still diverged after resync: %x vs %x", w1.Checksum(), w2.Checksum())
	}
	if s1.Synchronizer().State() != InSync || s2.Synchronizer().State() != InSync {
		t.Errorf("states %v/%v, want in-sync", s1.Synchronizer().State(), s2.Synchronizer().State())
	}
	if s1.Synchronizer().DesyncsDetected() != 1 {
		t.Errorf("desyncs detected %d, want 1", s1.Synchronizer().DesyncsDetected())
	}
	if s1.Synchronizer().ResyncsCompleted() != 1 || s2.Synchronizer().ResyncsCompleted() != 1 {
		t.Errorf("resyncs completed %d/%d, want 1/1",
			s1.Synchronizer().ResyncsCompleted(), s2.Synchronizer().ResyncsCompleted())
	}
	if s1.Fault() != nil || s2.Fault() != nil {
		t.Errorf("unexpected faults: %v / %v", s1.Fault(), s2.Fault())
	}

	// The repaired pair keeps ticking in lockstep.
	s1.SendAdvance()
	if w1.Checksum() != w2.Checksum() {
		t.Error("checksums diverged after the repaired advance")
	}
}

// TestResyncDeliveredMidAdvanceSequence verifies the sync protocol is never buffered
func TestResyncDeliveredMidAdvanceSequence(t *testing.T) {
	relay := transport.NewRelay()
	w1 := world.New(32, 32)
	w2 := world.New(32, 32)
	s1 := NewSession(Config{ClientID: 1, Admin: true, GameSpeed: 3}, w1, nil)
	s2 := NewSession(Config{ClientID: 2, GameSpeed: 3}, w2, nil)
	// These handlers do not drain owed calls: the scheduler's delayer lock
	// stays held between deliveries, the way the paced loop holds it for
	// most of an advance interval.
	c1 := relay.Attach(1, func(msg protocol.Message) { s1.NetworkTransmission(msg) })
	c2 := relay.Attach(2, func(msg protocol.Message) { s2.NetworkTransmission(msg) })
	s1.SetTransport(c1)
	s2.SetTransport(c2)
	s1.RegisterClient(2)
	s2.RegisterClient(1)
	for _, s := range []*Session{s1, s2} {
		s.AddPlayer(&Player{ID: 1, InGame: true})
		s.AddPlayer(&Player{ID: 2, InGame: true})
	}
	w1.SpawnUnit(1, 2, 2)
	w2.SpawnUnit(1, 2, 2)

	s1.SendMessage(protocol.IdStartGameClicked, nil)
	s1.SendMessage(protocol.IdGameStartingCompleted, protocol.PlayerRefPayload{PlayerID: 1})
	s1.SendMessage(protocol.IdGameStartingCompleted, protocol.PlayerRefPayload{PlayerID: 2})

	// Diverge client 2, then open an advance sequence without running it.
	w2.SpawnUnit(2, 9, 9)
	s1.SendAdvance()
	if !s1.Delayer().IsLocked() || !s2.Delayer().IsLocked() {
		t.Fatal("delayers must be locked for the span of the call sequence")
	}

	// The full resync protocol lands while both sequences are still open.
	s1.Synchronizer().SyncNetwork()

	if n := s1.Delayer().DelayedMessageCount(); n != 0 {
		t.Errorf("%d sync messages buffered on the authority, want 0", n)
	}
	if n := s2.Delayer().DelayedMessageCount(); n != 0 {
		t.Errorf("%d sync messages buffered on the client, want 0", n)
	}
	if s1.Synchronizer().State() != InSync || s2.Synchronizer().State() != InSync {
		t.Fatalf("states %v/%v, want in-sync", s1.Synchronizer().State(), s2.Synchronizer().State())
	}
	if w1.Checksum() != w2.Checksum() {
		t.Fatalf("snapshot never applied: %x vs %x", w1.Checksum(), w2.Checksum())
	}
	if s1.Synchronizer().ResyncsCompleted() != 1 || s2.Synchronizer().ResyncsCompleted() != 1 {
		t.Errorf("resyncs completed %d/%d, want 1/1",
			s1.Synchronizer().ResyncsCompleted(), s2.Synchronizer().ResyncsCompleted())
	}

	// The owed calls finish against the restored state, in lockstep.
	s1.RunPendingAdvanceCalls()
	s2.RunPendingAdvanceCalls()
	if s1.Delayer().IsLocked() || s2.Delayer().IsLocked() {
		t.Error("delayers still locked after the sequences completed")
	}
	if n1, n2 := s1.Scheduler().CallCount(), s2.Scheduler().CallCount(); n1 != 3 || n2 != 3 {
		t.Errorf("call counts %d/%d, want 3/3", n1, n2)
	}
	if w1.Checksum() != w2.Checksum() {
		t.Error("checksums diverged over the completed sequence")
	}
	if s1.Fault() != nil || s2.Fault() != nil {
		t.Errorf("unexpected faults: %v / %v", s1.Fault(), s2.Fault())
	}
}

// TestReplayReproducesState verifies a recorded log replays to the same checksum
func TestReplayReproducesState(t *testing.T) {
	p := newSessionPair(t)
	p.addPlayers(t, 1, 2)
	for _, w := range []*world.World{p.w1, p.w2} {
		w.SpawnUnit(1, 2, 2)
		w.SpawnUnit(2, 3, 2)
	}

	logPath := filepath.Join(t.TempDir(), "messages.jsonl")
	if err := p.s1.MessageLog().Start(logPath); err != nil {
		t.Fatalf("start message log: %v", err)
	}

	p.startGame(t)
	for i := 0; i < 5; i++ {
		p.s1.SendAdvance()
	}
	p.s1.SendMessage(protocol.IdModifyMinerals, protocol.ResourcePayload{PlayerID: 2, Amount: 50})
	liveSum := p.w1.Checksum()
	liveCalls := p.s1.Scheduler().CallCount()
	p.s1.MessageLog().Stop()

	records, err := ReadLogFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("message log is empty")
	}

	// A fresh session with the same starting state, fed only the log.
	w3 := world.New(32, 32)
	w3.SpawnUnit(1, 2, 2)
	w3.SpawnUnit(2, 3, 2)
	s3 := NewSession(Config{ClientID: 1, Admin: true}, w3, nil)
	s3.AddPlayer(&Player{ID: 1, Name: "p", InGame: true})
	s3.AddPlayer(&Player{ID: 2, Name: "p", InGame: true})

	s3.LoadReplay()
	s3.NetworkTransmission(protocol.Message{ID: protocol.IdChat, Sender: 2})
	s3.ReplayAll(records)

	if got := w3.Checksum(); got != liveSum {
		t.Errorf("replay checksum %x, want %x", got, liveSum)
	}
	if got := s3.Scheduler().CallCount(); got != liveCalls {
		t.Errorf("replay call count %d, want %d", got, liveCalls)
	}
	if got := s3.FindPlayer(2).Minerals; got != 50 {
		t.Errorf("replay minerals %d, want 50", got)
	}
}
