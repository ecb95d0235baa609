package game

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"ironfront/internal/protocol"
)

// GameStatus is the session lifecycle position. Most message kinds are only
// valid in one status; a message in the wrong status is dropped with a
// diagnostic, never fatal.
type GameStatus int

const (
	StatusInit GameStatus = iota
	StatusStarting
	StatusRun
	StatusEnd
)

func (s GameStatus) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusStarting:
		return "starting"
	case StatusRun:
		return "run"
	case StatusEnd:
		return "end"
	default:
		return "invalid"
	}
}

// Transport carries outbound messages to the relay. The relay reflects every
// message back to all clients (the sender included) in one arrival order;
// inbound messages come back through NetworkTransmission.
type Transport interface {
	Send(msg protocol.Message) error
}

// Config configures a session.
type Config struct {
	// ClientID identifies this client on the network.
	ClientID uint32
	// Admin marks the authority: the client that emits advance messages,
	// initiates checksum checks and drives resyncs.
	Admin bool
	// GameSpeed is the initial advance calls per advance message.
	GameSpeed int
	// SyncCheckInterval overrides the checksum cadence K when > 0.
	SyncCheckInterval int
}

// Session is the game-session object: it owns the player collection and the
// lockstep machinery, and is the single dispatch point from raw network
// message to subsystem or state mutation. All core state is mutated only
// from the dispatch path; the session is not internally locked and must be
// driven from one goroutine (see Loop).
type Session struct {
	clientID  uint32
	admin     bool
	status    GameStatus
	playField string

	players []*Player
	lists   *PlayerLists
	clients map[uint32]bool

	canvas    Canvas
	events    *EventManager
	delayer   *MessageDelayer
	scheduler *Scheduler
	sync      *Synchronizer
	transport Transport
	msgLog    *MessageLog

	speed        *AgreedValue[int]
	paused       *AgreedValue[bool]
	propAppliers map[string]func(int64)

	arrivalSeq      uint64
	droppedMessages uint64
	replayMode      bool
	fault           error

	// Callbacks for the UI, AI-script and chat layers. All optional, all
	// invoked synchronously from the dispatch path.
	OnGameStarted      func()
	OnGameOver         func()
	OnPlayerJoined     func(*Player)
	OnPlayerLeft       func(*Player)
	OnPlayerKilled     func(*Player, int)
	OnSideChanged      func(*Player, uint32)
	OnSpeciesChanged   func(*Player)
	OnTeamColorChanged func(*Player)
	OnSpeedChanged     func(int)
	OnPauseChanged     func(bool)
	OnChat             func(uint32, string)
	OnFault            func(error)
}

// NewSession wires a session around the given simulation layer and
// transport. The session starts in StatusInit with no players.
func NewSession(cfg Config, canvas Canvas, transport Transport) *Session {
	if cfg.GameSpeed <= 0 {
		cfg.GameSpeed = 1
	}

	s := &Session{
		clientID:  cfg.ClientID,
		admin:     cfg.Admin,
		status:    StatusInit,
		lists:     NewPlayerLists(),
		clients:   map[uint32]bool{cfg.ClientID: true},
		canvas:    canvas,
		events:    NewEventManager(),
		transport: transport,
		msgLog:    NewMessageLog(),
	}

	s.delayer = NewMessageDelayer(s.dispatch)
	s.scheduler = NewScheduler(s.delayer, canvas, s.events)
	s.sync = NewSynchronizer(cfg.ClientID, cfg.Admin, canvas, s.delayer,
		s.send, s.ClientIDs, s.raiseFault)
	if cfg.SyncCheckInterval > 0 {
		s.sync.SetCheckInterval(cfg.SyncCheckInterval)
	}

	s.speed = newAgreedValue("gameSpeed", cfg.GameSpeed, s.send, encodeInt, decodeInt)
	s.speed.changed = func(v int) {
		if s.OnSpeedChanged != nil {
			s.OnSpeedChanged(v)
		}
	}
	s.paused = newAgreedValue("paused", false, s.send, encodeBool, decodeBool)
	s.paused.changed = func(v bool) {
		if s.OnPauseChanged != nil {
			s.OnPauseChanged(v)
		}
	}
	s.propAppliers = map[string]func(int64){
		"gameSpeed": s.speed.apply,
		"paused":    s.paused.apply,
	}
	return s
}

// --- accessors ---

// ClientID returns this client's network id.
func (s *Session) ClientID() uint32 { return s.clientID }

// IsAdmin reports whether this client is the session authority.
func (s *Session) IsAdmin() bool { return s.admin }

// Status returns the lifecycle status.
func (s *Session) Status() GameStatus { return s.status }

// PlayField returns the selected map name.
func (s *Session) PlayField() string { return s.playField }

// GameSpeed returns the agreed advance calls per advance message.
func (s *Session) GameSpeed() int { return s.speed.Value() }

// Paused returns the agreed pause flag.
func (s *Session) Paused() bool { return s.paused.Value() }

// Scheduler exposes the advance scheduler (call counters, history).
func (s *Session) Scheduler() *Scheduler { return s.scheduler }

// Delayer exposes the message delayer (delayed-count health metrics).
func (s *Session) Delayer() *MessageDelayer { return s.delayer }

// Synchronizer exposes the network synchronizer.
func (s *Session) Synchronizer() *Synchronizer { return s.sync }

// Events exposes the event manager for AI/UI subscriptions.
func (s *Session) Events() *EventManager { return s.events }

// MessageLog exposes the append-only message log.
func (s *Session) MessageLog() *MessageLog { return s.msgLog }

// Lists exposes the derived player lists.
func (s *Session) Lists() *PlayerLists { return s.lists }

// Fault returns the fatal session error, if any.
func (s *Session) Fault() error { return s.fault }

// DroppedMessages returns how many inbound messages the gate rejected.
func (s *Session) DroppedMessages() uint64 { return s.droppedMessages }

// --- clients ---

// RegisterClient records a connected client id for sync-ack accounting.
func (s *Session) RegisterClient(id uint32) {
	s.clients[id] = true
}

// UnregisterClient removes a disconnected client.
func (s *Session) UnregisterClient(id uint32) {
	delete(s.clients, id)
}

// ClientIDs returns the known client ids in ascending order.
func (s *Session) ClientIDs() []uint32 {
	ids := make([]uint32, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --- players ---

// AddPlayer adds a player to the canonical collection. Id uniqueness and
// range are enforced here; everything downstream may trust them.
func (s *Session) AddPlayer(p *Player) bool {
	if !ValidPlayerID(p.ID) {
		log.Errorf("player id %d outside valid range [%d,%d]", p.ID, MinPlayerID, MaxPlayerID)
		return false
	}
	if !p.IsNeutral() && !ValidRealPlayerID(p.ID) {
		log.Errorf("player id %d reserved, real players use [%d,%d]", p.ID, MinPlayerID, MaxRealPlayerID)
		return false
	}
	if s.FindPlayer(p.ID) != nil {
		log.Errorf("player id %d already in use", p.ID)
		return false
	}
	s.players = append(s.players, p)
	s.lists.Recalculate(s.players)
	log.Printf("player %d (%s) joined", p.ID, p.Name)
	if s.OnPlayerJoined != nil {
		s.OnPlayerJoined(p)
	}
	return true
}

// AddNeutralPlayer creates the reserved neutral player.
func (s *Session) AddNeutralPlayer() *Player {
	p := &Player{ID: NeutralPlayerID, Name: "Neutral", InGame: false}
	if !s.AddPlayer(p) {
		return nil
	}
	return p
}

// RemovePlayer removes the player with the given id. The derived lists are
// rebuilt with the player excluded before the canonical list shrinks, so no
// observer ever sees a removed player through a derived view.
func (s *Session) RemovePlayer(id uint32) bool {
	p := s.FindPlayer(id)
	if p == nil {
		return false
	}
	s.lists.RecalculateWithRemoved(s.players, p)
	for i, q := range s.players {
		if q == p {
			s.players = append(s.players[:i], s.players[i+1:]...)
			break
		}
	}
	log.Printf("player %d (%s) left", p.ID, p.Name)
	if s.OnPlayerLeft != nil {
		s.OnPlayerLeft(p)
	}
	return true
}

// FindPlayer returns the player with the given id, or nil.
func (s *Session) FindPlayer(id uint32) *Player {
	for _, p := range s.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Players returns the canonical player collection.
func (s *Session) Players() []*Player {
	return s.players
}

// --- outbound requests ---

// SetTransport installs the outbound transport. Call before the loop starts;
// until then outbound messages are silently dropped.
func (s *Session) SetTransport(t Transport) {
	s.transport = t
}

func (s *Session) send(msg protocol.Message) {
	if msg.Sender == 0 {
		msg.Sender = s.clientID
	}
	if s.transport == nil {
		return
	}
	if err := s.transport.Send(msg); err != nil {
		log.Errorf("transport send %s: %v", msg.ID, err)
	}
}

// SendMessage broadcasts an arbitrary message through the transport.
func (s *Session) SendMessage(id protocol.MessageID, payload interface{}) {
	s.send(protocol.Message{
		ID:       id,
		Receiver: protocol.BroadcastReceiver,
		Payload:  protocol.Encode(payload),
	})
}

// SendAdvance emits one advance message at the agreed game speed. Authority
// only; the surrounding loop calls this on the advance interval.
func (s *Session) SendAdvance() {
	if !s.admin {
		log.Error("advance messages only originate from the authority")
		return
	}
	if s.status != StatusRun || s.paused.Value() {
		return
	}
	s.SendMessage(protocol.AdvanceN, protocol.AdvancePayload{GameSpeed: s.speed.Value()})
}

// SetGameSpeed proposes a new game speed (clean policy, applies on the
// network round-trip).
func (s *Session) SetGameSpeed(speed int) {
	if speed <= 0 || speed >= MaxGameSpeed {
		log.Errorf("refusing to propose insane game speed %d", speed)
		return
	}
	s.speed.Propose(speed)
}

// SetPaused proposes the pause flag (clean policy).
func (s *Session) SetPaused(paused bool) {
	s.paused.Propose(paused)
}

// RequestKillPlayer broadcasts a kill-player mutation.
func (s *Session) RequestKillPlayer(id uint32) {
	s.SendMessage(protocol.IdKillPlayer, protocol.PlayerRefPayload{PlayerID: id})
}

// RequestSync lets the operator force a full resync. Authority only.
func (s *Session) RequestSync() {
	s.sync.SyncNetwork()
}

// --- inbound path ---

// NetworkTransmission is the live entry point for messages delivered by the
// transport. In replay mode live traffic is refused so the recorded stream
// cannot interleave with the network.
func (s *Session) NetworkTransmission(msg protocol.Message) {
	if s.replayMode {
		log.Warnf("replay mode: dropping live message %s", msg.ID)
		return
	}
	s.ingest(msg)
}

// ingest is the shared live/replay ingestion path: transmission gate,
// arrival stamp, message log, delayer, dispatch.
func (s *Session) ingest(msg protocol.Message) {
	if !s.sync.AcceptMessage(msg.ID) {
		s.droppedMessages++
		log.Debugf("sync window: dropping %s from %d", msg.ID, msg.Sender)
		return
	}

	s.arrivalSeq++
	dm := DelayedMessage{
		Msg:          msg,
		ArrivalOrder: s.arrivalSeq,
		CallCount:    s.scheduler.CallCount(),
	}
	s.msgLog.Record(LogRecord{
		ArrivalOrder: dm.ArrivalOrder,
		CallCount:    dm.CallCount,
		ID:           msg.ID,
		Sender:       msg.Sender,
		Receiver:     msg.Receiver,
		Payload:      msg.Payload,
	})

	// The sync protocol never waits behind the delayer. The scheduler holds
	// the lock for the span of every advance-call sequence; a resync request
	// buffered there would re-lock during the flush and strand the snapshot
	// and unlock messages behind itself. The synchronizer's state machine
	// orders these five messages on its own.
	if IsSyncMessage(msg.ID) {
		s.dispatch(dm)
		return
	}

	if s.delayer.ProcessMessage(dm) {
		s.dispatch(dm)
	}
}

// dispatch routes one admitted message by ID. Validation failures are
// handled here and never propagate — a bad message must not abort an
// in-progress advance sequence.
func (s *Session) dispatch(dm DelayedMessage) {
	msg := dm.Msg
	switch msg.ID {
	case protocol.AdvanceN:
		s.handleAdvance(msg)

	case protocol.IdNewGame:
		s.handleNewGame()
	case protocol.IdStartGameClicked:
		s.handleStartGameClicked()
	case protocol.IdGameStartingCompleted:
		s.handleGameStartingCompleted(msg)
	case protocol.IdGameIsStarted:
		s.handleGameIsStarted()
	case protocol.IdStatus:
		s.handleStatus(msg)
	case protocol.ChangePlayField:
		s.handleChangePlayField(msg)

	case protocol.ChangeSpecies:
		s.handleChangeSpecies(msg)
	case protocol.ChangeSide:
		s.handleChangeSide(msg)
	case protocol.ChangeTeamColor:
		s.handleChangeTeamColor(msg)

	case protocol.IdChat:
		s.handleChat(msg)
	case protocol.IdKillPlayer:
		s.handleKillPlayer(msg)
	case protocol.IdModifyMinerals:
		s.handleModifyResource(msg, false)
	case protocol.IdModifyOil:
		s.handleModifyResource(msg, true)

	case protocol.IdGameProperty:
		s.handleGameProperty(msg)

	case protocol.IdNetworkSyncCheck:
		s.sync.ReceiveNetworkSyncCheck(msg)
	case protocol.IdNetworkSyncCheckACK:
		s.sync.ReceiveNetworkSyncCheckAck(msg)
	case protocol.IdNetworkRequestSync:
		s.sync.ReceiveNetworkRequestSync(msg)
	case protocol.IdNetworkSync:
		s.sync.ReceiveNetworkSync(msg)
	case protocol.IdNetworkSyncUnlockGame:
		s.sync.ReceiveNetworkSyncUnlockGame(msg)

	default:
		s.droppedMessages++
		log.Warnf("unknown message id %d from %d, dropped", uint32(msg.ID), msg.Sender)
	}
}

// --- handlers ---

func (s *Session) handleAdvance(msg protocol.Message) {
	if s.status != StatusRun {
		log.Warnf("advance message outside a running game (status %s), dropped", s.status)
		return
	}
	var adv protocol.AdvancePayload
	if err := protocol.Decode(msg.Payload, &adv); err != nil {
		log.Warnf("malformed advance message: %v", err)
		return
	}
	// Synchronizer checkpoints first: its checksum must reflect the state
	// before this message's calls execute, the same point on every client.
	s.sync.ReceiveAdvanceMessage(s.scheduler.CallCount())
	s.scheduler.ReceiveAdvanceMessage(adv.GameSpeed)
}

// RunPendingAdvanceCalls executes every owed advance call back to back.
// The driving loop may instead spread calls over the advance interval; the
// call sequence is identical either way.
func (s *Session) RunPendingAdvanceCalls() {
	for s.scheduler.PendingCalls() > 0 {
		s.scheduler.ReceiveAdvanceCall()
	}
}

func (s *Session) handleNewGame() {
	s.status = StatusInit
	for _, p := range s.players {
		p.Defeated = false
		p.StartingCompleted = false
		p.Minerals = 0
		p.Oil = 0
	}
	s.lists.Recalculate(s.players)
	log.Info("new game: session reset")
}

func (s *Session) handleStartGameClicked() {
	if s.status != StatusInit {
		log.Warnf("start game clicked in status %s, dropped", s.status)
		return
	}
	s.status = StatusStarting
	log.Info("game starting")
}

func (s *Session) handleGameStartingCompleted(msg protocol.Message) {
	if s.status != StatusStarting {
		log.Warnf("starting-completed in status %s, dropped", s.status)
		return
	}
	var ref protocol.PlayerRefPayload
	if err := protocol.Decode(msg.Payload, &ref); err != nil {
		log.Warnf("malformed starting-completed: %v", err)
		return
	}
	p := s.FindPlayer(ref.PlayerID)
	if p == nil {
		log.Warnf("starting-completed for unknown player %d", ref.PlayerID)
		return
	}
	p.StartingCompleted = true

	if !s.admin {
		return
	}
	for _, q := range s.lists.GamePlayers() {
		if !q.StartingCompleted {
			return
		}
	}
	s.SendMessage(protocol.IdGameIsStarted, nil)
}

func (s *Session) handleGameIsStarted() {
	if s.status != StatusStarting {
		log.Warnf("game-is-started in status %s, dropped", s.status)
		return
	}
	s.status = StatusRun
	log.Info("game started")
	if s.OnGameStarted != nil {
		s.OnGameStarted()
	}
}

func (s *Session) handleStatus(msg protocol.Message) {
	var st protocol.StatusPayload
	if err := protocol.Decode(msg.Payload, &st); err != nil {
		log.Warnf("malformed status message: %v", err)
		return
	}
	if st.Status < int(StatusInit) || st.Status > int(StatusEnd) {
		log.Warnf("status message with invalid status %d, dropped", st.Status)
		return
	}
	s.status = GameStatus(st.Status)
}

func (s *Session) handleChangePlayField(msg protocol.Message) {
	if s.status == StatusRun {
		log.Warn("play field change during a running game, dropped")
		return
	}
	var pf protocol.PlayFieldPayload
	if err := protocol.Decode(msg.Payload, &pf); err != nil {
		log.Warnf("malformed play field message: %v", err)
		return
	}
	s.playField = pf.Name
}

func (s *Session) handleChangeSpecies(msg protocol.Message) {
	if s.status == StatusRun {
		log.Warn("species change during a running game, dropped")
		return
	}
	var sp protocol.SpeciesPayload
	if err := protocol.Decode(msg.Payload, &sp); err != nil {
		log.Warnf("malformed species message: %v", err)
		return
	}
	p := s.FindPlayer(sp.PlayerID)
	if p == nil {
		log.Warnf("species change for unknown player %d", sp.PlayerID)
		return
	}
	p.Species = sp.Species
	if s.OnSpeciesChanged != nil {
		s.OnSpeciesChanged(p)
	}
}

func (s *Session) handleChangeSide(msg protocol.Message) {
	if s.status == StatusRun {
		log.Warn("side change during a running game, dropped")
		return
	}
	var side protocol.SidePayload
	if err := protocol.Decode(msg.Payload, &side); err != nil {
		log.Warnf("malformed side message: %v", err)
		return
	}
	if !ValidRealPlayerID(side.NewID) {
		log.Errorf("side change to id %d rejected: real players use [%d,%d]",
			side.NewID, MinPlayerID, MaxRealPlayerID)
		return
	}
	if s.FindPlayer(side.NewID) != nil {
		log.Errorf("side change to id %d rejected: id in use", side.NewID)
		return
	}
	p := s.FindPlayer(side.PlayerID)
	if p == nil {
		log.Warnf("side change for unknown player %d", side.PlayerID)
		return
	}
	old := p.ID
	p.ID = side.NewID
	s.lists.Recalculate(s.players)
	log.Printf("player %d changed side to %d", old, p.ID)
	if s.OnSideChanged != nil {
		s.OnSideChanged(p, old)
	}
}

func (s *Session) handleChangeTeamColor(msg protocol.Message) {
	if s.status == StatusRun {
		log.Warn("team color change during a running game, dropped")
		return
	}
	var tc protocol.TeamColorPayload
	if err := protocol.Decode(msg.Payload, &tc); err != nil {
		log.Warnf("malformed team color message: %v", err)
		return
	}
	p := s.FindPlayer(tc.PlayerID)
	if p == nil {
		log.Warnf("team color change for unknown player %d", tc.PlayerID)
		return
	}
	p.TeamColor = tc.Color
	if s.OnTeamColorChanged != nil {
		s.OnTeamColorChanged(p)
	}
}

func (s *Session) handleChat(msg protocol.Message) {
	var chat protocol.ChatPayload
	if err := protocol.Decode(msg.Payload, &chat); err != nil {
		log.Warnf("malformed chat message: %v", err)
		return
	}
	if s.OnChat != nil {
		s.OnChat(chat.PlayerID, chat.Text)
	}
}

func (s *Session) handleKillPlayer(msg protocol.Message) {
	if s.status != StatusRun {
		log.Warnf("kill player outside a running game (status %s), dropped", s.status)
		return
	}
	var ref protocol.PlayerRefPayload
	if err := protocol.Decode(msg.Payload, &ref); err != nil {
		log.Warnf("malformed kill message: %v", err)
		return
	}
	p := s.FindPlayer(ref.PlayerID)
	if p == nil {
		log.Warnf("kill for unknown player %d, dropped", ref.PlayerID)
		return
	}

	removed := s.canvas.RemovePlayerUnits(p.ID)
	p.Minerals = 0
	p.Oil = 0
	p.Defeated = true
	s.lists.Recalculate(s.players)
	log.Printf("player %d (%s) killed, %d units removed", p.ID, p.Name, removed)

	s.events.QueueEvent(Event{Name: "PlayerKilled", PlayerID: p.ID, CallCount: s.scheduler.CallCount()})
	if s.OnPlayerKilled != nil {
		s.OnPlayerKilled(p, removed)
	}
	s.checkGameOver()
}

func (s *Session) checkGameOver() {
	if s.status != StatusRun {
		return
	}
	if len(s.lists.ActivePlayers()) > 1 {
		return
	}
	s.status = StatusEnd
	log.Info("game over")
	if s.OnGameOver != nil {
		s.OnGameOver()
	}
}

func (s *Session) handleModifyResource(msg protocol.Message, oil bool) {
	if s.status != StatusRun {
		log.Warnf("resource change outside a running game (status %s), dropped", s.status)
		return
	}
	var res protocol.ResourcePayload
	if err := protocol.Decode(msg.Payload, &res); err != nil {
		log.Warnf("malformed resource message: %v", err)
		return
	}
	p := s.FindPlayer(res.PlayerID)
	if p == nil {
		log.Warnf("resource change for unknown player %d, dropped", res.PlayerID)
		return
	}
	if oil {
		p.Oil += res.Amount
		if p.Oil < 0 {
			p.Oil = 0
		}
	} else {
		p.Minerals += res.Amount
		if p.Minerals < 0 {
			p.Minerals = 0
		}
	}
}

func (s *Session) handleGameProperty(msg protocol.Message) {
	var prop protocol.PropertyPayload
	if err := protocol.Decode(msg.Payload, &prop); err != nil {
		log.Warnf("malformed property message: %v", err)
		return
	}
	apply, ok := s.propAppliers[prop.Name]
	if !ok {
		log.Warnf("property message for unknown property %q, dropped", prop.Name)
		return
	}
	apply(prop.Value)
}

// --- replay ---

// LoadReplay switches the session into replay mode: live network acceptance
// is disabled and the recorded message list is fed through the exact dispatch
// path live messages use, so no replay-only logic can diverge from a real
// run.
func (s *Session) LoadReplay() {
	s.replayMode = true
	log.Info("replay mode: live network acceptance disabled")
}

// ReplayRecord feeds one recorded message through the dispatch path and runs
// any advance calls it owes.
func (s *Session) ReplayRecord(rec LogRecord) {
	if !s.replayMode {
		log.Error("ReplayRecord outside replay mode")
		return
	}
	s.ingest(protocol.Message{
		ID:       rec.ID,
		Sender:   rec.Sender,
		Receiver: rec.Receiver,
		Payload:  rec.Payload,
	})
	s.RunPendingAdvanceCalls()
}

// ReplayAll replays a full recorded log.
func (s *Session) ReplayAll(records []LogRecord) {
	for _, rec := range records {
		s.ReplayRecord(rec)
	}
}

// --- lifecycle ---

func (s *Session) raiseFault(err error) {
	if s.fault == nil {
		s.fault = err
	}
	if s.OnFault != nil {
		s.OnFault(err)
	}
}

// Stats returns a snapshot of the operational metrics the operator API and
// the metrics loop export.
func (s *Session) Stats() map[string]interface{} {
	return map[string]interface{}{
		"clientId":               s.clientID,
		"admin":                  s.admin,
		"status":                 s.status.String(),
		"playField":              s.playField,
		"gameSpeed":              s.speed.Value(),
		"paused":                 s.paused.Value(),
		"callCount":              s.scheduler.CallCount(),
		"players":                len(s.players),
		"activePlayers":          len(s.lists.ActivePlayers()),
		"delayedMessages":        s.delayer.DelayedMessageCount(),
		"delayedAdvanceMessages": s.delayer.DelayedAdvanceMessageCount(),
		"syncState":              s.sync.State().String(),
		"desyncsDetected":        s.sync.DesyncsDetected(),
		"resyncsCompleted":       s.sync.ResyncsCompleted(),
		"droppedMessages":        s.droppedMessages,
		"messageLog":             s.msgLog.Stats(),
	}
}

// Shutdown tears the session down: the message log flushes and the delayed
// buffer is dropped (the one place ClearDelayedMessages is legitimate).
func (s *Session) Shutdown() {
	s.msgLog.Stop()
	s.delayer.ClearDelayedMessages()
}
