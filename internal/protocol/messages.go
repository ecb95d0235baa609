// Package protocol defines the message-ID namespace shared by every client in
// a session and the binary framing used for snapshot and log streams.
//
// The ID values are stable within a protocol version. Unknown IDs must be
// dropped with a warning, never treated as fatal, so that newer clients can
// talk to older servers during a rolling upgrade.
package protocol

import "encoding/json"

// MessageID identifies the kind of a network message.
type MessageID uint32

const (
	// AdvanceN requests the receiver to execute N simulation steps, where N
	// is the game speed carried in the payload. This is the lockstep tick.
	AdvanceN MessageID = 10000 + iota
	IdNewGame
	IdStartGameClicked
	IdGameIsStarted
	ChangeSpecies
	ChangeSide
	ChangeTeamColor
	ChangePlayField
	IdChat
	IdKillPlayer
	IdModifyMinerals
	IdModifyOil
	IdGameStartingCompleted
	IdNetworkSyncCheck
	IdNetworkSyncCheckACK
	IdNetworkRequestSync
	IdNetworkSync
	IdNetworkSyncUnlockGame
	IdStatus
	IdGameProperty
)

// String returns the wire name of the message ID for logs and diagnostics.
func (id MessageID) String() string {
	switch id {
	case AdvanceN:
		return "AdvanceN"
	case IdNewGame:
		return "IdNewGame"
	case IdStartGameClicked:
		return "IdStartGameClicked"
	case IdGameIsStarted:
		return "IdGameIsStarted"
	case ChangeSpecies:
		return "ChangeSpecies"
	case ChangeSide:
		return "ChangeSide"
	case ChangeTeamColor:
		return "ChangeTeamColor"
	case ChangePlayField:
		return "ChangePlayField"
	case IdChat:
		return "IdChat"
	case IdKillPlayer:
		return "IdKillPlayer"
	case IdModifyMinerals:
		return "IdModifyMinerals"
	case IdModifyOil:
		return "IdModifyOil"
	case IdGameStartingCompleted:
		return "IdGameStartingCompleted"
	case IdNetworkSyncCheck:
		return "IdNetworkSyncCheck"
	case IdNetworkSyncCheckACK:
		return "IdNetworkSyncCheckACK"
	case IdNetworkRequestSync:
		return "IdNetworkRequestSync"
	case IdNetworkSync:
		return "IdNetworkSync"
	case IdNetworkSyncUnlockGame:
		return "IdNetworkSyncUnlockGame"
	case IdStatus:
		return "IdStatus"
	case IdGameProperty:
		return "IdGameProperty"
	default:
		return "unknown"
	}
}

// KnownIDs lists every message ID of the current protocol version, in wire
// order. Used by the dispatch gate tests to make sure no ID falls through a
// switch unnoticed.
func KnownIDs() []MessageID {
	return []MessageID{
		AdvanceN, IdNewGame, IdStartGameClicked, IdGameIsStarted,
		ChangeSpecies, ChangeSide, ChangeTeamColor, ChangePlayField,
		IdChat, IdKillPlayer, IdModifyMinerals, IdModifyOil,
		IdGameStartingCompleted, IdNetworkSyncCheck, IdNetworkSyncCheckACK,
		IdNetworkRequestSync, IdNetworkSync, IdNetworkSyncUnlockGame,
		IdStatus, IdGameProperty,
	}
}

// BroadcastReceiver addresses a message to every client in the session.
const BroadcastReceiver uint32 = 0

// Message is a raw network message as delivered by the transport. Payload
// encoding is per-ID; most payloads are small JSON documents, snapshots are
// opaque binary streams.
type Message struct {
	ID       MessageID `json:"id"`
	Sender   uint32    `json:"sender"`
	Receiver uint32    `json:"receiver"`
	Payload  []byte    `json:"payload,omitempty"`
}

// Typed payloads. Encode/Decode helpers keep call sites short; a decode error
// is a malformed-message condition that the dispatcher drops with a warning.

// AdvancePayload carries the game speed of an AdvanceN message.
type AdvancePayload struct {
	GameSpeed int `json:"gameSpeed"`
}

// PlayerRefPayload addresses a mutation at a single player.
type PlayerRefPayload struct {
	PlayerID uint32 `json:"playerId"`
}

// ResourcePayload modifies a player's mineral or oil count.
type ResourcePayload struct {
	PlayerID uint32 `json:"playerId"`
	Amount   int64  `json:"amount"`
}

// SidePayload requests a new user id for a player.
type SidePayload struct {
	PlayerID uint32 `json:"playerId"`
	NewID    uint32 `json:"newId"`
}

// SpeciesPayload changes a player's species theme.
type SpeciesPayload struct {
	PlayerID uint32 `json:"playerId"`
	Species  string `json:"species"`
}

// TeamColorPayload changes a player's team color.
type TeamColorPayload struct {
	PlayerID uint32 `json:"playerId"`
	Color    uint32 `json:"color"`
}

// PlayFieldPayload selects the map to play on.
type PlayFieldPayload struct {
	Name string `json:"name"`
}

// ChatPayload is a chat line relayed to every client.
type ChatPayload struct {
	PlayerID uint32 `json:"playerId"`
	Text     string `json:"text"`
}

// SyncCheckPayload carries the authority's checksum at a given call count.
type SyncCheckPayload struct {
	CallCount uint32 `json:"callCount"`
	Checksum  uint64 `json:"checksum"`
}

// SyncCheckACKPayload is a client's reply to a sync check.
type SyncCheckACKPayload struct {
	CallCount uint32 `json:"callCount"`
	Checksum  uint64 `json:"checksum"`
	Match     bool   `json:"match"`
}

// PropertyPayload routes a clean-policy property write through the network so
// every client applies it at the same point in the message stream.
type PropertyPayload struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// StatusPayload announces a game status transition.
type StatusPayload struct {
	Status int `json:"status"`
}

// Encode marshals a typed payload. Marshalling config-free structs cannot
// fail; a nil return still makes the message well-formed (empty payload).
func Encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// Decode unmarshals a payload into the given struct.
func Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
