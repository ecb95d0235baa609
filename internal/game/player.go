package game

// User id ranges. Real players live in [1,255]; 256 is reserved for the
// neutral player that owns map resources and wildlife; ids through 511 are
// reserved for watchers and virtual players.
const (
	MinPlayerID     uint32 = 1
	MaxRealPlayerID uint32 = 255
	NeutralPlayerID uint32 = 256
	MaxPlayerID     uint32 = 511
)

// Player is a participant in the session. The core's responsibility toward a
// player is id assignment, derived-list membership and the mutations a
// network message can trigger; unit behavior lives in the simulation layer.
type Player struct {
	ID        uint32
	Name      string
	Species   string
	TeamColor uint32

	Minerals int64
	Oil      int64

	// InGame means the player holds an active game role, as opposed to a
	// watcher or the neutral player.
	InGame   bool
	Defeated bool
	Kicked   bool

	// StartingCompleted is authority-side bookkeeping, set when the client
	// reports IdGameStartingCompleted.
	StartingCompleted bool
}

// IsNeutral reports whether this is the reserved neutral player.
func (p *Player) IsNeutral() bool {
	return p.ID == NeutralPlayerID
}

// IsActive reports whether the player holds a game role and is still in the
// fight.
func (p *Player) IsActive() bool {
	return p.InGame && !p.Defeated && !p.Kicked
}

// ValidPlayerID reports whether id is inside the user-id namespace.
func ValidPlayerID(id uint32) bool {
	return id >= MinPlayerID && id <= MaxPlayerID
}

// ValidRealPlayerID reports whether id may be assigned to a real player.
func ValidRealPlayerID(id uint32) bool {
	return id >= MinPlayerID && id <= MaxRealPlayerID
}
