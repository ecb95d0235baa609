package game

// PlayerLists maintains the three derived views over the canonical player
// collection: everyone (neutral and defeated included), players holding an
// active game role, and game players not yet defeated. The views are pure
// projections — rebuilt from scratch on every add or remove, never patched in
// place, so a reader always sees either the previous consistent snapshot or
// the next one.
type PlayerLists struct {
	all        []*Player
	gamePlayer []*Player
	active     []*Player
}

// NewPlayerLists returns empty derived lists.
func NewPlayerLists() *PlayerLists {
	return &PlayerLists{}
}

// Recalculate rebuilds all three views from the canonical list.
func (l *PlayerLists) Recalculate(full []*Player) {
	l.recalculate(full, nil)
}

// RecalculateWithRemoved rebuilds the views while guaranteeing removed is
// absent from every one of them, even if the canonical list has not been
// updated yet. This closes the window where an event observer could still
// see a player that is already gone.
func (l *PlayerLists) RecalculateWithRemoved(full []*Player, removed *Player) {
	l.recalculate(full, removed)
}

func (l *PlayerLists) recalculate(full []*Player, removed *Player) {
	all := make([]*Player, 0, len(full))
	gamePlayer := make([]*Player, 0, len(full))
	active := make([]*Player, 0, len(full))

	for _, p := range full {
		if p == nil || p == removed {
			continue
		}
		all = append(all, p)
		if !p.InGame {
			continue
		}
		gamePlayer = append(gamePlayer, p)
		if !p.Defeated && !p.Kicked {
			active = append(active, p)
		}
	}

	l.all = all
	l.gamePlayer = gamePlayer
	l.active = active
}

// All returns every player including the neutral and defeated ones.
func (l *PlayerLists) All() []*Player { return l.all }

// GamePlayers returns the players holding an active game role.
func (l *PlayerLists) GamePlayers() []*Player { return l.gamePlayer }

// ActivePlayers returns the game players who are not defeated or kicked.
func (l *PlayerLists) ActivePlayers() []*Player { return l.active }
