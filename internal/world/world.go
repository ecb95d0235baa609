// Package world is the simulation layer driven by the lockstep core: a small
// deterministic unit world. Every mutation happens inside Advance, uses
// integer math only, and iterates units in id order, so two worlds fed the
// same advance-call sequence stay bit-identical — which is exactly what the
// synchronizer's checksums verify.
package world

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"sort"

	"github.com/pkg/errors"

	"ironfront/internal/protocol"
)

// Unit is a single simulated entity. Coordinates are fixed-point (1/16 cell)
// to keep movement integer-only.
type Unit struct {
	ID      uint32
	Owner   uint32
	X, Y    int32
	TX, TY  int32 // movement target
	Health  int32
	Attack  int32
	Range   int32
	Speed   int32
	Defense int32
}

// World is the canonical simulation state.
type World struct {
	units  map[uint32]*Unit
	nextID uint32

	width, height int32

	// order is the id-sorted iteration slice, rebuilt lazily after spawn or
	// removal. Map iteration order would break determinism.
	order      []uint32
	orderDirty bool
}

// New creates an empty world of the given size in cells.
func New(width, height int32) *World {
	return &World{
		units:  make(map[uint32]*Unit),
		nextID: 1,
		width:  width * 16,
		height: height * 16,
	}
}

// SpawnUnit adds a unit for owner at cell coordinates and returns its id.
func (w *World) SpawnUnit(owner uint32, cellX, cellY int32) uint32 {
	id := w.nextID
	w.nextID++
	w.units[id] = &Unit{
		ID:      id,
		Owner:   owner,
		X:       cellX * 16,
		Y:       cellY * 16,
		TX:      cellX * 16,
		TY:      cellY * 16,
		Health:  100,
		Attack:  5,
		Range:   32,
		Speed:   4,
		Defense: 1,
	}
	w.orderDirty = true
	return id
}

// MoveUnit sets a unit's movement target. Unknown ids are ignored; the order
// the command arrived in is already fixed by the message stream.
func (w *World) MoveUnit(id uint32, cellX, cellY int32) {
	u, ok := w.units[id]
	if !ok {
		return
	}
	u.TX = clamp(cellX*16, 0, w.width)
	u.TY = clamp(cellY*16, 0, w.height)
}

// Unit returns the unit with the given id, or nil.
func (w *World) Unit(id uint32) *Unit {
	return w.units[id]
}

// UnitCount returns the number of live units.
func (w *World) UnitCount() int {
	return len(w.units)
}

// UnitsOwnedBy returns the number of live units owned by the given player.
func (w *World) UnitsOwnedBy(owner uint32) int {
	n := 0
	for _, u := range w.units {
		if u.Owner == owner {
			n++
		}
	}
	return n
}

// RemovePlayerUnits deletes every unit owned by the given player. Called by
// the session when a player is killed.
func (w *World) RemovePlayerUnits(owner uint32) int {
	removed := 0
	for id, u := range w.units {
		if u.Owner == owner {
			delete(w.units, id)
			removed++
		}
	}
	if removed > 0 {
		w.orderDirty = true
	}
	return removed
}

// Advance executes one simulation step. callCount is the global advance-call
// counter; it seeds nothing — the step is a pure function of current state.
func (w *World) Advance(callCount uint32) {
	ids := w.sortedIDs()

	// Movement first, id order.
	for _, id := range ids {
		u := w.units[id]
		if u == nil {
			continue
		}
		u.X = step(u.X, u.TX, u.Speed)
		u.Y = step(u.Y, u.TY, u.Speed)
	}

	// Combat second: each unit strikes the lowest-id enemy in range. Damage
	// is accumulated and applied after all strikes so strike order within a
	// call cannot matter.
	damage := make(map[uint32]int32)
	for _, id := range ids {
		u := w.units[id]
		if u == nil {
			continue
		}
		if target := w.nearestEnemy(u, ids); target != nil {
			dmg := u.Attack - target.Defense
			if dmg < 1 {
				dmg = 1
			}
			damage[target.ID] += dmg
		}
	}
	for id, dmg := range damage {
		u := w.units[id]
		u.Health -= dmg
		if u.Health <= 0 {
			delete(w.units, id)
			w.orderDirty = true
		}
	}
}

// nearestEnemy returns the closest in-range enemy of u, lowest id winning
// ties. Returns nil if nothing is in range.
func (w *World) nearestEnemy(u *Unit, ids []uint32) *Unit {
	var best *Unit
	var bestDist int64 = -1
	for _, id := range ids {
		t := w.units[id]
		if t == nil || t.Owner == u.Owner || t.ID == u.ID {
			continue
		}
		dx := int64(t.X - u.X)
		dy := int64(t.Y - u.Y)
		d := dx*dx + dy*dy
		r := int64(u.Range)
		if d > r*r {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best = t
			bestDist = d
		}
	}
	return best
}

func (w *World) sortedIDs() []uint32 {
	if w.orderDirty || len(w.order) != len(w.units) {
		w.order = w.order[:0]
		for id := range w.units {
			w.order = append(w.order, id)
		}
		sort.Slice(w.order, func(i, j int) bool { return w.order[i] < w.order[j] })
		w.orderDirty = false
	}
	return w.order
}

// Checksum returns an FNV-1a digest of the canonical state encoding. Cheap
// enough to run every few advance messages.
func (w *World) Checksum() uint64 {
	h := fnv.New64a()
	// hash.Write never returns an error.
	_, _ = h.Write(w.encode())
	return h.Sum64()
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func step(pos, target, speed int32) int32 {
	switch {
	case pos < target:
		if target-pos < speed {
			return target
		}
		return pos + speed
	case pos > target:
		if pos-target < speed {
			return target
		}
		return pos - speed
	default:
		return pos
	}
}

// encode produces the canonical binary encoding: header fields, then every
// unit in id order. Used by both Checksum and Serialize so the checksum
// always agrees with what a snapshot would carry.
func (w *World) encode() []byte {
	ids := w.sortedIDs()
	var buf bytes.Buffer
	write := func(v interface{}) {
		// bytes.Buffer writes cannot fail.
		_ = binary.Write(&buf, binary.BigEndian, v)
	}
	write(w.width)
	write(w.height)
	write(w.nextID)
	write(uint32(len(ids)))
	for _, id := range ids {
		u := w.units[id]
		write(u.ID)
		write(u.Owner)
		write(u.X)
		write(u.Y)
		write(u.TX)
		write(u.TY)
		write(u.Health)
		write(u.Attack)
		write(u.Range)
		write(u.Speed)
		write(u.Defense)
	}
	return buf.Bytes()
}

// Serialize returns the full world state framed as a snapshot stream.
func (w *World) Serialize() ([]byte, error) {
	return protocol.FrameStream(w.encode()), nil
}

// Load replaces the entire world state from a snapshot stream. The new state
// is decoded into a scratch world first and only swapped in on success, so a
// corrupt stream leaves the receiver untouched for diagnostics — the session
// still treats the failure as fatal.
func (w *World) Load(data []byte) error {
	payload, err := protocol.ReadStream(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "decode sync snapshot")
	}
	r := bytes.NewReader(payload)
	read := func(v interface{}) error {
		return binary.Read(r, binary.BigEndian, v)
	}

	scratch := World{units: make(map[uint32]*Unit)}
	var count uint32
	if err := read(&scratch.width); err != nil {
		return errors.Wrap(err, "decode sync snapshot")
	}
	if err := read(&scratch.height); err != nil {
		return errors.Wrap(err, "decode sync snapshot")
	}
	if err := read(&scratch.nextID); err != nil {
		return errors.Wrap(err, "decode sync snapshot")
	}
	if err := read(&count); err != nil {
		return errors.Wrap(err, "decode sync snapshot")
	}
	for i := uint32(0); i < count; i++ {
		var u Unit
		for _, field := range []interface{}{
			&u.ID, &u.Owner, &u.X, &u.Y, &u.TX, &u.TY,
			&u.Health, &u.Attack, &u.Range, &u.Speed, &u.Defense,
		} {
			if err := read(field); err != nil {
				return errors.Wrapf(err, "decode sync snapshot: unit %d of %d", i, count)
			}
		}
		scratch.units[u.ID] = &u
	}

	w.units = scratch.units
	w.nextID = scratch.nextID
	w.width = scratch.width
	w.height = scratch.height
	w.orderDirty = true
	return nil
}
