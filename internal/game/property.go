package game

import (
	log "github.com/sirupsen/logrus"

	"ironfront/internal/protocol"
)

// Replicated properties come in two policies. A clean-policy value never
// applies locally on write: Propose routes it through the network and the
// write lands when the message comes back through dispatch, which is the same
// point in the message stream on every client. A local-policy value is a
// plain cell that may transiently differ between clients but must never feed
// back into simulation state.

// LocalValue is a local-policy replicated property.
type LocalValue[T any] struct {
	v T
}

// Value returns the current value.
func (l *LocalValue[T]) Value() T { return l.v }

// Set applies the value immediately, no network round-trip.
func (l *LocalValue[T]) Set(v T) { l.v = v }

// AgreedValue is a clean-policy replicated property. The zero value is not
// usable; construct with newAgreedValue and register it with a session so
// IdGameProperty messages reach apply.
type AgreedValue[T any] struct {
	name    string
	value   T
	send    func(protocol.Message)
	encode  func(T) int64
	decode  func(int64) T
	changed func(T)
}

func newAgreedValue[T any](name string, initial T, send func(protocol.Message), encode func(T) int64, decode func(int64) T) *AgreedValue[T] {
	return &AgreedValue[T]{
		name:   name,
		value:  initial,
		send:   send,
		encode: encode,
		decode: decode,
	}
}

// Value returns the last agreed value.
func (a *AgreedValue[T]) Value() T { return a.value }

// Propose requests the value change. It does NOT apply locally; the change
// takes effect on every client when the property message is dispatched.
func (a *AgreedValue[T]) Propose(v T) {
	a.send(protocol.Message{
		ID:       protocol.IdGameProperty,
		Receiver: protocol.BroadcastReceiver,
		Payload: protocol.Encode(protocol.PropertyPayload{
			Name:  a.name,
			Value: a.encode(v),
		}),
	})
}

// apply is called from the session dispatch path when the agreed write
// arrives over the network.
func (a *AgreedValue[T]) apply(raw int64) {
	a.value = a.decode(raw)
	log.Debugf("property %q agreed: %v", a.name, a.value)
	if a.changed != nil {
		a.changed(a.value)
	}
}

func encodeInt(v int) int64 { return int64(v) }
func decodeInt(v int64) int { return int(v) }

func encodeBool(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func decodeBool(v int64) bool { return v != 0 }
