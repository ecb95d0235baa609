package game

import (
	"testing"

	"ironfront/internal/protocol"
)

func testMessage(id protocol.MessageID, order uint64) DelayedMessage {
	return DelayedMessage{
		Msg:          protocol.Message{ID: id, Sender: 1},
		ArrivalOrder: order,
	}
}

// TestDelayerOpenDelivery verifies messages pass straight through an unlocked delayer
func TestDelayerOpenDelivery(t *testing.T) {
	d := NewMessageDelayer(func(DelayedMessage) {
		t.Fatal("open delayer must not dispatch buffered messages itself")
	})

	if !d.ProcessMessage(testMessage(protocol.IdChat, 1)) {
		t.Error("unlocked delayer should admit the message for immediate delivery")
	}
	if d.DelayedMessageCount() != 0 {
		t.Errorf("expected empty buffer, got %d", d.DelayedMessageCount())
	}
}

// TestDelayerFIFOFlush verifies buffered messages flush in arrival order
func TestDelayerFIFOFlush(t *testing.T) {
	var delivered []uint64
	d := NewMessageDelayer(func(dm DelayedMessage) {
		delivered = append(delivered, dm.ArrivalOrder)
	})

	d.Lock()
	for i := uint64(1); i <= 3; i++ {
		if d.ProcessMessage(testMessage(protocol.IdChat, i)) {
			t.Fatalf("locked delayer admitted message %d", i)
		}
	}
	if d.DelayedMessageCount() != 3 {
		t.Fatalf("expected 3 buffered, got %d", d.DelayedMessageCount())
	}

	d.Unlock()

	if len(delivered) != 3 {
		t.Fatalf("expected 3 delivered, got %d", len(delivered))
	}
	for i, order := range delivered {
		if order != uint64(i+1) {
			t.Errorf("delivery %d: got arrival order %d, want %d", i, order, i+1)
		}
	}
	if d.DelayedMessageCount() != 0 {
		t.Errorf("buffer not drained: %d left", d.DelayedMessageCount())
	}
}

// TestDelayerNestedLocks verifies the lock is a depth counter, not a boolean
func TestDelayerNestedLocks(t *testing.T) {
	var delivered int
	d := NewMessageDelayer(func(DelayedMessage) { delivered++ })

	d.Lock()
	d.Lock()
	d.ProcessMessage(testMessage(protocol.IdChat, 1))

	d.Unlock()
	if !d.IsLocked() {
		t.Fatal("one unlock of two locks must leave the delayer locked")
	}
	if delivered != 0 {
		t.Fatal("flush fired before the depth reached zero")
	}

	d.Unlock()
	if d.IsLocked() {
		t.Error("delayer still locked after matching unlocks")
	}
	if delivered != 1 {
		t.Errorf("expected 1 delivered after final unlock, got %d", delivered)
	}
}

// TestDelayerUnmatchedUnlock verifies unlock without a lock is reported, not fatal
func TestDelayerUnmatchedUnlock(t *testing.T) {
	d := NewMessageDelayer(func(DelayedMessage) {})

	d.Unlock()
	d.Unlock()

	if d.IsLocked() {
		t.Error("depth must clamp at zero")
	}
	if !d.ProcessMessage(testMessage(protocol.IdChat, 1)) {
		t.Error("delayer must stay open after unmatched unlocks")
	}
}

// TestDelayerRelockDuringFlush verifies a dispatch that re-locks stops the flush
func TestDelayerRelockDuringFlush(t *testing.T) {
	var d *MessageDelayer
	var delivered []uint64
	d = NewMessageDelayer(func(dm DelayedMessage) {
		delivered = append(delivered, dm.ArrivalOrder)
		if dm.ArrivalOrder == 1 {
			d.Lock()
		}
	})

	d.Lock()
	d.ProcessMessage(testMessage(protocol.AdvanceN, 1))
	d.ProcessMessage(testMessage(protocol.IdChat, 2))
	d.Unlock()

	if len(delivered) != 1 || delivered[0] != 1 {
		t.Fatalf("flush should stop after the re-locking message, delivered %v", delivered)
	}
	if d.DelayedMessageCount() != 1 {
		t.Fatalf("expected 1 message still buffered, got %d", d.DelayedMessageCount())
	}

	d.Unlock()
	if len(delivered) != 2 || delivered[1] != 2 {
		t.Errorf("remainder should flush on the next unlock, delivered %v", delivered)
	}
}

// TestDelayerAdvanceMessageCount verifies the falling-behind health metric
func TestDelayerAdvanceMessageCount(t *testing.T) {
	d := NewMessageDelayer(func(DelayedMessage) {})

	d.Lock()
	d.ProcessMessage(testMessage(protocol.AdvanceN, 1))
	d.ProcessMessage(testMessage(protocol.IdChat, 2))
	d.ProcessMessage(testMessage(protocol.AdvanceN, 3))

	if got := d.DelayedAdvanceMessageCount(); got != 2 {
		t.Errorf("expected 2 delayed advance messages, got %d", got)
	}
	if got := d.DelayedMessageCount(); got != 3 {
		t.Errorf("expected 3 delayed messages total, got %d", got)
	}
}

// TestDelayerClear verifies teardown drops the buffer without delivering
func TestDelayerClear(t *testing.T) {
	var delivered int
	d := NewMessageDelayer(func(DelayedMessage) { delivered++ })

	d.Lock()
	d.ProcessMessage(testMessage(protocol.IdChat, 1))
	d.ClearDelayedMessages()

	if d.DelayedMessageCount() != 0 {
		t.Error("clear should empty the buffer")
	}
	d.Unlock()
	if delivered != 0 {
		t.Error("cleared messages must never be delivered")
	}
}
