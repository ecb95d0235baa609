package game

import (
	"path/filepath"
	"testing"

	"ironfront/internal/protocol"
)

// TestMessageLogDrainsEveryRecord verifies Stop flushes first through last record
func TestMessageLogDrainsEveryRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.jsonl")
	ml := NewMessageLog()
	if err := ml.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ids := []protocol.MessageID{
		protocol.IdStartGameClicked,
		protocol.AdvanceN,
		protocol.AdvanceN,
		protocol.IdChat,
		protocol.IdModifyMinerals,
	}
	for i, id := range ids {
		if !ml.Record(LogRecord{ArrivalOrder: uint64(i + 1), ID: id, Sender: 1}) {
			t.Fatalf("Record(%v) refused", id)
		}
	}
	ml.Stop()

	records, err := ReadLogFile(path)
	if err != nil {
		t.Fatalf("ReadLogFile: %v", err)
	}
	if len(records) != len(ids) {
		t.Fatalf("log holds %d records, want %d", len(records), len(ids))
	}
	for i, rec := range records {
		if rec.ID != ids[i] {
			t.Errorf("record %d is %v, want %v", i, rec.ID, ids[i])
		}
		if rec.ArrivalOrder != uint64(i+1) {
			t.Errorf("record %d arrival order %d, want %d", i, rec.ArrivalOrder, i+1)
		}
	}
}

// TestMessageLogCountsWithoutFile verifies recording is refused before Start
func TestMessageLogCountsWithoutFile(t *testing.T) {
	ml := NewMessageLog()
	if ml.Record(LogRecord{ID: protocol.IdChat}) {
		t.Error("Record must refuse before Start")
	}
	if ml.TotalCount() != 1 {
		t.Errorf("total count %d, want 1", ml.TotalCount())
	}
}
