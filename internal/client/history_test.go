package client

import "testing"

func storeN(h *History, n int, baseTs int64) {
	for i := 0; i < n; i++ {
		h.StoreInput(Input{
			Timestamp: baseTs + int64(i),
			Forward:   true,
			DeltaTime: 0.016,
		})
	}
}

func TestStoreInputAssignsSequencesFromOne(t *testing.T) {
	h := NewHistory()

	seq := h.StoreInput(Input{Timestamp: 1000})
	if seq != 1 {
		t.Errorf("expected first sequence 1, got %d", seq)
	}
	seq = h.StoreInput(Input{Timestamp: 1001})
	if seq != 2 {
		t.Errorf("expected second sequence 2, got %d", seq)
	}
	if h.LatestSequence() != 2 {
		t.Errorf("expected latest sequence 2, got %d", h.LatestSequence())
	}
	if h.Len() != 2 {
		t.Errorf("expected 2 stored inputs, got %d", h.Len())
	}
	if h.UnackedCount() != 2 {
		t.Errorf("expected 2 unacked inputs, got %d", h.UnackedCount())
	}
}

func TestHistoryCapsAtWindow(t *testing.T) {
	h := NewHistory()
	storeN(h, maxHistory+10, 1000)

	if h.Len() != maxHistory {
		t.Fatalf("expected history capped at %d, got %d", maxHistory, h.Len())
	}
	if _, ok := h.Input(10); ok {
		t.Error("expected oldest input 10 evicted from history")
	}
	if _, ok := h.Input(11); !ok {
		t.Error("expected input 11 still in history")
	}
}

func TestBufferEvictsOldestByTimestamp(t *testing.T) {
	h := NewHistory()
	storeN(h, maxBuffered+1, 1000)

	if h.UnackedCount() != maxBuffered {
		t.Fatalf("expected buffer capped at %d, got %d", maxBuffered, h.UnackedCount())
	}
	stats := h.Stats()
	if stats.OldestTimestamp != 1001 {
		t.Errorf("expected oldest buffered timestamp 1001 after eviction, got %d", stats.OldestTimestamp)
	}
}

func TestAcknowledgeRemovesFromBuffer(t *testing.T) {
	h := NewHistory()
	storeN(h, 3, 1000)

	h.Acknowledge(2)

	if h.UnackedCount() != 2 {
		t.Errorf("expected 2 unacked after ack, got %d", h.UnackedCount())
	}
	in, ok := h.Input(2)
	if !ok {
		t.Fatal("expected input 2 still in history")
	}
	if !in.Acknowledged {
		t.Error("expected input 2 flagged acknowledged")
	}

	// Acking the same or an unknown sequence is a no-op.
	h.Acknowledge(2)
	h.Acknowledge(99)
	if h.UnackedCount() != 2 {
		t.Errorf("expected unacked count unchanged, got %d", h.UnackedCount())
	}
}

func TestMarkForReplayReturnsAscending(t *testing.T) {
	h := NewHistory()
	storeN(h, 5, 1000)
	h.Acknowledge(1)
	h.Acknowledge(2)

	h.MarkForReplay(3)

	inputs := h.InputsToReplay()
	if len(inputs) != 3 {
		t.Fatalf("expected 3 inputs to replay, got %d", len(inputs))
	}
	for i, in := range inputs {
		want := uint32(3 + i)
		if in.Sequence != want {
			t.Errorf("expected replay input %d to have sequence %d, got %d", i, want, in.Sequence)
		}
	}

	h.ClearReplayFlags()
	if got := len(h.InputsToReplay()); got != 0 {
		t.Errorf("expected no replay inputs after clearing flags, got %d", got)
	}
}

func TestCleanupKeepsSafetyWindow(t *testing.T) {
	h := NewHistory()
	storeN(h, 30, 1000)

	h.Cleanup(25)

	if _, ok := h.Input(14); ok {
		t.Error("expected input 14 pruned below cutoff")
	}
	if _, ok := h.Input(15); !ok {
		t.Error("expected input 15 kept at cutoff")
	}
	for seq := range h.buffered {
		if seq < 15 {
			t.Errorf("expected buffered input %d pruned", seq)
		}
	}
}

func TestCleanupWithLowAckKeepsEverything(t *testing.T) {
	h := NewHistory()
	storeN(h, 5, 1000)

	h.Cleanup(3)

	if h.Len() != 5 {
		t.Errorf("expected all 5 inputs kept with ack below safety window, got %d", h.Len())
	}
}

func TestDropTimedOutEvictsStaleInputs(t *testing.T) {
	h := NewHistory()
	storeN(h, 2, 1000)

	h.AgeBuffer(3.0)
	if dropped := h.DropTimedOut(); dropped != 0 {
		t.Fatalf("expected nothing dropped at 3s, got %d", dropped)
	}

	h.AgeBuffer(2.5)
	if dropped := h.DropTimedOut(); dropped != 2 {
		t.Errorf("expected 2 inputs dropped past timeout, got %d", dropped)
	}
	if h.UnackedCount() != 0 {
		t.Errorf("expected empty buffer after timeout, got %d", h.UnackedCount())
	}
}

func TestBufferStats(t *testing.T) {
	h := NewHistory()
	storeN(h, 4, 2000)
	h.Acknowledge(1)
	h.MarkForReplay(3)
	h.AgeBuffer(0.5)

	stats := h.Stats()
	if stats.Buffered != 3 {
		t.Errorf("expected 3 buffered, got %d", stats.Buffered)
	}
	if stats.NeedingReplay != 2 {
		t.Errorf("expected 2 needing replay, got %d", stats.NeedingReplay)
	}
	if stats.OldestTimestamp != 2001 {
		t.Errorf("expected oldest timestamp 2001, got %d", stats.OldestTimestamp)
	}
	if stats.AverageAgeMs < 499 || stats.AverageAgeMs > 501 {
		t.Errorf("expected average age near 500ms, got %.1f", stats.AverageAgeMs)
	}
}

func TestPredictionRecordLookup(t *testing.T) {
	h := NewHistory()
	seq := h.StoreInput(Input{Timestamp: 1000})
	h.RecordPrediction(PredictedState{Sequence: seq, Timestamp: 1000, BodyRotation: 45})

	ps, ok := h.Prediction(seq)
	if !ok {
		t.Fatal("expected prediction for stored sequence")
	}
	if ps.BodyRotation != 45 {
		t.Errorf("expected recorded rotation 45, got %.1f", ps.BodyRotation)
	}
	if _, ok := h.Prediction(99); ok {
		t.Error("expected no prediction for unknown sequence")
	}
}

func TestClearResetsSequenceCounter(t *testing.T) {
	h := NewHistory()
	storeN(h, 10, 1000)

	h.Clear()

	if h.LatestSequence() != 0 {
		t.Errorf("expected latest sequence 0 after clear, got %d", h.LatestSequence())
	}
	if seq := h.StoreInput(Input{Timestamp: 2000}); seq != 1 {
		t.Errorf("expected sequence restart at 1, got %d", seq)
	}
}

func BenchmarkStoreInput(b *testing.B) {
	h := NewHistory()
	for i := 0; i < b.N; i++ {
		h.StoreInput(Input{Timestamp: int64(i), Forward: true, DeltaTime: 0.016})
		if i%30 == 0 {
			h.Cleanup(uint32(i))
		}
	}
}
