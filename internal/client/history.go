package client

import (
	"math"
	"sort"

	"github.com/ferrumgames/tankserver/internal/world"
)

// Input history sizing and aging.
const (
	// maxHistory bounds the replay-capable input window. At 60 inputs
	// per second this is one second of backlog.
	maxHistory = 60

	// maxBuffered caps the unacknowledged-input buffer.
	maxBuffered = 100

	// inputTimeoutMs evicts buffered inputs the server never answered.
	inputTimeoutMs = 5000

	// cleanupSafety keeps a few acknowledged entries behind the newest
	// ack so a late correction can still replay across them.
	cleanupSafety = 10
)

// Input is one tick of movement intent, stamped for replay.
type Input struct {
	Sequence     uint32
	Timestamp    int64
	Forward      bool
	Backward     bool
	Left         bool
	Right        bool
	DeltaTime    float32
	Acknowledged bool
}

// PredictedState pairs an input sequence with the transform the local
// tank held right after that input was applied.
type PredictedState struct {
	Sequence       uint32
	Timestamp      int64
	Pos            world.Vec2
	BodyRotation   float32
	BarrelRotation float32
}

// bufferedInput is an unacknowledged input waiting on the server.
type bufferedInput struct {
	input       Input
	needsReplay bool
	ageMs       float32
}

// BufferStats summarizes the unacknowledged-input buffer for
// diagnostics.
type BufferStats struct {
	Buffered        int
	NeedingReplay   int
	OldestTimestamp int64
	AverageAgeMs    float32
}

// History assigns sequence numbers to outgoing inputs and retains
// enough state to replay them after a server correction. Sequences
// start at 1; zero means "nothing acknowledged yet" everywhere on the
// wire.
type History struct {
	nextSeq   uint32
	inputs    []Input
	predicted []PredictedState
	buffered  map[uint32]*bufferedInput
}

func NewHistory() *History {
	return &History{
		nextSeq:  1,
		buffered: make(map[uint32]*bufferedInput),
	}
}

// StoreInput assigns the next sequence number, appends the input to the
// history, and mirrors it into the unacknowledged buffer. Returns the
// assigned sequence.
func (h *History) StoreInput(in Input) uint32 {
	in.Sequence = h.nextSeq
	h.nextSeq++
	in.Acknowledged = false

	h.inputs = append(h.inputs, in)
	if len(h.inputs) > maxHistory {
		h.inputs = h.inputs[1:]
	}

	h.bufferInput(in)
	return in.Sequence
}

// bufferInput inserts into the unacknowledged buffer, evicting the
// single oldest entry by timestamp when full. Linear scan; the cap is
// small.
func (h *History) bufferInput(in Input) {
	if len(h.buffered) >= maxBuffered {
		var oldest uint32
		oldestTs := int64(math.MaxInt64)
		for seq, b := range h.buffered {
			if b.input.Timestamp < oldestTs {
				oldestTs = b.input.Timestamp
				oldest = seq
			}
		}
		delete(h.buffered, oldest)
	}
	h.buffered[in.Sequence] = &bufferedInput{input: in}
}

// RecordPrediction stores the post-input transform for a sequence.
func (h *History) RecordPrediction(ps PredictedState) {
	h.predicted = append(h.predicted, ps)
	if len(h.predicted) > maxHistory {
		h.predicted = h.predicted[1:]
	}
}

// Input returns the stored input for a sequence. Absence is normal for
// anything already pruned.
func (h *History) Input(seq uint32) (Input, bool) {
	for i := range h.inputs {
		if h.inputs[i].Sequence == seq {
			return h.inputs[i], true
		}
	}
	return Input{}, false
}

// Prediction returns the recorded post-input transform for a sequence.
func (h *History) Prediction(seq uint32) (PredictedState, bool) {
	for i := range h.predicted {
		if h.predicted[i].Sequence == seq {
			return h.predicted[i], true
		}
	}
	return PredictedState{}, false
}

// Acknowledge drops the buffered copy of a sequence and flags its
// history entry. Unknown sequences are a no-op.
func (h *History) Acknowledge(seq uint32) {
	delete(h.buffered, seq)
	for i := range h.inputs {
		if h.inputs[i].Sequence == seq {
			h.inputs[i].Acknowledged = true
			break
		}
	}
}

// MarkForReplay flags every buffered input at or after fromSeq.
func (h *History) MarkForReplay(fromSeq uint32) {
	for seq, b := range h.buffered {
		if seq >= fromSeq {
			b.needsReplay = true
		}
	}
}

// InputsToReplay returns the flagged inputs in ascending sequence
// order.
func (h *History) InputsToReplay() []Input {
	var out []Input
	for _, b := range h.buffered {
		if b.needsReplay {
			out = append(out, b.input)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// ClearReplayFlags unmarks everything after a completed replay.
func (h *History) ClearReplayFlags() {
	for _, b := range h.buffered {
		b.needsReplay = false
	}
}

// Cleanup prunes history and predictions older than the acknowledgment
// cutoff and drops buffered inputs that fell behind it.
func (h *History) Cleanup(lastAcked uint32) {
	var cutoff uint32
	if lastAcked > cleanupSafety {
		cutoff = lastAcked - cleanupSafety
	}

	for len(h.inputs) > 0 && h.inputs[0].Sequence < cutoff {
		h.inputs = h.inputs[1:]
	}
	for len(h.predicted) > 0 && h.predicted[0].Sequence < cutoff {
		h.predicted = h.predicted[1:]
	}
	for seq := range h.buffered {
		if seq < cutoff {
			delete(h.buffered, seq)
		}
	}
}

// AgeBuffer advances every buffered input's age by a frame delta.
func (h *History) AgeBuffer(dt float32) {
	for _, b := range h.buffered {
		b.ageMs += dt * 1000
	}
}

// DropTimedOut evicts buffered inputs past the age limit so a silent
// server cannot pin memory forever. Returns how many were dropped.
func (h *History) DropTimedOut() int {
	dropped := 0
	for seq, b := range h.buffered {
		if b.ageMs > inputTimeoutMs {
			delete(h.buffered, seq)
			dropped++
		}
	}
	return dropped
}

// UnackedCount returns how many inputs still await acknowledgment.
func (h *History) UnackedCount() int {
	return len(h.buffered)
}

// Stats summarizes the unacknowledged buffer.
func (h *History) Stats() BufferStats {
	s := BufferStats{Buffered: len(h.buffered)}
	var totalAge float32
	for _, b := range h.buffered {
		if b.needsReplay {
			s.NeedingReplay++
		}
		if s.OldestTimestamp == 0 || b.input.Timestamp < s.OldestTimestamp {
			s.OldestTimestamp = b.input.Timestamp
		}
		totalAge += b.ageMs
	}
	if len(h.buffered) > 0 {
		s.AverageAgeMs = totalAge / float32(len(h.buffered))
	}
	return s
}

// Len returns the number of inputs in the replay history.
func (h *History) Len() int {
	return len(h.inputs)
}

// LatestSequence returns the most recently assigned sequence, or zero
// if none has been assigned.
func (h *History) LatestSequence() uint32 {
	return h.nextSeq - 1
}

// Clear resets everything including the sequence counter.
func (h *History) Clear() {
	h.nextSeq = 1
	h.inputs = nil
	h.predicted = nil
	h.buffered = make(map[uint32]*bufferedInput)
}
