package client

import (
	"log"
	"math"

	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/world"
)

// Movement tuning. These mirror the server's simulation constants;
// prediction only converges if both sides integrate identically.
const (
	moveSpeed    = 150.0
	rotateSpeed  = 200.0
	barrelLength = 30.0
)

// Reconciliation thresholds in world units of positional error.
const (
	// Below ignoreThreshold the divergence is noise; prediction keeps
	// running untouched.
	ignoreThreshold = 5.0

	// Below smoothThreshold the tank blends toward the server position
	// over several ticks.
	smoothThreshold = 30.0

	// Below snapThreshold half the error is corrected at once and
	// unacknowledged inputs are replayed; past it the tank snaps.
	snapThreshold = 50.0

	// reconcileRate scales the per-tick blend toward the server
	// position, assuming roughly 60 ticks per second.
	reconcileRate = 6.0

	// reconcileDone ends a blend once the remaining error is this
	// small.
	reconcileDone = 2.0

	// replayAimDistance rebuilds an aim point from the current barrel
	// angle during replay; the true per-tick aim point is not retained.
	replayAimDistance = 100.0

	// cleanupEvery throttles history pruning to once per this many
	// stored inputs.
	cleanupEvery = 30
)

// Tank is the locally controlled tank's predicted state.
type Tank struct {
	Pos            world.Vec2
	BodyRotation   float32
	BarrelRotation float32
	Forward        bool
	Backward       bool
	Left           bool
	Right          bool
	Health         float32
	MaxHealth      float32
	Score          int32
	Dead           bool
}

// BarrelEnd returns the muzzle position bullets spawn from.
func (t *Tank) BarrelEnd() world.Vec2 {
	rad := float64(t.BarrelRotation) * math.Pi / 180
	return world.Vec2{
		X: t.Pos.X + float32(math.Cos(rad))*barrelLength,
		Y: t.Pos.Y + float32(math.Sin(rad))*barrelLength,
	}
}

// aimAt points the barrel at a world position. Degenerate targets are
// ignored so a bad read cannot poison the angle.
func (t *Tank) aimAt(aim world.Vec2) {
	dx := float64(aim.X - t.Pos.X)
	dy := float64(aim.Y - t.Pos.Y)
	if math.IsNaN(dx) || math.IsInf(dx, 0) || math.IsNaN(dy) || math.IsInf(dy, 0) {
		return
	}
	t.BarrelRotation = float32(math.Atan2(dy, dx) * 180 / math.Pi)
}

// applyInputToTank advances the tank by one input frame using the same
// integration order the server runs: rotate, then translate along the
// new heading, then clamp into the movement rectangle.
func applyInputToTank(t *Tank, in Input, aim world.Vec2) {
	if in.Left {
		t.BodyRotation -= rotateSpeed * in.DeltaTime
	} else if in.Right {
		t.BodyRotation += rotateSpeed * in.DeltaTime
	}
	t.BodyRotation = protocol.NormalizeRotation(t.BodyRotation)

	rad := float64(t.BodyRotation) * math.Pi / 180
	dirX := float32(math.Cos(rad))
	dirY := float32(math.Sin(rad))

	if in.Forward {
		t.Pos.X += dirX * moveSpeed * in.DeltaTime
		t.Pos.Y += dirY * moveSpeed * in.DeltaTime
	} else if in.Backward {
		t.Pos.X -= dirX * moveSpeed * in.DeltaTime
		t.Pos.Y -= dirY * moveSpeed * in.DeltaTime
	}

	t.Pos.X = protocol.ClampPositionX(t.Pos.X)
	t.Pos.Y = protocol.ClampPositionY(t.Pos.Y)

	t.aimAt(aim)
}

// Predictor applies inputs locally the moment they happen and squares
// the result with the server's authoritative positions afterwards.
type Predictor struct {
	history        *History
	lastAcked      uint32
	lastCleanupSeq uint32
	enabled        bool

	// Smooth-correction state for an in-progress blend.
	reconciling    bool
	targetPos      world.Vec2
	targetRotation float32
}

func NewPredictor() *Predictor {
	return &Predictor{
		history: NewHistory(),
		enabled: true,
	}
}

func (p *Predictor) History() *History {
	return p.history
}

func (p *Predictor) SetEnabled(enabled bool) {
	p.enabled = enabled
}

func (p *Predictor) Enabled() bool {
	return p.enabled
}

// LastAcked returns the newest input sequence the server has applied.
func (p *Predictor) LastAcked() uint32 {
	return p.lastAcked
}

// Reconciling reports whether a smooth correction is in progress.
func (p *Predictor) Reconciling() bool {
	return p.reconciling
}

// Step records one tick of input, applies it to the tank immediately,
// and returns the stored input for transmission.
func (p *Predictor) Step(t *Tank, aim world.Vec2, dt float32, now int64) Input {
	in := Input{
		Timestamp: now,
		Forward:   t.Forward,
		Backward:  t.Backward,
		Left:      t.Left,
		Right:     t.Right,
		DeltaTime: dt,
	}
	in.Sequence = p.history.StoreInput(in)

	applyInputToTank(t, in, aim)

	p.history.RecordPrediction(PredictedState{
		Sequence:       in.Sequence,
		Timestamp:      now,
		Pos:            t.Pos,
		BodyRotation:   t.BodyRotation,
		BarrelRotation: t.BarrelRotation,
	})

	if in.Sequence-p.lastCleanupSeq >= cleanupEvery {
		p.history.Cleanup(p.lastAcked)
		p.lastCleanupSeq = in.Sequence
	}
	return in
}

// Acknowledge marks an input applied by the server and advances the
// acknowledgment high-water mark.
func (p *Predictor) Acknowledge(seq uint32) {
	p.history.Acknowledge(seq)
	if seq > p.lastAcked {
		p.lastAcked = seq
	}
}

// Reconcile classifies the positional error against fresh authoritative
// state and corrects the local tank: tiny errors are ignored, moderate
// ones blend over, large ones take half the correction at once, and
// anything past the snap threshold teleports and replays every input
// the server had not yet seen. The barrel is never touched; aim is
// client authoritative.
func (p *Predictor) Reconcile(t *Tank, serverPos world.Vec2, serverRotation float32) {
	if !p.enabled {
		return
	}

	dx := float64(t.Pos.X - serverPos.X)
	dy := float64(t.Pos.Y - serverPos.Y)
	errDist := float32(math.Hypot(dx, dy))

	switch {
	case errDist < ignoreThreshold:
		// Close enough; let prediction keep running.

	case errDist < smoothThreshold:
		p.targetPos = serverPos
		p.targetRotation = serverRotation
		p.reconciling = true

	case errDist < snapThreshold:
		t.Pos.X += (serverPos.X - t.Pos.X) * 0.5
		t.Pos.Y += (serverPos.Y - t.Pos.Y) * 0.5
		t.BodyRotation = serverRotation
		p.targetPos = serverPos
		p.targetRotation = serverRotation
		p.reconciling = true
		p.history.MarkForReplay(p.lastAcked + 1)
		log.Printf("Medium reconciliation: %.1f unit error", errDist)

	default:
		t.Pos = serverPos
		t.BodyRotation = serverRotation
		p.reconciling = false
		log.Printf("⚠️ Snap reconciliation: %.1f unit error", errDist)
		p.history.MarkForReplay(p.lastAcked + 1)
		p.replay(t)
	}
}

// replay reapplies every input flagged for replay in sequence order,
// aiming at a point rebuilt from the current barrel angle.
func (p *Predictor) replay(t *Tank) {
	inputs := p.history.InputsToReplay()
	if len(inputs) == 0 {
		return
	}

	rad := float64(t.BarrelRotation) * math.Pi / 180
	aim := world.Vec2{
		X: t.Pos.X + float32(math.Cos(rad))*replayAimDistance,
		Y: t.Pos.Y + float32(math.Sin(rad))*replayAimDistance,
	}

	log.Printf("Replaying %d inputs after correction", len(inputs))
	for _, in := range inputs {
		applyInputToTank(t, in, aim)
	}
	p.history.ClearReplayFlags()
}

// ContinueBlend advances an in-progress smooth correction by one tick.
func (p *Predictor) ContinueBlend(t *Tank) {
	if !p.reconciling {
		return
	}

	const factor = reconcileRate * 0.016

	t.Pos.X += (p.targetPos.X - t.Pos.X) * factor
	t.Pos.Y += (p.targetPos.Y - t.Pos.Y) * factor

	diff := protocol.AngleDifference(t.BodyRotation, p.targetRotation)
	t.BodyRotation = protocol.NormalizeRotation(t.BodyRotation + diff*factor)

	dx := float64(p.targetPos.X - t.Pos.X)
	dy := float64(p.targetPos.Y - t.Pos.Y)
	if math.Hypot(dx, dy) < reconcileDone {
		p.reconciling = false
	}
}

// Reset clears all prediction state for a reconnect.
func (p *Predictor) Reset() {
	p.history.Clear()
	p.lastAcked = 0
	p.lastCleanupSeq = 0
	p.reconciling = false
}
