package client

import (
	"log"
	"math"
	"sort"

	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/world"
)

// Interpolation timing, in milliseconds of render-clock time.
const (
	// maxSnapshots bounds each entity's buffer. At 30 states per second
	// this is roughly two seconds of sightings.
	maxSnapshots = 64

	// defaultDelayMs is how far the render clock trails the newest
	// server timestamp until an RTT estimate sizes it properly.
	defaultDelayMs = 100
	minDelayMs     = 50
	maxDelayMs     = 200

	// maxExtrapolationMs caps how far past the newest snapshot an
	// entity is projected before it freezes in place.
	maxExtrapolationMs = 100

	// extrapolationBlendMs is how long a returning entity eases from
	// its projected position back onto the snapshot track.
	extrapolationBlendMs = 200
)

// Velocity derivation gates. Snapshot pairs outside the gap window give
// zero velocity; magnitudes are clamped to reject timing-glitch
// outliers.
const (
	minVelocityGapSec  = 0.001
	maxVelocityGapSec  = 0.3
	maxLinearVelocity  = 500.0
	maxAngularVelocity = 1080.0
)

// Snapshot is one authoritative sighting of a remote entity. Velocity
// and angular velocity are derived on insert from the chronological
// predecessor, never taken from the wire.
type Snapshot struct {
	Timestamp      int64
	Pos            world.Vec2
	BodyRotation   float32
	BarrelRotation float32
	Forward        bool
	Backward       bool
	Left           bool
	Right          bool

	velocity        world.Vec2
	angularVelocity float32
}

func (s *Snapshot) moving() bool {
	return s.Forward || s.Backward || s.Left || s.Right
}

// RenderState is a transform sampled from the snapshot stream at render
// time, ready to draw.
type RenderState struct {
	Pos            world.Vec2
	BodyRotation   float32
	BarrelRotation float32
	Moving         bool
	Extrapolated   bool
}

func snapshotState(s Snapshot) RenderState {
	return RenderState{
		Pos:            s.Pos,
		BodyRotation:   s.BodyRotation,
		BarrelRotation: s.BarrelRotation,
		Moving:         s.moving(),
	}
}

// entityBuffer holds one entity's snapshots in timestamp order.
type entityBuffer struct {
	snapshots []Snapshot
	cachedIdx int

	// Extrapolation episode state, kept so a returning entity blends
	// back instead of snapping.
	extrapolating      bool
	extrapolationStart int64
	lastExtrapolated   RenderState
}

// add inserts a snapshot at its chronological position. A duplicate
// timestamp overwrites in place; out-of-order arrivals still derive
// velocity from the true predecessor.
func (b *entityBuffer) add(s Snapshot) {
	idx := sort.Search(len(b.snapshots), func(i int) bool {
		return b.snapshots[i].Timestamp >= s.Timestamp
	})

	if idx > 0 {
		prev := b.snapshots[idx-1]
		s.velocity = deriveVelocity(prev, s)
		s.angularVelocity = deriveAngularVelocity(prev, s)
	}

	switch {
	case idx == len(b.snapshots):
		b.snapshots = append(b.snapshots, s)
	case b.snapshots[idx].Timestamp == s.Timestamp:
		b.snapshots[idx] = s
	default:
		b.snapshots = append(b.snapshots, Snapshot{})
		copy(b.snapshots[idx+1:], b.snapshots[idx:])
		b.snapshots[idx] = s
	}

	for len(b.snapshots) > maxSnapshots {
		b.snapshots = b.snapshots[1:]
		if b.cachedIdx > 0 {
			b.cachedIdx--
		}
	}
}

func (b *entityBuffer) latest() (Snapshot, bool) {
	if len(b.snapshots) == 0 {
		return Snapshot{}, false
	}
	return b.snapshots[len(b.snapshots)-1], true
}

// stateAt samples the buffer at renderTime: interpolating between the
// bracketing snapshots, extrapolating past the newest one, and blending
// back onto the track when an extrapolation episode ends.
func (b *entityBuffer) stateAt(renderTime int64) (RenderState, bool) {
	if len(b.snapshots) == 0 {
		return RenderState{}, false
	}
	if len(b.snapshots) < 2 {
		return snapshotState(b.snapshots[0]), true
	}

	newest := b.snapshots[len(b.snapshots)-1]
	if renderTime > newest.Timestamp {
		if !b.extrapolating {
			b.extrapolating = true
			b.extrapolationStart = renderTime
		}
		return b.extrapolate(newest, renderTime), true
	}

	before, after, ok := b.bracket(renderTime)
	if !ok {
		b.extrapolating = false
		return snapshotState(newest), true
	}

	var t float32
	if span := after.Timestamp - before.Timestamp; span > 0 {
		t = float32(renderTime-before.Timestamp) / float32(span)
	}
	state := interpolate(before, after, t)

	if b.extrapolating {
		// Ease from the frozen projected state onto the live track over
		// the blend window, measured from the episode start.
		blend := float32(renderTime-b.extrapolationStart) / extrapolationBlendMs
		if blend < 1 {
			return blendStates(b.lastExtrapolated, state, blend), true
		}
		b.extrapolating = false
	}
	return state, true
}

// bracket finds the snapshot pair surrounding renderTime. The render
// clock advances a frame at a time, so the cached index almost always
// still holds; otherwise scan forward, then backward, then clamp to the
// buffer edges.
func (b *entityBuffer) bracket(renderTime int64) (before, after Snapshot, ok bool) {
	n := len(b.snapshots)
	if n < 2 {
		return Snapshot{}, Snapshot{}, false
	}

	if b.cachedIdx < n-1 &&
		b.snapshots[b.cachedIdx].Timestamp <= renderTime &&
		renderTime < b.snapshots[b.cachedIdx+1].Timestamp {
		return b.snapshots[b.cachedIdx], b.snapshots[b.cachedIdx+1], true
	}

	for i := b.cachedIdx + 1; i < n-1; i++ {
		if b.snapshots[i].Timestamp <= renderTime && renderTime < b.snapshots[i+1].Timestamp {
			b.cachedIdx = i
			return b.snapshots[i], b.snapshots[i+1], true
		}
	}

	for i := b.cachedIdx - 1; i >= 0 && i < n-1; i-- {
		if b.snapshots[i].Timestamp <= renderTime && renderTime < b.snapshots[i+1].Timestamp {
			b.cachedIdx = i
			return b.snapshots[i], b.snapshots[i+1], true
		}
	}

	// Before the whole buffer: freeze at the first snapshot rather than
	// projecting backward in time.
	if renderTime < b.snapshots[0].Timestamp {
		b.cachedIdx = 0
		return b.snapshots[0], b.snapshots[0], true
	}

	b.cachedIdx = n - 2
	return b.snapshots[n-2], b.snapshots[n-1], true
}

// extrapolate projects the newest snapshot forward, clamped to the
// horizon. The barrel is aim driven on its owner's side, so it holds
// its last known angle instead of swinging with the hull.
func (b *entityBuffer) extrapolate(newest Snapshot, renderTime int64) RenderState {
	aheadMs := renderTime - newest.Timestamp
	if aheadMs > maxExtrapolationMs {
		aheadMs = maxExtrapolationMs
	}

	state := snapshotState(newest)
	state.Extrapolated = true
	if aheadMs <= 0 {
		return state
	}

	sec := float32(aheadMs) / 1000
	state.Pos.X += newest.velocity.X * sec
	state.Pos.Y += newest.velocity.Y * sec
	state.BodyRotation = protocol.NormalizeRotation(newest.BodyRotation + newest.angularVelocity*sec)

	b.lastExtrapolated = state
	return state
}

// cleanup drops snapshots well behind the render clock, always keeping
// at least two so interpolation can continue.
func (b *entityBuffer) cleanup(renderTime, marginMs int64) {
	cutoff := renderTime - marginMs
	for len(b.snapshots) > 2 && b.snapshots[0].Timestamp < cutoff {
		b.snapshots = b.snapshots[1:]
		if b.cachedIdx > 0 {
			b.cachedIdx--
		}
	}
}

func interpolate(before, after Snapshot, t float32) RenderState {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return RenderState{
		Pos: world.Vec2{
			X: before.Pos.X + (after.Pos.X-before.Pos.X)*t,
			Y: before.Pos.Y + (after.Pos.Y-before.Pos.Y)*t,
		},
		BodyRotation:   interpolateAngle(before.BodyRotation, after.BodyRotation, t),
		BarrelRotation: interpolateAngle(before.BarrelRotation, after.BarrelRotation, t),
		Moving:         after.moving(),
	}
}

// interpolateAngle blends along the shortest path with smoothstep
// easing, returning an angle in [0, 360).
func interpolateAngle(from, to, t float32) float32 {
	diff := protocol.AngleDifference(from, to)
	smooth := t * t * (3 - 2*t)
	return protocol.NormalizeRotation(from + diff*smooth)
}

func blendStates(from, to RenderState, t float32) RenderState {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return RenderState{
		Pos: world.Vec2{
			X: from.Pos.X + (to.Pos.X-from.Pos.X)*t,
			Y: from.Pos.Y + (to.Pos.Y-from.Pos.Y)*t,
		},
		BodyRotation:   interpolateAngle(from.BodyRotation, to.BodyRotation, t),
		BarrelRotation: interpolateAngle(from.BarrelRotation, to.BarrelRotation, t),
		Moving:         to.Moving,
		Extrapolated:   to.Extrapolated,
	}
}

// deriveVelocity computes linear velocity between two snapshots. Pairs
// closer than a millisecond or further than the gap window apart give
// zero; the magnitude is clamped to the fastest plausible entity.
func deriveVelocity(older, newer Snapshot) world.Vec2 {
	if newer.Timestamp <= older.Timestamp {
		return world.Vec2{}
	}
	sec := float32(newer.Timestamp-older.Timestamp) / 1000
	if sec < minVelocityGapSec || sec > maxVelocityGapSec {
		return world.Vec2{}
	}

	v := world.Vec2{
		X: (newer.Pos.X - older.Pos.X) / sec,
		Y: (newer.Pos.Y - older.Pos.Y) / sec,
	}
	mag := float32(math.Hypot(float64(v.X), float64(v.Y)))
	if mag > maxLinearVelocity {
		scale := maxLinearVelocity / mag
		v.X *= scale
		v.Y *= scale
	}
	return v
}

// deriveAngularVelocity computes hull rotation speed between two
// snapshots under the same gates as deriveVelocity.
func deriveAngularVelocity(older, newer Snapshot) float32 {
	if newer.Timestamp <= older.Timestamp {
		return 0
	}
	sec := float32(newer.Timestamp-older.Timestamp) / 1000
	if sec < minVelocityGapSec || sec > maxVelocityGapSec {
		return 0
	}

	w := protocol.AngleDifference(older.BodyRotation, newer.BodyRotation) / sec
	if w > maxAngularVelocity {
		w = maxAngularVelocity
	} else if w < -maxAngularVelocity {
		w = -maxAngularVelocity
	}
	return w
}

// Interpolator runs one snapshot buffer per remote entity and owns the
// render clock they are all sampled against. Not safe for concurrent
// use.
type Interpolator struct {
	buffers     map[uint32]*entityBuffer
	renderTime  int64
	delayMs     int64
	enabled     bool
	initialized bool
}

func NewInterpolator() *Interpolator {
	return &Interpolator{
		buffers: make(map[uint32]*entityBuffer),
		delayMs: defaultDelayMs,
		enabled: true,
	}
}

// Initialize anchors the render clock the configured delay behind the
// given time base, usually the newest server timestamp.
func (ip *Interpolator) Initialize(baseTime int64) {
	ip.renderTime = baseTime - ip.delayMs
	ip.initialized = true
	log.Printf("✅ Interpolation started: %dms behind server time", ip.delayMs)
}

func (ip *Interpolator) Initialized() bool {
	return ip.initialized
}

// Advance moves the render clock forward by a frame delta and prunes
// snapshots that fell behind it.
func (ip *Interpolator) Advance(dt float32) {
	if !ip.enabled || !ip.initialized {
		return
	}
	ip.renderTime += int64(dt * 1000)
	margin := ip.delayMs * 2
	for _, b := range ip.buffers {
		b.cleanup(ip.renderTime, margin)
	}
}

// AddSnapshot records an authoritative sighting of an entity.
func (ip *Interpolator) AddSnapshot(entityID uint32, s Snapshot) {
	b, ok := ip.buffers[entityID]
	if !ok {
		b = &entityBuffer{}
		ip.buffers[entityID] = b
	}
	b.add(s)
}

// EntityState samples an entity at the current render time. With
// interpolation disabled it returns the newest snapshot raw.
func (ip *Interpolator) EntityState(entityID uint32) (RenderState, bool) {
	b, ok := ip.buffers[entityID]
	if !ok {
		return RenderState{}, false
	}
	if !ip.enabled {
		s, ok := b.latest()
		if !ok {
			return RenderState{}, false
		}
		return snapshotState(s), true
	}
	return b.stateAt(ip.renderTime)
}

// LatestSnapshot returns an entity's newest sighting without sampling.
func (ip *Interpolator) LatestSnapshot(entityID uint32) (Snapshot, bool) {
	b, ok := ip.buffers[entityID]
	if !ok {
		return Snapshot{}, false
	}
	return b.latest()
}

// RemoveEntity drops an entity's buffer once it leaves the game.
func (ip *Interpolator) RemoveEntity(entityID uint32) {
	delete(ip.buffers, entityID)
}

// SetDelay clamps the delay to its working range and shifts the render
// clock so the change does not jump the playback position.
func (ip *Interpolator) SetDelay(delayMs int64) {
	if delayMs < minDelayMs {
		delayMs = minDelayMs
	} else if delayMs > maxDelayMs {
		delayMs = maxDelayMs
	}
	ip.renderTime -= delayMs - ip.delayMs
	ip.delayMs = delayMs
}

func (ip *Interpolator) Delay() int64 {
	return ip.delayMs
}

func (ip *Interpolator) RenderTime() int64 {
	return ip.renderTime
}

// SetEnabled toggles sampling. Disabled buffers still accept snapshots
// so re-enabling resumes cleanly.
func (ip *Interpolator) SetEnabled(enabled bool) {
	ip.enabled = enabled
}

// SnapshotCount returns the total buffered snapshots across entities.
func (ip *Interpolator) SnapshotCount() int {
	total := 0
	for _, b := range ip.buffers {
		total += len(b.snapshots)
	}
	return total
}

// ExtrapolatedCount returns how many entities are currently projected
// past their newest snapshot.
func (ip *Interpolator) ExtrapolatedCount() int {
	count := 0
	for _, b := range ip.buffers {
		if b.extrapolating {
			count++
		}
	}
	return count
}

// Clear drops every buffer and resets the render clock.
func (ip *Interpolator) Clear() {
	ip.buffers = make(map[uint32]*entityBuffer)
	ip.renderTime = 0
	ip.initialized = false
}
