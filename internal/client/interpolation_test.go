package client

import (
	"math"
	"testing"

	"github.com/ferrumgames/tankserver/internal/world"
)

func snap(ts int64, x, y, body float32) Snapshot {
	return Snapshot{
		Timestamp:    ts,
		Pos:          world.Vec2{X: x, Y: y},
		BodyRotation: body,
	}
}

func near(t *testing.T, what string, got, want float32) {
	t.Helper()
	if math.Abs(float64(got-want)) > 0.01 {
		t.Errorf("expected %s %.3f, got %.3f", what, want, got)
	}
}

func TestSingleSnapshotReturnsRaw(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 50, 60, 90))

	state, ok := b.stateAt(5000)
	if !ok {
		t.Fatal("expected a state from a single snapshot")
	}
	near(t, "x", state.Pos.X, 50)
	near(t, "y", state.Pos.Y, 60)
	near(t, "body", state.BodyRotation, 90)
	if state.Extrapolated {
		t.Error("expected raw snapshot state, not extrapolated")
	}
}

func TestInterpolatesPositionLinearly(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 0, 0, 0))
	b.add(snap(1100, 100, 40, 0))

	state, ok := b.stateAt(1050)
	if !ok {
		t.Fatal("expected interpolated state")
	}
	near(t, "x at midpoint", state.Pos.X, 50)
	near(t, "y at midpoint", state.Pos.Y, 20)

	state, _ = b.stateAt(1025)
	near(t, "x at quarter", state.Pos.X, 25)
}

func TestAngleTakesShortestPathWithEasing(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 0, 0, 350))
	b.add(snap(1100, 0, 0, 10))

	// Midpoint of the 350->10 turn crosses zero, and smoothstep leaves
	// the midpoint itself unchanged.
	state, _ := b.stateAt(1050)
	near(t, "body at midpoint", state.BodyRotation, 0)

	// At a quarter of the span smoothstep lags a linear blend.
	state, _ = b.stateAt(1025)
	near(t, "body at quarter", state.BodyRotation, 350+20*0.15625)
}

func TestExtrapolatesWithDerivedVelocity(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 0, 0, 0))
	b.add(snap(1100, 50, 0, 0))

	// 500 units/s derived from the pair, projected 50ms ahead.
	state, ok := b.stateAt(1150)
	if !ok {
		t.Fatal("expected extrapolated state")
	}
	if !state.Extrapolated {
		t.Error("expected state flagged extrapolated")
	}
	near(t, "extrapolated x", state.Pos.X, 75)
	if !b.extrapolating {
		t.Error("expected buffer in extrapolation episode")
	}
}

func TestExtrapolationClampsToHorizon(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 0, 0, 0))
	s := snap(1100, 50, 0, 0)
	s.BarrelRotation = 77
	b.add(s)

	// 200ms ahead clamps to the 100ms horizon, and the barrel holds its
	// last angle instead of swinging.
	state, _ := b.stateAt(1300)
	near(t, "clamped x", state.Pos.X, 100)
	near(t, "held barrel", state.BarrelRotation, 77)
}

func TestVelocityGateRejectsLongGaps(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 0, 0, 0))
	b.add(snap(1400, 100, 0, 0))

	// A 400ms gap is past the derivation window, so the entity freezes
	// instead of sliding on stale velocity.
	state, _ := b.stateAt(1450)
	near(t, "frozen x", state.Pos.X, 100)
}

func TestVelocityClampedToMaximum(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 0, 0, 0))
	b.add(snap(1100, 100, 0, 0))

	// The pair implies 1000 units/s; the clamp caps it at 500, so
	// 100ms of projection adds 50.
	state, _ := b.stateAt(1300)
	near(t, "clamped-velocity x", state.Pos.X, 150)
}

func TestBlendsBackAfterExtrapolation(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 0, 0, 0))
	b.add(snap(1100, 30, 0, 0))

	// Start an extrapolation episode 50ms past the newest snapshot.
	state, _ := b.stateAt(1150)
	near(t, "projected x", state.Pos.X, 45)

	// A late snapshot arrives; the next sample eases from the frozen
	// projected position toward the live track.
	b.add(snap(1200, 60, 0, 0))
	state, _ = b.stateAt(1160)
	track := float32(30 + (60-30)*0.6)
	want := 45 + (track-45)*float32(1160-1150)/extrapolationBlendMs
	near(t, "blended x", state.Pos.X, want)
	if !b.extrapolating {
		t.Error("expected blend still in progress")
	}

	// Past the blend window the buffer is fully back on the track.
	b.add(snap(1400, 100, 0, 0))
	state, _ = b.stateAt(1360)
	if b.extrapolating {
		t.Error("expected extrapolation episode over")
	}
	near(t, "settled x", state.Pos.X, 92)
}

func TestDuplicateTimestampOverwrites(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 0, 0, 0))
	b.add(snap(1000, 5, 5, 0))

	if len(b.snapshots) != 1 {
		t.Fatalf("expected 1 snapshot after duplicate, got %d", len(b.snapshots))
	}
	near(t, "overwritten x", b.snapshots[0].Pos.X, 5)
}

func TestOutOfOrderInsertKeepsChronology(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 0, 0, 0))
	b.add(snap(1200, 20, 0, 0))
	b.add(snap(1100, 10, 0, 0))

	if len(b.snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(b.snapshots))
	}
	for i := 1; i < len(b.snapshots); i++ {
		if b.snapshots[i].Timestamp <= b.snapshots[i-1].Timestamp {
			t.Fatalf("snapshots out of order at %d: %d after %d",
				i, b.snapshots[i].Timestamp, b.snapshots[i-1].Timestamp)
		}
	}

	state, _ := b.stateAt(1150)
	near(t, "x between middle pair", state.Pos.X, 15)
}

func TestBufferCapped(t *testing.T) {
	b := &entityBuffer{}
	for i := 0; i < maxSnapshots+10; i++ {
		b.add(snap(int64(1000+i*33), float32(i), 0, 0))
	}
	if len(b.snapshots) != maxSnapshots {
		t.Errorf("expected buffer capped at %d, got %d", maxSnapshots, len(b.snapshots))
	}
}

func TestCleanupKeepsAtLeastTwo(t *testing.T) {
	b := &entityBuffer{}
	for i := 0; i < 4; i++ {
		b.add(snap(int64(1000+i*100), float32(i), 0, 0))
	}

	b.cleanup(2000, 200)

	if len(b.snapshots) != 2 {
		t.Fatalf("expected 2 snapshots kept, got %d", len(b.snapshots))
	}
	if b.snapshots[0].Timestamp != 1200 {
		t.Errorf("expected oldest kept snapshot at 1200, got %d", b.snapshots[0].Timestamp)
	}
}

func TestRenderTimeBeforeBufferFreezesAtFirst(t *testing.T) {
	b := &entityBuffer{}
	b.add(snap(1000, 10, 20, 0))
	b.add(snap(1100, 50, 20, 0))

	state, ok := b.stateAt(900)
	if !ok {
		t.Fatal("expected a state before the buffer range")
	}
	near(t, "frozen-at-first x", state.Pos.X, 10)
}

func TestInterpolatorClockAndDelay(t *testing.T) {
	ip := NewInterpolator()

	ip.Initialize(5000)
	if ip.RenderTime() != 4900 {
		t.Errorf("expected render time 4900 after init, got %d", ip.RenderTime())
	}
	if !ip.Initialized() {
		t.Error("expected interpolator initialized")
	}

	ip.AddSnapshot(2, snap(4900, 0, 0, 0))
	ip.AddSnapshot(2, snap(5000, 10, 0, 0))
	ip.Advance(0.05)
	if ip.RenderTime() != 4950 {
		t.Errorf("expected render time 4950 after advance, got %d", ip.RenderTime())
	}

	state, ok := ip.EntityState(2)
	if !ok {
		t.Fatal("expected state for tracked entity")
	}
	near(t, "sampled x", state.Pos.X, 5)
}

func TestSetDelayShiftsRenderClock(t *testing.T) {
	ip := NewInterpolator()
	ip.Initialize(5000)

	ip.SetDelay(150)
	if ip.Delay() != 150 {
		t.Errorf("expected delay 150, got %d", ip.Delay())
	}
	if ip.RenderTime() != 4850 {
		t.Errorf("expected render time shifted to 4850, got %d", ip.RenderTime())
	}

	// Out-of-range values clamp to the working window.
	ip.SetDelay(5000)
	if ip.Delay() != 200 {
		t.Errorf("expected delay clamped to 200, got %d", ip.Delay())
	}
	ip.SetDelay(1)
	if ip.Delay() != 50 {
		t.Errorf("expected delay clamped to 50, got %d", ip.Delay())
	}
}

func TestDisabledInterpolationReturnsLatest(t *testing.T) {
	ip := NewInterpolator()
	ip.SetEnabled(false)
	ip.Initialize(5000)
	ip.AddSnapshot(2, snap(1000, 0, 0, 0))
	ip.AddSnapshot(2, snap(1100, 42, 7, 0))

	state, ok := ip.EntityState(2)
	if !ok {
		t.Fatal("expected raw state with interpolation disabled")
	}
	near(t, "raw x", state.Pos.X, 42)
	near(t, "raw y", state.Pos.Y, 7)
}

func TestRemoveEntityDropsBuffer(t *testing.T) {
	ip := NewInterpolator()
	ip.AddSnapshot(2, snap(1000, 0, 0, 0))
	ip.AddSnapshot(3, snap(1000, 0, 0, 0))

	ip.RemoveEntity(2)

	if _, ok := ip.EntityState(2); ok {
		t.Error("expected no state for removed entity")
	}
	if ip.SnapshotCount() != 1 {
		t.Errorf("expected 1 snapshot left, got %d", ip.SnapshotCount())
	}
}

func TestExtrapolatedCountTracksEpisodes(t *testing.T) {
	ip := NewInterpolator()
	ip.SetDelay(50)
	ip.Initialize(1200) // render time 1150

	// Entity 2's snapshots end before render time, entity 3's straddle it.
	ip.AddSnapshot(2, snap(1000, 0, 0, 0))
	ip.AddSnapshot(2, snap(1100, 10, 0, 0))
	ip.AddSnapshot(3, snap(1000, 0, 0, 0))
	ip.AddSnapshot(3, snap(1300, 10, 0, 0))

	ip.EntityState(2)
	ip.EntityState(3)

	if got := ip.ExtrapolatedCount(); got != 1 {
		t.Errorf("expected 1 entity extrapolating, got %d", got)
	}
}

func TestClearResetsEverything(t *testing.T) {
	ip := NewInterpolator()
	ip.Initialize(5000)
	ip.AddSnapshot(2, snap(1000, 0, 0, 0))

	ip.Clear()

	if ip.Initialized() {
		t.Error("expected interpolator uninitialized after clear")
	}
	if ip.SnapshotCount() != 0 {
		t.Errorf("expected no snapshots after clear, got %d", ip.SnapshotCount())
	}
}

func BenchmarkBufferAdd(b *testing.B) {
	buf := &entityBuffer{}
	for i := 0; i < b.N; i++ {
		buf.add(snap(int64(i*33), float32(i%1000), float32(i%800), float32(i%360)))
	}
}

func BenchmarkStateAt(b *testing.B) {
	buf := &entityBuffer{}
	for i := 0; i < maxSnapshots; i++ {
		buf.add(snap(int64(1000+i*33), float32(i*5), 100, float32(i%360)))
	}
	start := int64(1000)
	end := int64(1000 + (maxSnapshots-1)*33)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.stateAt(start + int64(i)%(end-start))
	}
}
