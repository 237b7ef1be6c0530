package game

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/world"
)

func TestSimulateMovementForward(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Forward = true

	s.SimulateMovement(0.1)

	want := float64(world.CenterX) + 15 // 150 units/s for 0.1s along +X
	if math.Abs(float64(p.Pos.X)-want) > 1e-3 {
		t.Errorf("expected x near %.1f, got %.3f", want, p.Pos.X)
	}
	if math.Abs(float64(p.Pos.Y)-float64(world.CenterY)) > 1e-3 {
		t.Errorf("expected y unchanged, got %.3f", p.Pos.Y)
	}
}

func TestSimulateMovementBackward(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Backward = true

	s.SimulateMovement(0.1)

	want := float64(world.CenterX) - 15
	if math.Abs(float64(p.Pos.X)-want) > 1e-3 {
		t.Errorf("expected x near %.1f, got %.3f", want, p.Pos.X)
	}
}

func TestSimulateMovementFlagPrecedence(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")

	// Left wins over right, forward wins over backward.
	p.Left = true
	p.Right = true
	p.Forward = true
	p.Backward = true

	s.SimulateMovement(0.1)

	if math.Abs(float64(p.BodyRotation)-340) > 0.01 {
		t.Errorf("expected rotation 340 after left turn, got %.3f", p.BodyRotation)
	}
	// Heading 340°: forward moves right and slightly up the screen.
	if p.Pos.X <= world.CenterX {
		t.Errorf("expected forward motion along +x, got x %.3f", p.Pos.X)
	}
}

func TestSimulateMovementDeadPlayerStillDrives(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Dead = true
	p.Forward = true

	s.SimulateMovement(0.1)

	if p.Pos.X == world.CenterX {
		t.Error("expected dead player to keep moving")
	}
}

func TestSimulateMovementClampsToBounds(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Pos.X = world.MoveMaxX - 1
	p.Forward = true

	s.SimulateMovement(1.0)

	if p.Pos.X != world.MoveMaxX {
		t.Errorf("expected x clamped to %.0f, got %.3f", float32(world.MoveMaxX), p.Pos.X)
	}
}

func TestUpdateEnemiesSpawnCap(t *testing.T) {
	s := newTestState()
	s.rng = rand.New(rand.NewSource(42))

	// Nobody online: the cap is zero and nothing spawns.
	s.UpdateEnemies(10)
	if s.EnemyCount() != 0 {
		t.Fatalf("expected no spawns on an empty server, got %d", s.EnemyCount())
	}

	// One live player: cap is 1 + 3.
	s.AddPlayer("alice", "", "a:1")
	for i := 0; i < 4; i++ {
		s.UpdateEnemies(10)
	}
	if s.EnemyCount() != 4 {
		t.Fatalf("expected 4 enemies at the cap, got %d", s.EnemyCount())
	}

	s.UpdateEnemies(10)
	if s.EnemyCount() != 4 {
		t.Errorf("expected spawning to stop at the cap, got %d", s.EnemyCount())
	}
}

func TestUpdateEnemiesTargetsNearbyPlayer(t *testing.T) {
	s := newTestState()
	s.rng = rand.New(rand.NewSource(42))
	p, _ := s.AddPlayer("alice", "", "a:1")

	e := NewEnemy(1000, protocol.EnemyBlack, world.Vec2{X: 700, Y: 480}, s.rng)
	s.enemies[e.ID] = e

	s.UpdateEnemies(0.016)

	if !e.HasTarget() {
		t.Fatal("expected enemy to acquire the nearby player")
	}
	if e.TargetID() != p.ID {
		t.Errorf("expected target %d, got %d", p.ID, e.TargetID())
	}
	if e.State() != StateChase {
		t.Errorf("expected CHASE after acquiring, got %s", e.State())
	}
}

func TestUpdateEnemiesDropsEscapedTarget(t *testing.T) {
	s := newTestState()
	s.rng = rand.New(rand.NewSource(42))
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Pos = world.Vec2{X: world.MoveMinX, Y: 480}

	e := NewEnemy(1000, protocol.EnemyBlack, world.Vec2{X: 1100, Y: 480}, s.rng)
	e.SetTarget(p.ID, world.Vec2{X: 1050, Y: 480})
	s.enemies[e.ID] = e

	// Past twice the detection range the lock-on breaks.
	s.UpdateEnemies(0.016)

	if e.HasTarget() {
		t.Error("expected target dropped after escaping")
	}
}

func TestUpdateEnemiesDropsGoneTarget(t *testing.T) {
	s := newTestState()
	s.rng = rand.New(rand.NewSource(42))
	s.AddPlayer("alice", "", "a:1")

	e := NewEnemy(1000, protocol.EnemyBlack, world.Vec2{X: 700, Y: 480}, s.rng)
	e.SetTarget(999, world.Vec2{X: 700, Y: 500})
	s.enemies[e.ID] = e

	s.UpdateEnemies(0.016)

	if e.TargetID() == 999 {
		t.Error("expected target cleared for a player who left")
	}
}

func TestUpdateEnemiesReapsDead(t *testing.T) {
	s := newTestState()
	s.rng = rand.New(rand.NewSource(42))
	s.AddPlayer("alice", "", "a:1")

	e := NewEnemy(1000, protocol.EnemyRed, world.Vec2{X: 200, Y: 200}, s.rng)
	e.TakeDamage(1000)
	s.enemies[e.ID] = e

	s.UpdateEnemies(0.016)

	if s.EnemyCount() != 0 {
		t.Errorf("expected dead enemy reaped, got %d", s.EnemyCount())
	}
}

func TestPlayerBulletKillsEnemyAndScores(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")

	e := NewEnemy(1000, protocol.EnemyRed, world.Vec2{X: 400, Y: 480}, testRand())
	e.TakeDamage(80) // 20 health left, one hit from death
	s.enemies[e.ID] = e

	b := NewBullet(10000, protocol.BulletPlayer, p.ID, world.Vec2{X: 400, Y: 480}, world.Vec2{X: 1, Y: 0}, 0)
	s.bullets[b.ID] = b

	events := s.UpdateBullets(0.001)

	if len(events) != 1 {
		t.Fatalf("expected 1 destroy event, got %d", len(events))
	}
	ev := events[0]
	if ev.BulletID != 10000 || ev.Reason != protocol.DestroyHitEnemy || ev.TargetID != 1000 {
		t.Errorf("expected hit-enemy event for bullet 10000 on enemy 1000, got %+v", ev)
	}
	if !e.Dead() {
		t.Error("expected enemy dead")
	}
	if p.Score != 10 {
		t.Errorf("expected 10 points for a red kill, got %d", p.Score)
	}
	if s.BulletCount() != 0 {
		t.Errorf("expected bullet removed, got %d", s.BulletCount())
	}
}

func TestPlayerBulletIgnoresDeadEnemy(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Pos = world.Vec2{X: 900, Y: 700}

	e := NewEnemy(1000, protocol.EnemyRed, world.Vec2{X: 400, Y: 480}, testRand())
	e.TakeDamage(1000)
	s.enemies[e.ID] = e

	b := NewBullet(10000, protocol.BulletPlayer, p.ID, world.Vec2{X: 400, Y: 480}, world.Vec2{X: 1, Y: 0}, 0)
	s.bullets[b.ID] = b

	events := s.UpdateBullets(0.001)

	if len(events) != 0 {
		t.Fatalf("expected no events over a corpse, got %d", len(events))
	}
	if s.BulletCount() != 1 {
		t.Errorf("expected bullet to fly through, got %d bullets", s.BulletCount())
	}
}

func TestEnemyBulletDamagesPlayer(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")

	b := NewBullet(10000, protocol.BulletEnemy, 1000, p.Pos, world.Vec2{X: 1, Y: 0}, 0)
	s.bullets[b.ID] = b

	events := s.UpdateBullets(0.001)

	if len(events) != 1 {
		t.Fatalf("expected 1 destroy event, got %d", len(events))
	}
	if events[0].Reason != protocol.DestroyHitPlayer || events[0].TargetID != p.ID {
		t.Errorf("expected hit-player event for player %d, got %+v", p.ID, events[0])
	}
	if p.Health != 80 {
		t.Errorf("expected 80 health after a 20 damage hit, got %.0f", p.Health)
	}
}

func TestEnemyBulletHitsDeadPlayer(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Dead = true
	p.Health = 0

	b := NewBullet(10000, protocol.BulletEnemy, 1000, p.Pos, world.Vec2{X: 1, Y: 0}, 0)
	s.bullets[b.ID] = b

	events := s.UpdateBullets(0.001)

	// Corpses still absorb shots; health just cannot go below zero.
	if len(events) != 1 {
		t.Fatalf("expected the corpse to absorb the bullet, got %d events", len(events))
	}
	if p.Health != 0 {
		t.Errorf("expected health floored at 0, got %.0f", p.Health)
	}
}

func TestBulletsIgnoreOwnFaction(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Pos = world.Vec2{X: 200, Y: 200}

	e := NewEnemy(1000, protocol.EnemyRed, world.Vec2{X: 900, Y: 700}, testRand())
	s.enemies[e.ID] = e

	own := NewBullet(10000, protocol.BulletPlayer, p.ID, world.Vec2{X: 200, Y: 200}, world.Vec2{X: 1, Y: 0}, 0)
	s.bullets[own.ID] = own
	theirs := NewBullet(10001, protocol.BulletEnemy, e.ID, world.Vec2{X: 900, Y: 700}, world.Vec2{X: 1, Y: 0}, 0)
	s.bullets[theirs.ID] = theirs

	events := s.UpdateBullets(0.0001)

	if len(events) != 0 {
		t.Fatalf("expected no friendly fire, got %d events", len(events))
	}
	if s.BulletCount() != 2 {
		t.Errorf("expected both bullets to survive, got %d", s.BulletCount())
	}
	if p.Health != 100 || e.Health != 100 {
		t.Errorf("expected no damage, got player %.0f enemy %.0f", p.Health, e.Health)
	}
}

func TestBulletExpiryEmitsEvent(t *testing.T) {
	s := newTestState()

	b := NewBullet(10000, protocol.BulletPlayer, 1, world.Vec2{X: 300, Y: 300}, world.Vec2{X: 1, Y: 0}, 0)
	b.Lifetime = 0.01
	s.bullets[b.ID] = b

	events := s.UpdateBullets(0.02)

	if len(events) != 1 {
		t.Fatalf("expected 1 expiry event, got %d", len(events))
	}
	if events[0].Reason != protocol.DestroyExpired {
		t.Errorf("expected expiry reason, got %d", events[0].Reason)
	}
	if events[0].TargetID != 0 {
		t.Errorf("expected no target on expiry, got %d", events[0].TargetID)
	}
	if s.BulletCount() != 0 {
		t.Errorf("expected expired bullet removed, got %d", s.BulletCount())
	}
}

func TestBulletBorderDestroy(t *testing.T) {
	s := newTestState()

	b := NewBullet(10000, protocol.BulletPlayer, 1, world.Vec2{X: 50, Y: 480}, world.Vec2{X: -1, Y: 0}, 0)
	s.bullets[b.ID] = b

	events := s.UpdateBullets(0.01)

	if len(events) != 1 {
		t.Fatalf("expected 1 border event, got %d", len(events))
	}
	if events[0].Reason != protocol.DestroyHitBorder {
		t.Errorf("expected border reason, got %d", events[0].Reason)
	}
	if s.BulletCount() != 0 {
		t.Errorf("expected bullet removed at the border, got %d", s.BulletCount())
	}
}

func TestResolveCollisionsPushesPlayerFromEnemy(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Pos = world.Vec2{X: 650, Y: 480}

	e := NewEnemy(1000, protocol.EnemyRed, world.Vec2{X: 640, Y: 480}, testRand())
	s.enemies[e.ID] = e

	s.ResolveCollisions(0.016)

	// Push is rate limited to 200 * dt = 3.2 units per tick.
	if math.Abs(float64(p.Pos.X)-653.2) > 0.01 {
		t.Errorf("expected player pushed to x 653.2, got %.3f", p.Pos.X)
	}
	if p.Pos.Y != 480 {
		t.Errorf("expected y unchanged, got %.3f", p.Pos.Y)
	}
	if e.Pos.X != 640 {
		t.Errorf("expected enemy to stand its ground, got x %.3f", e.Pos.X)
	}
}

func TestResolveCollisionsDegenerateOverlap(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Pos = world.Vec2{X: 300, Y: 300}

	e := NewEnemy(1000, protocol.EnemyRed, world.Vec2{X: 300, Y: 300}, testRand())
	s.enemies[e.ID] = e

	s.ResolveCollisions(0.016)

	if math.Abs(float64(p.Pos.X)-352) > 0.01 {
		t.Errorf("expected full separation push to x 352, got %.3f", p.Pos.X)
	}
}

func TestResolveCollisionsSkipsDeadEnemies(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")

	e := NewEnemy(1000, protocol.EnemyRed, p.Pos, testRand())
	e.TakeDamage(1000)
	s.enemies[e.ID] = e

	s.ResolveCollisions(0.016)

	if p.Pos.X != world.CenterX || p.Pos.Y != world.CenterY {
		t.Errorf("expected no push from a corpse, got (%.3f, %.3f)", p.Pos.X, p.Pos.Y)
	}
}

func TestResolveCollisionsSeparatesPlayers(t *testing.T) {
	s := newTestState()
	a, _ := s.AddPlayer("alice", "", "a:1")
	b, _ := s.AddPlayer("bob", "", "b:1")
	a.Pos = world.Vec2{X: 640, Y: 480}
	b.Pos = world.Vec2{X: 650, Y: 480}

	s.ResolveCollisions(0.016)

	// Each takes half the rate-limited correction.
	if math.Abs(float64(a.Pos.X)-638.4) > 0.01 {
		t.Errorf("expected a pushed to x 638.4, got %.3f", a.Pos.X)
	}
	if math.Abs(float64(b.Pos.X)-651.6) > 0.01 {
		t.Errorf("expected b pushed to x 651.6, got %.3f", b.Pos.X)
	}
}

func TestResolveCollisionsPlayersSamePosition(t *testing.T) {
	s := newTestState()
	a, _ := s.AddPlayer("alice", "", "a:1")
	b, _ := s.AddPlayer("bob", "", "b:1")
	a.Pos = world.Vec2{X: 400, Y: 400}
	b.Pos = world.Vec2{X: 400, Y: 400}

	s.ResolveCollisions(0.016)

	if math.Abs(float64(a.Pos.X)-374) > 0.01 || math.Abs(float64(b.Pos.X)-426) > 0.01 {
		t.Errorf("expected symmetric split to 374 and 426, got %.3f and %.3f",
			a.Pos.X, b.Pos.X)
	}
}

func TestCheckDeaths(t *testing.T) {
	s := newTestState()
	poor, _ := s.AddPlayer("poor", "", "a:1")
	rich, _ := s.AddPlayer("rich", "", "b:1")
	poor.Health = 0
	poor.Score = 40
	rich.Health = 0
	rich.Score = 500

	events := s.CheckDeaths()

	if len(events) != 2 {
		t.Fatalf("expected 2 deaths, got %d", len(events))
	}
	for _, ev := range events {
		switch ev.PlayerID {
		case poor.ID:
			if ev.Penalty != 40 {
				t.Errorf("expected penalty capped at the 40 points held, got %d", ev.Penalty)
			}
		case rich.ID:
			if ev.Penalty != 100 {
				t.Errorf("expected full 100 point penalty, got %d", ev.Penalty)
			}
		default:
			t.Errorf("unexpected death for player %d", ev.PlayerID)
		}
	}
	if poor.Score != 0 || rich.Score != 400 {
		t.Errorf("expected scores 0 and 400, got %d and %d", poor.Score, rich.Score)
	}
	if !poor.Dead || !rich.Dead {
		t.Error("expected both players dead")
	}
	if poor.RespawnTimer != s.config.RespawnDelay {
		t.Errorf("expected respawn timer %.1f, got %.1f", s.config.RespawnDelay, poor.RespawnTimer)
	}

	// Already-dead players do not die twice.
	if again := s.CheckDeaths(); len(again) != 0 {
		t.Errorf("expected no repeat deaths, got %d", len(again))
	}
}

func TestUpdateDeadRespawns(t *testing.T) {
	s := newTestState()
	s.rng = rand.New(rand.NewSource(42))
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Dead = true
	p.RespawnTimer = 0.05
	p.Health = 0
	p.Forward = true
	p.BodyRotation = 90

	events := s.UpdateDead(0.1)

	if len(events) != 1 {
		t.Fatalf("expected 1 respawn, got %d", len(events))
	}
	if events[0].PlayerID != p.ID || events[0].Health != 100 {
		t.Errorf("expected player %d back at full health, got %+v", p.ID, events[0])
	}
	if p.Dead {
		t.Error("expected player alive")
	}
	if p.Health != 100 {
		t.Errorf("expected full health, got %.0f", p.Health)
	}
	if p.Forward || p.BodyRotation != 0 {
		t.Error("expected movement state reset")
	}
	if !world.InMoveBounds(p.Pos.X, p.Pos.Y) {
		t.Errorf("expected respawn inside move bounds, got (%.1f, %.1f)", p.Pos.X, p.Pos.Y)
	}
}

func TestUpdateDeadWaitsOutTimer(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")
	p.Dead = true
	p.RespawnTimer = 3

	events := s.UpdateDead(0.1)

	if len(events) != 0 {
		t.Fatalf("expected no respawn yet, got %d events", len(events))
	}
	if !p.Dead {
		t.Error("expected player still dead")
	}
	if math.Abs(float64(p.RespawnTimer)-2.9) > 1e-3 {
		t.Errorf("expected timer near 2.9, got %.3f", p.RespawnTimer)
	}
}

func TestRespawnPositionInBounds(t *testing.T) {
	s := newTestState()
	s.rng = rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		pos := s.respawnPosition()
		if pos.X < world.MoveMinX+50 || pos.X > world.MoveMaxX-50 ||
			pos.Y < world.MoveMinY+50 || pos.Y > world.MoveMaxY-50 {
			t.Fatalf("expected respawn inside the safe margin, got (%.1f, %.1f)", pos.X, pos.Y)
		}
	}
}

func TestRespawnPositionFallsBackToCenter(t *testing.T) {
	s := newTestState()
	s.rng = rand.New(rand.NewSource(42))

	// Blanket the arena with live enemies so no draw is ever safe.
	id := protocol.EnemyIDBase
	for x := float32(100); x <= 1200; x += 150 {
		for y := float32(100); y <= 850; y += 150 {
			s.enemies[id] = NewEnemy(id, protocol.EnemyRed, world.Vec2{X: x, Y: y}, s.rng)
			id++
		}
	}

	pos := s.respawnPosition()
	if pos != world.Center() {
		t.Errorf("expected center fallback, got (%.1f, %.1f)", pos.X, pos.Y)
	}
}

func TestTimeoutPlayers(t *testing.T) {
	s := newTestState()
	a, _ := s.AddPlayer("alice", "", "a:1")
	b, _ := s.AddPlayer("bob", "", "b:1")
	a.Idle = 14.5

	// Exactly at the limit is still connected.
	removed := s.TimeoutPlayers(0.5)
	if len(removed) != 0 {
		t.Fatalf("expected nobody removed at exactly the timeout, got %d", len(removed))
	}

	removed = s.TimeoutPlayers(0.5)
	if len(removed) != 1 || removed[0].ID != a.ID {
		t.Fatalf("expected only alice removed, got %v", removed)
	}
	if _, ok := s.GetPlayer(a.ID); ok {
		t.Error("expected alice gone by id")
	}
	if _, ok := s.GetPlayerByAddr("a:1"); ok {
		t.Error("expected alice gone by addr")
	}
	if _, ok := s.GetPlayer(b.ID); !ok {
		t.Error("expected bob still connected")
	}
}

func TestSpawnPlayerBullet(t *testing.T) {
	s := newTestState()
	p, _ := s.AddPlayer("alice", "", "a:1")

	b := s.SpawnPlayerBullet(p.ID, world.Vec2{X: 640, Y: 480}, world.Vec2{X: 0, Y: 1})

	if b.ID != protocol.BulletIDBase {
		t.Errorf("expected first bullet id %d, got %d", protocol.BulletIDBase, b.ID)
	}
	if b.OwnerID != p.ID || b.OwnerIsEnemy() {
		t.Errorf("expected player-owned bullet, got owner %d", b.OwnerID)
	}
	if math.Abs(float64(b.Vel.Y)-500) > 1e-3 || math.Abs(float64(b.Vel.X)) > 1e-3 {
		t.Errorf("expected velocity (0, 500), got (%.1f, %.1f)", b.Vel.X, b.Vel.Y)
	}
	if s.BulletCount() != 1 {
		t.Errorf("expected 1 bullet tracked, got %d", s.BulletCount())
	}

	next := s.SpawnPlayerBullet(p.ID, world.Vec2{X: 640, Y: 480}, world.Vec2{X: 1, Y: 0})
	if next.ID != protocol.BulletIDBase+1 {
		t.Errorf("expected sequential bullet ids, got %d", next.ID)
	}
}
