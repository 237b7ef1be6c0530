package game

import (
	"log"
	"math"
	"sort"
	"time"

	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/world"
)

// Separation tuning for tank-tank overlap resolution.
const (
	separationSpeed = 200.0
	minSeparation   = 2.0
)

// ShotEvent is emitted when an enemy fires. The engine broadcasts it as
// a bullet spawn with the enemy as owner.
type ShotEvent struct {
	OwnerID        uint32
	X, Y           float32
	DirX, DirY     float32
	BarrelRotation float32
}

// BulletEvent is emitted when a bullet is destroyed, one per bullet.
type BulletEvent struct {
	BulletID uint32
	Reason   uint8
	TargetID uint32
	X, Y     float32
}

// DeathEvent is emitted when a player's health reaches zero. Penalty is
// the score actually deducted after the floor at zero.
type DeathEvent struct {
	PlayerID uint32
	X, Y     float32
	Penalty  int32
}

// RespawnEvent is emitted when a dead player's timer expires.
type RespawnEvent struct {
	PlayerID uint32
	X, Y     float32
	Health   float32
}

// SimulateMovement advances every player by their held movement flags.
// Dead players keep driving; death only gates shooting damage intake on
// the client side, not motion.
func (s *State) SimulateMovement(dt float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.players {
		if p.Left {
			p.BodyRotation -= s.config.RotateSpeed * dt
		} else if p.Right {
			p.BodyRotation += s.config.RotateSpeed * dt
		}
		p.BodyRotation = protocol.NormalizeRotation(p.BodyRotation)

		rad := float64(p.BodyRotation) * math.Pi / 180
		dirX := float32(math.Cos(rad))
		dirY := float32(math.Sin(rad))

		if p.Forward {
			p.Pos.X += dirX * s.config.MoveSpeed * dt
			p.Pos.Y += dirY * s.config.MoveSpeed * dt
		} else if p.Backward {
			p.Pos.X -= dirX * s.config.MoveSpeed * dt
			p.Pos.Y -= dirY * s.config.MoveSpeed * dt
		}

		p.Pos.X = protocol.ClampPositionX(p.Pos.X)
		p.Pos.Y = protocol.ClampPositionY(p.Pos.Y)
	}
}

// UpdateEnemies steps the enemy population and returns one event per
// shot fired. Spawning and retargeting happen before the step; dead
// enemies are reaped after it so each corpse is visible in at least one
// state broadcast.
func (s *State) UpdateEnemies(dt float32) []ShotEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enemySpawnTimer += dt

	// The cap scales with how many players are alive right now.
	alive := 0
	for _, p := range s.players {
		if !p.Dead {
			alive++
		}
	}
	maxEnemies := alive
	if alive > 0 {
		maxEnemies += 3
	}

	if s.enemySpawnTimer >= s.config.EnemySpawnInterval && len(s.enemies) < maxEnemies {
		s.spawnEnemy()
		s.enemySpawnTimer = 0
	}

	var shots []ShotEvent
	for _, e := range s.enemies {
		if !e.HasTarget() {
			if id := s.selectTarget(e); id != 0 {
				if p, ok := s.players[id]; ok {
					e.SetTarget(id, p.Pos)
				}
			}
		} else {
			s.refreshTarget(e)
		}

		if e.Update(dt, s.rng) {
			shots = append(shots, s.fireEnemyBullet(e))
		}
	}

	for id, e := range s.enemies {
		if e.Dead() {
			log.Printf("🗑️ Removing dead %s enemy %d", enemyTypeName(e.Type), id)
			delete(s.enemies, id)
		}
	}

	return shots
}

func (s *State) spawnEnemy() {
	pos := world.Vec2{
		X: world.SpawnMinX + s.rng.Float32()*(world.SpawnMaxX-world.SpawnMinX),
		Y: world.SpawnMinY + s.rng.Float32()*(world.SpawnMaxY-world.SpawnMinY),
	}
	typ := s.rollEnemyType()
	e := NewEnemy(s.nextEnemyID, typ, pos, s.rng)
	s.nextEnemyID++
	s.enemies[e.ID] = e
	log.Printf("🎮 Spawned %s enemy %d at (%.0f, %.0f)", enemyTypeName(typ), e.ID, pos.X, pos.Y)
}

func (s *State) rollEnemyType() uint8 {
	roll := s.rng.Intn(100) + 1
	switch {
	case roll <= 40:
		return protocol.EnemyRed
	case roll <= 60:
		return protocol.EnemyBlack
	case roll <= 80:
		return protocol.EnemyPurple
	case roll <= 95:
		return protocol.EnemyTeal
	default:
		return protocol.EnemyOrange
	}
}

// selectTarget scores every player within detection range, preferring
// close and wounded ones. Returns 0 when nobody is in range.
func (s *State) selectTarget(e *Enemy) uint32 {
	var best uint32
	bestScore := float32(-1)

	for id, p := range s.players {
		dx := p.Pos.X - e.Pos.X
		dy := p.Pos.Y - e.Pos.Y
		dist := float32(math.Hypot(float64(dx), float64(dy)))
		if dist > e.DetectionRange() {
			continue
		}

		score := (1 - dist/e.DetectionRange()) * 100
		score += (1 - p.Health/p.MaxHealth) * 20

		if score > bestScore {
			bestScore = score
			best = id
		}
	}
	return best
}

// refreshTarget re-reads the target's position, dropping the lock-on if
// the player left or escaped to twice the detection range.
func (s *State) refreshTarget(e *Enemy) {
	p, ok := s.players[e.TargetID()]
	if !ok {
		e.ClearTarget()
		return
	}

	dx := p.Pos.X - e.Pos.X
	dy := p.Pos.Y - e.Pos.Y
	dist := float32(math.Hypot(float64(dx), float64(dy)))
	if dist > e.DetectionRange()*2 {
		e.ClearTarget()
		return
	}

	e.SetTarget(p.ID, p.Pos)
}

func (s *State) fireEnemyBullet(e *Enemy) ShotEvent {
	pos := e.BarrelEnd()
	dir := e.ApplySpread(e.AimDirection(), s.rng)

	b := NewBullet(s.nextBulletID, protocol.BulletEnemy, e.ID, pos, dir, time.Now().UnixMilli())
	s.nextBulletID++
	s.bullets[b.ID] = b

	// The broadcast carries the spread-adjusted flight angle, not the
	// barrel pose.
	return ShotEvent{
		OwnerID:        e.ID,
		X:              pos.X,
		Y:              pos.Y,
		DirX:           dir.X,
		DirY:           dir.Y,
		BarrelRotation: b.Rotation,
	}
}

// SpawnPlayerBullet creates a bullet for a validated client shot. The
// caller broadcasts the resulting bullet state.
func (s *State) SpawnPlayerBullet(ownerID uint32, pos, dir world.Vec2) *Bullet {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := NewBullet(s.nextBulletID, protocol.BulletPlayer, ownerID, pos, dir, time.Now().UnixMilli())
	s.nextBulletID++
	s.bullets[b.ID] = b
	return b
}

// UpdateBullets moves every bullet and applies hits, returning one
// destruction event per bullet that ended this tick.
func (s *State) UpdateBullets(dt float32) []BulletEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bullets {
		b.Update(dt)
	}

	events := s.collideBullets(dt)

	for id, b := range s.bullets {
		switch {
		case b.Destroyed:
			// Collision and border hits were announced when they landed.
			delete(s.bullets, id)
		case b.Lifetime <= 0:
			events = append(events, BulletEvent{
				BulletID: id,
				Reason:   protocol.DestroyExpired,
				X:        b.Pos.X,
				Y:        b.Pos.Y,
			})
			delete(s.bullets, id)
		}
	}

	return events
}

func (s *State) collideBullets(dt float32) []BulletEvent {
	var events []BulletEvent

	for id, b := range s.bullets {
		if b.Destroyed || b.Lifetime <= 0 {
			continue
		}

		if !b.OwnerIsEnemy() {
			for enemyID, e := range s.enemies {
				if e.Dead() {
					continue
				}

				dx := b.Pos.X - e.Pos.X
				dy := b.Pos.Y - e.Pos.Y
				radiusSum := b.Radius + world.EnemyRadius
				if dx*dx+dy*dy >= radiusSum*radiusSum {
					continue
				}

				oldHealth := e.Health
				e.TakeDamage(b.Damage)

				if e.Dead() && oldHealth > 0 {
					if owner, ok := s.players[b.OwnerID]; ok {
						owner.Score += e.ScoreValue()
						log.Printf("🎯 Player %d killed %s enemy %d (+%d points, total %d)",
							b.OwnerID, enemyTypeName(e.Type), enemyID, e.ScoreValue(), owner.Score)
					}
				}

				b.Destroyed = true
				events = append(events, BulletEvent{
					BulletID: id,
					Reason:   protocol.DestroyHitEnemy,
					TargetID: enemyID,
					X:        b.Pos.X,
					Y:        b.Pos.Y,
				})
				break
			}

			if b.Destroyed {
				continue
			}
		}

		if b.OwnerIsEnemy() {
			for playerID, p := range s.players {
				dx := b.Pos.X - p.Pos.X
				dy := b.Pos.Y - p.Pos.Y
				radiusSum := b.Radius + world.TankRadius
				if dx*dx+dy*dy >= radiusSum*radiusSum {
					continue
				}

				oldHealth := p.Health
				p.Health -= b.Damage
				if p.Health < 0 {
					p.Health = 0
				}
				log.Printf("💥 Enemy bullet %d hit player %d for %.0f damage (health %.0f → %.0f)",
					id, playerID, b.Damage, oldHealth, p.Health)

				b.Destroyed = true
				events = append(events, BulletEvent{
					BulletID: id,
					Reason:   protocol.DestroyHitPlayer,
					TargetID: playerID,
					X:        b.Pos.X,
					Y:        b.Pos.Y,
				})
				break
			}

			if b.Destroyed {
				continue
			}
		}

		if !world.InPlayableArea(b.Pos.X, b.Pos.Y) {
			b.Destroyed = true
			events = append(events, BulletEvent{
				BulletID: id,
				Reason:   protocol.DestroyHitBorder,
				X:        b.Pos.X,
				Y:        b.Pos.Y,
			})
		}
	}

	return events
}

// ResolveCollisions pushes overlapping tanks apart. Players are pushed
// out of live enemies; player pairs split the correction. Separation is
// rate limited so deep overlaps resolve over a few ticks.
func (s *State) ResolveCollisions(dt float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxStep := separationSpeed * dt

	for _, p := range s.players {
		pos := p.Pos

		for _, e := range s.enemies {
			if e.Dead() {
				continue
			}

			dx := pos.X - e.Pos.X
			dy := pos.Y - e.Pos.Y
			distSq := dx*dx + dy*dy
			minDist := float32(world.TankRadius + world.EnemyRadius + minSeparation)
			if distSq >= minDist*minDist {
				continue
			}

			dist := float32(math.Sqrt(float64(distSq)))
			if dist < 0.001 {
				pos.X += minDist
			} else {
				amount := minDist - dist
				if amount > maxStep {
					amount = maxStep
				}
				pos.X += dx / dist * amount
				pos.Y += dy / dist * amount
			}

			p.Pos.X = protocol.ClampPositionX(pos.X)
			p.Pos.Y = protocol.ClampPositionY(pos.Y)
		}
	}

	players := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	for i := 0; i < len(players); i++ {
		for j := i + 1; j < len(players); j++ {
			a, b := players[i], players[j]

			dx := b.Pos.X - a.Pos.X
			dy := b.Pos.Y - a.Pos.Y
			distSq := dx*dx + dy*dy
			minDist := float32(world.TankRadius*2 + minSeparation)
			if distSq >= minDist*minDist {
				continue
			}

			dist := float32(math.Sqrt(float64(distSq)))
			if dist < 0.001 {
				a.Pos.X -= minDist / 2
				b.Pos.X += minDist / 2
			} else {
				amount := (minDist - dist) / 2
				if amount > maxStep/2 {
					amount = maxStep / 2
				}
				pushX := dx / dist * amount
				pushY := dy / dist * amount
				a.Pos.X -= pushX
				a.Pos.Y -= pushY
				b.Pos.X += pushX
				b.Pos.Y += pushY
			}

			a.Pos.X = protocol.ClampPositionX(a.Pos.X)
			a.Pos.Y = protocol.ClampPositionY(a.Pos.Y)
			b.Pos.X = protocol.ClampPositionX(b.Pos.X)
			b.Pos.Y = protocol.ClampPositionY(b.Pos.Y)
		}
	}
}

// CheckDeaths marks players whose health reached zero and returns the
// penalty actually applied to each.
func (s *State) CheckDeaths() []DeathEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []DeathEvent
	for id, p := range s.players {
		if p.Dead || p.Health > 0 {
			continue
		}

		p.Dead = true
		p.RespawnTimer = s.config.RespawnDelay

		oldScore := p.Score
		p.Score -= s.config.DeathPenalty
		if p.Score < 0 {
			p.Score = 0
		}
		penalty := oldScore - p.Score
		p.Health = 0

		log.Printf("💥 Player %d (%s) died at (%.0f, %.0f), -%d points",
			id, p.Name, p.Pos.X, p.Pos.Y, penalty)

		events = append(events, DeathEvent{
			PlayerID: id,
			X:        p.Pos.X,
			Y:        p.Pos.Y,
			Penalty:  penalty,
		})
	}
	return events
}

// UpdateDead counts down respawn timers and brings expired players back
// at a safe position with full health.
func (s *State) UpdateDead(dt float32) []RespawnEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []RespawnEvent
	for id, p := range s.players {
		if !p.Dead {
			continue
		}

		p.RespawnTimer -= dt
		if p.RespawnTimer > 0 {
			continue
		}

		pos := s.respawnPosition()
		p.Dead = false
		p.RespawnTimer = 0
		p.Health = p.MaxHealth
		p.Pos = pos
		p.BodyRotation = 0
		p.BarrelRotation = 0
		p.Forward = false
		p.Backward = false
		p.Left = false
		p.Right = false

		log.Printf("✅ Player %d (%s) respawned at (%.0f, %.0f)", id, p.Name, pos.X, pos.Y)

		events = append(events, RespawnEvent{
			PlayerID: id,
			X:        pos.X,
			Y:        pos.Y,
			Health:   p.Health,
		})
	}
	return events
}

// respawnPosition tries a handful of random spots away from every live
// enemy and living player, falling back to the world center. Caller
// holds the lock.
func (s *State) respawnPosition() world.Vec2 {
	const attempts = 10
	const safeDistSq = 200.0 * 200.0

	for i := 0; i < attempts; i++ {
		pos := world.Vec2{
			X: world.MoveMinX + 50 + s.rng.Float32()*(world.MoveMaxX-world.MoveMinX-100),
			Y: world.MoveMinY + 50 + s.rng.Float32()*(world.MoveMaxY-world.MoveMinY-100),
		}

		safe := true
		for _, e := range s.enemies {
			if e.Dead() {
				continue
			}
			dx := pos.X - e.Pos.X
			dy := pos.Y - e.Pos.Y
			if dx*dx+dy*dy < safeDistSq {
				safe = false
				break
			}
		}
		if !safe {
			continue
		}

		for _, p := range s.players {
			if p.Dead {
				continue
			}
			dx := pos.X - p.Pos.X
			dy := pos.Y - p.Pos.Y
			if dx*dx+dy*dy < safeDistSq {
				safe = false
				break
			}
		}
		if safe {
			return pos
		}
	}

	return world.Center()
}

// TimeoutPlayers ages every player's idle clock and removes those quiet
// longer than the configured timeout, returning the removed players.
func (s *State) TimeoutPlayers(dt float32) []*Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*Player
	for id, p := range s.players {
		p.Idle += dt
		if p.Idle > s.config.ClientTimeout {
			delete(s.byAddr, p.Addr)
			delete(s.players, id)
			removed = append(removed, p)
		}
	}
	return removed
}
