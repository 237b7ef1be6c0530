package game

import (
	"math"

	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/world"
)

// bulletStats is the per-type projectile table.
type bulletStats struct {
	speed    float32
	damage   float32
	lifetime float32
	radius   float32
}

var bulletStatsByType = map[uint8]bulletStats{
	protocol.BulletPlayer: {speed: 500, damage: 25, lifetime: 3, radius: 4},
	protocol.BulletEnemy:  {speed: 450, damage: 20, lifetime: 3, radius: 4},
	protocol.BulletShell:  {speed: 300, damage: 50, lifetime: 5, radius: 6},
	protocol.BulletTracer: {speed: 600, damage: 20, lifetime: 2.5, radius: 4},
}

// Bullet is a live projectile. Speed, damage, lifetime, and radius are
// fixed by the type table at spawn.
type Bullet struct {
	ID      uint32
	OwnerID uint32
	Type    uint8

	Pos      world.Vec2
	Vel      world.Vec2
	Rotation float32

	Damage   float32
	Lifetime float32
	Radius   float32

	SpawnTime int64

	// Destroyed marks a bullet removed by collision or border exit whose
	// destruction has already been broadcast. Natural expiry leaves it
	// false so the reap pass can announce the expiry itself.
	Destroyed bool
}

// NewBullet spawns a bullet of the given type heading along dir. The
// direction is normalized here; a degenerate vector defaults to +X.
func NewBullet(id uint32, typ uint8, owner uint32, pos, dir world.Vec2, now int64) *Bullet {
	stats, ok := bulletStatsByType[typ]
	if !ok {
		stats = bulletStatsByType[protocol.BulletPlayer]
	}

	length := float32(math.Hypot(float64(dir.X), float64(dir.Y)))
	if length < 0.001 {
		dir = world.Vec2{X: 1, Y: 0}
	} else {
		dir.X /= length
		dir.Y /= length
	}

	return &Bullet{
		ID:        id,
		OwnerID:   owner,
		Type:      typ,
		Pos:       pos,
		Vel:       world.Vec2{X: dir.X * stats.speed, Y: dir.Y * stats.speed},
		Rotation:  float32(math.Atan2(float64(dir.Y), float64(dir.X)) * 180 / math.Pi),
		Damage:    stats.damage,
		Lifetime:  stats.lifetime,
		Radius:    stats.radius,
		SpawnTime: now,
	}
}

// OwnerIsEnemy reports the faction of the shooter from the id range.
func (b *Bullet) OwnerIsEnemy() bool {
	return b.OwnerID >= protocol.EnemyIDBase
}

// Update advances the bullet and burns lifetime. Destroyed bullets stay
// where they died.
func (b *Bullet) Update(dt float32) {
	if b.Destroyed {
		return
	}
	b.Pos.X += b.Vel.X * dt
	b.Pos.Y += b.Vel.Y * dt
	b.Lifetime -= dt
}

// Expired reports whether the bullet ran out of lifetime without being
// destroyed by a collision.
func (b *Bullet) Expired() bool {
	return !b.Destroyed && b.Lifetime <= 0
}

// Data flattens the bullet into its wire record.
func (b *Bullet) Data() protocol.BulletData {
	return protocol.BulletData{
		ID:         b.ID,
		OwnerID:    b.OwnerID,
		BulletType: b.Type,
		X:          b.Pos.X,
		Y:          b.Pos.Y,
		VelocityX:  b.Vel.X,
		VelocityY:  b.Vel.Y,
		Rotation:   b.Rotation,
		Damage:     b.Damage,
		Lifetime:   b.Lifetime,
		SpawnTime:  b.SpawnTime,
	}
}
