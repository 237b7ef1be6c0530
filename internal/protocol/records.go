package protocol

// Entity id ranges. Faction of a bullet owner is derived solely from these:
// ids below EnemyIDBase are players, at or above are enemies. Bullet ids
// start at BulletIDBase so they can never collide with either.
const (
	EnemyIDBase  uint32 = 1000
	BulletIDBase uint32 = 10000
)

// Enemy type codes carried on the wire.
const (
	EnemyRed uint8 = iota
	EnemyBlack
	EnemyPurple
	EnemyOrange
	EnemyTeal
)

// Bullet type codes carried on the wire.
const (
	BulletPlayer uint8 = iota
	BulletEnemy
	BulletShell
	BulletTracer
)

// Bullet destruction reason codes.
const (
	DestroyExpired uint8 = iota
	DestroyHitPlayer
	DestroyHitEnemy
	DestroyHitBorder
)

// PlayerData is the per-player record inside GameState and PlayerList.
type PlayerData struct {
	ID             uint32
	Name           string
	X, Y           float32
	BodyRotation   float32
	BarrelRotation float32
	Color          string
	Forward        bool
	Backward       bool
	Left           bool
	Right          bool
	Health         float32
	MaxHealth      float32
	Score          int32
	Dead           bool
}

func (p *PlayerData) encodeTo(w *writer) {
	w.u32(p.ID)
	w.str(p.Name)
	w.f32(p.X)
	w.f32(p.Y)
	w.f32(p.BodyRotation)
	w.f32(p.BarrelRotation)
	w.str(p.Color)
	w.flag(p.Forward)
	w.flag(p.Backward)
	w.flag(p.Left)
	w.flag(p.Right)
	w.f32(p.Health)
	w.f32(p.MaxHealth)
	w.i32(p.Score)
	w.flag(p.Dead)
}

func decodePlayerData(r *reader) PlayerData {
	return PlayerData{
		ID:             r.u32(),
		Name:           r.str(),
		X:              r.f32(),
		Y:              r.f32(),
		BodyRotation:   r.f32(),
		BarrelRotation: r.f32(),
		Color:          r.str(),
		Forward:        r.flag(),
		Backward:       r.flag(),
		Left:           r.flag(),
		Right:          r.flag(),
		Health:         r.f32(),
		MaxHealth:      r.f32(),
		Score:          r.i32(),
		Dead:           r.flag(),
	}
}

// EnemyData is the per-enemy record inside GameState.
type EnemyData struct {
	ID             uint32
	EnemyType      uint8
	X, Y           float32
	BodyRotation   float32
	BarrelRotation float32
	Health         float32
	MaxHealth      float32
}

func (e *EnemyData) encodeTo(w *writer) {
	w.u32(e.ID)
	w.u8(e.EnemyType)
	w.f32(e.X)
	w.f32(e.Y)
	w.f32(e.BodyRotation)
	w.f32(e.BarrelRotation)
	w.f32(e.Health)
	w.f32(e.MaxHealth)
}

func decodeEnemyData(r *reader) EnemyData {
	return EnemyData{
		ID:             r.u32(),
		EnemyType:      r.u8(),
		X:              r.f32(),
		Y:              r.f32(),
		BodyRotation:   r.f32(),
		BarrelRotation: r.f32(),
		Health:         r.f32(),
		MaxHealth:      r.f32(),
	}
}

// BulletData is the per-bullet record inside BulletUpdate.
type BulletData struct {
	ID         uint32
	OwnerID    uint32
	BulletType uint8
	X, Y       float32
	VelocityX  float32
	VelocityY  float32
	Rotation   float32
	Damage     float32
	Lifetime   float32
	SpawnTime  int64
}

// OwnerIsEnemy reports the bullet's faction from the owner id range.
func (b *BulletData) OwnerIsEnemy() bool {
	return b.OwnerID >= EnemyIDBase
}

func (b *BulletData) encodeTo(w *writer) {
	w.u32(b.ID)
	w.u32(b.OwnerID)
	w.u8(b.BulletType)
	w.f32(b.X)
	w.f32(b.Y)
	w.f32(b.VelocityX)
	w.f32(b.VelocityY)
	w.f32(b.Rotation)
	w.f32(b.Damage)
	w.f32(b.Lifetime)
	w.i64(b.SpawnTime)
}

func decodeBulletData(r *reader) BulletData {
	return BulletData{
		ID:         r.u32(),
		OwnerID:    r.u32(),
		BulletType: r.u8(),
		X:          r.f32(),
		Y:          r.f32(),
		VelocityX:  r.f32(),
		VelocityY:  r.f32(),
		Rotation:   r.f32(),
		Damage:     r.f32(),
		Lifetime:   r.f32(),
		SpawnTime:  r.i64(),
	}
}
