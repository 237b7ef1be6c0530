package game

import (
	"math"
	"math/rand"

	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/world"
)

// AIState is the enemy behavior state.
type AIState uint8

const (
	StateIdle AIState = iota
	StatePatrol
	StateChase
	StateAttack
	StateRetreat
)

// String returns a readable state name for logs.
func (s AIState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePatrol:
		return "PATROL"
	case StateChase:
		return "CHASE"
	case StateAttack:
		return "ATTACK"
	case StateRetreat:
		return "RETREAT"
	default:
		return "UNKNOWN"
	}
}

// enemyStats is the full per-type parameter table: combat stats, AI
// personality, and shooting behavior. The table is the only thing that
// differs between enemy types.
type enemyStats struct {
	maxHealth   float32
	moveSpeed   float32
	rotateSpeed float32
	scoreValue  int32

	detectionRange  float32
	attackRange     float32
	retreatHealth   float32
	aggression      float32

	shootCooldown float32
	accuracy      float32
	spreadAngle   float32
	burstSize     int
}

var enemyStatsByType = map[uint8]enemyStats{
	protocol.EnemyRed: {
		maxHealth: 100, moveSpeed: 80, rotateSpeed: 120, scoreValue: 10,
		detectionRange: 400, attackRange: 250, retreatHealth: 0.3, aggression: 0.5,
		shootCooldown: 1.5, accuracy: 0.6, spreadAngle: 15, burstSize: 3,
	},
	protocol.EnemyBlack: {
		maxHealth: 200, moveSpeed: 50, rotateSpeed: 80, scoreValue: 25,
		detectionRange: 350, attackRange: 300, retreatHealth: 0.2, aggression: 0.3,
		shootCooldown: 2.5, accuracy: 0.8, spreadAngle: 8, burstSize: 1,
	},
	protocol.EnemyPurple: {
		maxHealth: 60, moveSpeed: 150, rotateSpeed: 200, scoreValue: 15,
		detectionRange: 500, attackRange: 200, retreatHealth: 0.5, aggression: 0.7,
		shootCooldown: 0.8, accuracy: 0.4, spreadAngle: 25, burstSize: 5,
	},
	protocol.EnemyOrange: {
		maxHealth: 300, moveSpeed: 40, rotateSpeed: 60, scoreValue: 50,
		detectionRange: 300, attackRange: 350, retreatHealth: 0.15, aggression: 0.8,
		shootCooldown: 3.0, accuracy: 0.9, spreadAngle: 5, burstSize: 1,
	},
	protocol.EnemyTeal: {
		maxHealth: 80, moveSpeed: 120, rotateSpeed: 150, scoreValue: 12,
		detectionRange: 450, attackRange: 220, retreatHealth: 0.4, aggression: 0.6,
		shootCooldown: 1.2, accuracy: 0.7, spreadAngle: 12, burstSize: 2,
	},
}

func enemyTypeName(typ uint8) string {
	switch typ {
	case protocol.EnemyRed:
		return "red"
	case protocol.EnemyBlack:
		return "black"
	case protocol.EnemyPurple:
		return "purple"
	case protocol.EnemyOrange:
		return "orange"
	case protocol.EnemyTeal:
		return "teal"
	default:
		return "unknown"
	}
}

const (
	enemyBarrelLength   = 20.0
	waypointReachedDist = 50.0
	patrolWaitDuration  = 2.0
)

// Enemy is one server-controlled tank running the five-state AI.
type Enemy struct {
	ID   uint32
	Type uint8

	Pos            world.Vec2
	BodyRotation   float32
	BarrelRotation float32
	Health         float32
	MaxHealth      float32

	stats enemyStats

	state      AIState
	prevState  AIState
	stateTimer float32

	shootCooldown float32
	burstShots    int

	targetID  uint32
	targetPos world.Vec2

	waypoint  world.Vec2
	waitTimer float32
}

// NewEnemy spawns an enemy of the given type at pos, patrolling toward a
// random first waypoint.
func NewEnemy(id uint32, typ uint8, pos world.Vec2, rng *rand.Rand) *Enemy {
	stats, ok := enemyStatsByType[typ]
	if !ok {
		stats = enemyStatsByType[protocol.EnemyRed]
	}

	e := &Enemy{
		ID:        id,
		Type:      typ,
		Pos:       pos,
		Health:    stats.maxHealth,
		MaxHealth: stats.maxHealth,
		stats:     stats,
		state:     StatePatrol,
		prevState: StateIdle,
		targetPos: pos,
	}
	e.newWaypoint(rng)
	return e
}

// State returns the current AI state.
func (e *Enemy) State() AIState { return e.state }

// Dead reports whether the enemy has been destroyed.
func (e *Enemy) Dead() bool { return e.Health <= 0 }

// ScoreValue is the score awarded for destroying this enemy.
func (e *Enemy) ScoreValue() int32 { return e.stats.scoreValue }

// DetectionRange is how far this enemy notices players.
func (e *Enemy) DetectionRange() float32 { return e.stats.detectionRange }

// TargetID returns the tracked player id, or 0 for none.
func (e *Enemy) TargetID() uint32 { return e.targetID }

// HasTarget reports whether the enemy is tracking a player.
func (e *Enemy) HasTarget() bool { return e.targetID != 0 }

// SetTarget locks onto a player at the given position.
func (e *Enemy) SetTarget(playerID uint32, pos world.Vec2) {
	if playerID == 0 {
		e.ClearTarget()
		return
	}
	e.targetID = playerID
	e.targetPos = pos
}

// ClearTarget forgets the tracked player.
func (e *Enemy) ClearTarget() {
	e.targetID = 0
	e.targetPos = e.Pos
}

// TakeDamage reduces health. The caller decides what a kill is worth.
func (e *Enemy) TakeDamage(damage float32) {
	e.Health -= damage
	if e.Health < 0 {
		e.Health = 0
	}
}

// Update runs one AI step and reports whether the enemy fired this step.
// The caller spawns the bullet from BarrelEnd along the spread-adjusted
// AimDirection.
func (e *Enemy) Update(dt float32, rng *rand.Rand) bool {
	if dt < 0 || math.IsNaN(float64(dt)) || math.IsInf(float64(dt), 0) {
		return false
	}

	if e.shootCooldown > 0 {
		e.shootCooldown -= dt
		if e.shootCooldown < 0 {
			e.shootCooldown = 0
		}
	}

	return e.updateAI(dt, rng)
}

func (e *Enemy) updateAI(dt float32, rng *rand.Rand) bool {
	e.stateTimer += dt

	// Health takes priority over everything else.
	if e.shouldRetreat() && e.state != StateRetreat {
		e.setState(StateRetreat, rng)
	}

	fired := false
	switch e.state {
	case StateIdle:
		e.updateIdle(dt, rng)
	case StatePatrol:
		e.updatePatrol(dt, rng)
	case StateChase:
		e.updateChase(dt, rng)
	case StateAttack:
		fired = e.updateAttack(dt, rng)
	case StateRetreat:
		e.updateRetreat(dt, rng)
	}

	if e.HasTarget() {
		e.BarrelRotation = e.angleTo(e.targetPos)
	}
	return fired
}

func (e *Enemy) shouldRetreat() bool {
	return e.Health/e.MaxHealth <= e.stats.retreatHealth
}

func (e *Enemy) setState(next AIState, rng *rand.Rand) {
	if e.state == next {
		return
	}
	e.prevState = e.state
	e.state = next
	e.stateTimer = 0

	switch next {
	case StateIdle:
		e.targetID = 0
	case StatePatrol:
		e.newWaypoint(rng)
		e.waitTimer = 0
	case StateChase:
		e.waitTimer = 0
	}
}

// updateIdle scans with the barrel, then starts patrolling.
func (e *Enemy) updateIdle(dt float32, rng *rand.Rand) {
	e.BarrelRotation += 20 * dt
	if e.stateTimer > 3 {
		e.setState(StatePatrol, rng)
	}
}

// updatePatrol walks random waypoints and watches for targets.
func (e *Enemy) updatePatrol(dt float32, rng *rand.Rand) {
	if e.HasTarget() && e.distanceTo(e.targetPos) <= e.stats.detectionRange {
		e.setState(StateChase, rng)
		return
	}

	if e.distanceTo(e.waypoint) <= waypointReachedDist {
		e.waitTimer += dt
		if e.waitTimer >= patrolWaitDuration {
			e.newWaypoint(rng)
			e.waitTimer = 0
		}
		e.BarrelRotation += 30 * dt
	} else {
		e.moveWithAvoidance(e.waypoint, dt)
		e.BarrelRotation = e.angleTo(e.waypoint)
	}
}

// updateChase closes distance until the target is in attack range. A
// target that escapes well past detection range is dropped.
func (e *Enemy) updateChase(dt float32, rng *rand.Rand) {
	if !e.HasTarget() {
		return
	}

	dist := e.distanceTo(e.targetPos)

	if dist <= e.stats.attackRange*0.7 {
		e.setState(StateAttack, rng)
		return
	}

	if dist > e.stats.detectionRange*1.5 {
		e.ClearTarget()
		e.setState(StatePatrol, rng)
		return
	}

	e.moveWithAvoidance(e.targetPos, dt)
	e.BarrelRotation = e.angleTo(e.targetPos)
}

// updateAttack holds an engagement band around the target and fires when
// the barrel is on the aim line. Exit hysteresis is wider than the entry
// range so the enemy does not flap between CHASE and ATTACK.
func (e *Enemy) updateAttack(dt float32, rng *rand.Rand) bool {
	if !e.HasTarget() {
		e.setState(StatePatrol, rng)
		return false
	}

	dist := e.distanceTo(e.targetPos)

	if dist > e.stats.attackRange*1.5 {
		e.setState(StateChase, rng)
		return false
	}

	switch {
	case dist < e.stats.attackRange*0.6:
		e.moveAwayFrom(e.targetPos, dt)
	case dist > e.stats.attackRange*1.1:
		e.moveWithAvoidance(e.targetPos, dt)
	default:
		e.rotateTowards(e.targetPos, dt)
	}

	targetAngle := e.angleTo(e.targetPos)
	e.BarrelRotation = targetAngle

	aimOff := protocol.NormalizeRotation(targetAngle) - protocol.NormalizeRotation(e.BarrelRotation)
	if aimOff < 0 {
		aimOff = -aimOff
	}
	if aimOff > 180 {
		aimOff = 360 - aimOff
	}

	// Looser aim gate at range, stricter up close.
	aimThreshold := float32(45)
	if dist > e.stats.attackRange*0.8 {
		aimThreshold = 75
	} else if dist > e.stats.attackRange*0.5 {
		aimThreshold = 60
	}

	if aimOff <= aimThreshold && e.shootCooldown <= 0 {
		return e.tryShoot()
	}
	return false
}

// updateRetreat runs from the threat, or repositions toward the interior
// when pinned against a wall.
func (e *Enemy) updateRetreat(dt float32, rng *rand.Rand) {
	if !e.shouldRetreat() {
		e.setState(StatePatrol, rng)
		return
	}

	const stuckMargin = 50.0
	minEdge := e.Pos.X - world.MoveMinX
	if d := world.MoveMaxX - e.Pos.X; d < minEdge {
		minEdge = d
	}
	if d := e.Pos.Y - world.MoveMinY; d < minEdge {
		minEdge = d
	}
	if d := world.MoveMaxY - e.Pos.Y; d < minEdge {
		minEdge = d
	}
	stuck := minEdge < stuckMargin

	if e.HasTarget() {
		if stuck {
			e.moveWithAvoidance(e.safeRetreatPoint(e.targetPos), dt)
		} else {
			e.moveAwayFrom(e.targetPos, dt)
		}
		e.BarrelRotation = e.angleTo(e.targetPos)
	} else {
		if stuck {
			e.moveWithAvoidance(e.interiorPoint(rng), dt)
		} else {
			e.moveWithAvoidance(e.farthestCorner(), dt)
		}
	}
}

// tryShoot starts the cooldown and tracks burst fire. The last shot of a
// burst carries an extended cooldown.
func (e *Enemy) tryShoot() bool {
	if e.shootCooldown > 0 || e.state != StateAttack {
		return false
	}

	e.shootCooldown = e.stats.shootCooldown
	e.burstShots++
	if e.burstShots >= e.stats.burstSize {
		e.shootCooldown *= 1.5
		e.burstShots = 0
	}
	return true
}

// Movement helpers.

func (e *Enemy) distanceTo(p world.Vec2) float32 {
	return float32(math.Hypot(float64(p.X-e.Pos.X), float64(p.Y-e.Pos.Y)))
}

// angleTo returns the heading to p in [0, 360) degrees.
func (e *Enemy) angleTo(p world.Vec2) float32 {
	deg := float32(math.Atan2(float64(p.Y-e.Pos.Y), float64(p.X-e.Pos.X)) * 180 / math.Pi)
	return protocol.NormalizeRotation(deg)
}

// rotateTowards turns the hull toward p, snapping when within one step.
func (e *Enemy) rotateTowards(p world.Vec2, dt float32) {
	target := e.angleTo(p)
	current := protocol.NormalizeRotation(e.BodyRotation)

	diff := target - current
	if diff > 180 {
		diff -= 360
	} else if diff < -180 {
		diff += 360
	}

	step := e.stats.rotateSpeed * dt
	switch {
	case diff < step && diff > -step:
		e.BodyRotation = target
	case diff > 0:
		e.BodyRotation = current + step
	default:
		e.BodyRotation = current - step
	}
}

// moveTowards rotates toward p and drives forward until close.
func (e *Enemy) moveTowards(p world.Vec2, dt float32) {
	e.rotateTowards(p, dt)

	if e.distanceTo(p) > waypointReachedDist {
		rad := float64(e.BodyRotation) * math.Pi / 180
		e.Pos.X += float32(math.Cos(rad)) * e.stats.moveSpeed * dt
		e.Pos.Y += float32(math.Sin(rad)) * e.stats.moveSpeed * dt

		e.Pos.X = clamp(e.Pos.X, world.MoveMinX, world.MoveMaxX)
		e.Pos.Y = clamp(e.Pos.Y, world.MoveMinY, world.MoveMaxY)
	}
}

// moveAwayFrom drives toward a point well behind the enemy, directly
// opposite the threat.
func (e *Enemy) moveAwayFrom(threat world.Vec2, dt float32) {
	away := world.Vec2{X: e.Pos.X - threat.X, Y: e.Pos.Y - threat.Y}
	length := float32(math.Hypot(float64(away.X), float64(away.Y)))
	if length < 0.001 {
		away = world.Vec2{X: 1, Y: 0}
	} else {
		away.X /= length
		away.Y /= length
	}

	e.moveTowards(world.Vec2{X: e.Pos.X + away.X*300, Y: e.Pos.Y + away.Y*300}, dt)
}

// positionSafe reports whether pos keeps a comfortable margin from the
// arena edges.
func positionSafe(pos world.Vec2) bool {
	const margin = 80.0
	return pos.X > margin && pos.X < world.Width-margin &&
		pos.Y > margin && pos.Y < world.Height-margin
}

// moveWithAvoidance is moveTowards with boundary steering: near an edge
// the heading is blended toward the arena center and speed drops.
func (e *Enemy) moveWithAvoidance(p world.Vec2, dt float32) {
	e.rotateTowards(p, dt)

	if e.distanceTo(p) <= waypointReachedDist {
		return
	}

	rad := float64(e.BodyRotation) * math.Pi / 180
	dirX := float32(math.Cos(rad))
	dirY := float32(math.Sin(rad))

	intended := world.Vec2{
		X: e.Pos.X + dirX*e.stats.moveSpeed*dt,
		Y: e.Pos.Y + dirY*e.stats.moveSpeed*dt,
	}

	if positionSafe(intended) {
		e.Pos = intended
	} else {
		toCenter := world.Vec2{X: world.CenterX - e.Pos.X, Y: world.CenterY - e.Pos.Y}
		length := float32(math.Hypot(float64(toCenter.X), float64(toCenter.Y)))
		if length > 0.001 {
			toCenter.X /= length
			toCenter.Y /= length

			edgeDist := world.Width/2 - abs32(e.Pos.X-world.CenterX)
			if d := world.Height/2 - abs32(e.Pos.Y-world.CenterY); d < edgeDist {
				edgeDist = d
			}
			centerWeight := 1 - edgeDist/200
			if centerWeight < 0 {
				centerWeight = 0
			}

			blended := world.Vec2{
				X: dirX*(1-centerWeight) + toCenter.X*centerWeight,
				Y: dirY*(1-centerWeight) + toCenter.Y*centerWeight,
			}
			blendLen := float32(math.Hypot(float64(blended.X), float64(blended.Y)))
			if blendLen > 0.001 {
				blended.X /= blendLen
				blended.Y /= blendLen
			}

			e.Pos.X += blended.X * e.stats.moveSpeed * dt * 0.7
			e.Pos.Y += blended.Y * e.stats.moveSpeed * dt * 0.7
		}
	}

	e.Pos.X = clamp(e.Pos.X, world.MoveMinX, world.MoveMaxX)
	e.Pos.Y = clamp(e.Pos.Y, world.MoveMinY, world.MoveMaxY)
}

// safeRetreatPoint blends away-from-threat with toward-center so a
// cornered enemy slides along the wall instead of pushing into it.
func (e *Enemy) safeRetreatPoint(threat world.Vec2) world.Vec2 {
	away := world.Vec2{X: e.Pos.X - threat.X, Y: e.Pos.Y - threat.Y}
	length := float32(math.Hypot(float64(away.X), float64(away.Y)))
	if length > 0.001 {
		away.X /= length
		away.Y /= length
	} else {
		away = world.Vec2{X: 1, Y: 0}
	}

	center := world.Vec2{
		X: (world.MoveMinX + world.MoveMaxX) / 2,
		Y: (world.MoveMinY + world.MoveMaxY) / 2,
	}
	toCenter := world.Vec2{X: center.X - e.Pos.X, Y: center.Y - e.Pos.Y}
	centerDist := float32(math.Hypot(float64(toCenter.X), float64(toCenter.Y)))
	if centerDist > 0.001 {
		toCenter.X /= centerDist
		toCenter.Y /= centerDist
	}

	blended := world.Vec2{
		X: away.X*0.6 + toCenter.X*0.4,
		Y: away.Y*0.6 + toCenter.Y*0.4,
	}
	blendLen := float32(math.Hypot(float64(blended.X), float64(blended.Y)))
	if blendLen > 0.001 {
		blended.X /= blendLen
		blended.Y /= blendLen
	}

	const safety = 100.0
	return world.Vec2{
		X: clamp(e.Pos.X+blended.X*200, world.MoveMinX+safety, world.MoveMaxX-safety),
		Y: clamp(e.Pos.Y+blended.Y*200, world.MoveMinY+safety, world.MoveMaxY-safety),
	}
}

// interiorPoint picks a random spot well away from every edge.
func (e *Enemy) interiorPoint(rng *rand.Rand) world.Vec2 {
	const margin = 150.0
	return world.Vec2{
		X: world.MoveMinX + margin + rng.Float32()*(world.MoveMaxX-world.MoveMinX-2*margin),
		Y: world.MoveMinY + margin + rng.Float32()*(world.MoveMaxY-world.MoveMinY-2*margin),
	}
}

// farthestCorner returns the arena corner farthest from the enemy.
func (e *Enemy) farthestCorner() world.Vec2 {
	const margin = 130.0
	corners := [4]world.Vec2{
		{X: world.MoveMinX + margin, Y: world.MoveMinY + margin},
		{X: world.MoveMaxX - margin, Y: world.MoveMinY + margin},
		{X: world.MoveMinX + margin, Y: world.MoveMaxY - margin},
		{X: world.MoveMaxX - margin, Y: world.MoveMaxY - margin},
	}

	best := corners[0]
	bestDist := e.distanceTo(best)
	for _, c := range corners[1:] {
		if d := e.distanceTo(c); d > bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func (e *Enemy) newWaypoint(rng *rand.Rand) {
	e.waypoint = world.Vec2{
		X: 100 + rng.Float32()*(1180-100),
		Y: 100 + rng.Float32()*(860-100),
	}
}

// Shooting helpers.

// BarrelEnd is where bullets leave the tank.
func (e *Enemy) BarrelEnd() world.Vec2 {
	rad := float64(e.BarrelRotation) * math.Pi / 180
	return world.Vec2{
		X: e.Pos.X + float32(math.Cos(rad))*enemyBarrelLength,
		Y: e.Pos.Y + float32(math.Sin(rad))*enemyBarrelLength,
	}
}

// AimDirection is the unit vector along the barrel.
func (e *Enemy) AimDirection() world.Vec2 {
	rad := float64(e.BarrelRotation) * math.Pi / 180
	return world.Vec2{X: float32(math.Cos(rad)), Y: float32(math.Sin(rad))}
}

// ApplySpread perturbs an aim direction by a random angle within the
// type's accuracy cone. Perfect accuracy shoots straight.
func (e *Enemy) ApplySpread(dir world.Vec2, rng *rand.Rand) world.Vec2 {
	spread := (1 - e.stats.accuracy) * e.stats.spreadAngle
	if spread < 0.01 {
		return dir
	}

	offset := float64(rng.Float32()*2*spread-spread) * math.Pi / 180
	cos := float32(math.Cos(offset))
	sin := float32(math.Sin(offset))

	rotated := world.Vec2{
		X: dir.X*cos - dir.Y*sin,
		Y: dir.X*sin + dir.Y*cos,
	}
	length := float32(math.Hypot(float64(rotated.X), float64(rotated.Y)))
	if length > 0.001 {
		rotated.X /= length
		rotated.Y /= length
	}
	return rotated
}

// Data flattens the enemy into its wire record.
func (e *Enemy) Data() protocol.EnemyData {
	return protocol.EnemyData{
		ID:             e.ID,
		EnemyType:      e.Type,
		X:              e.Pos.X,
		Y:              e.Pos.Y,
		BodyRotation:   e.BodyRotation,
		BarrelRotation: e.BarrelRotation,
		Health:         e.Health,
		MaxHealth:      e.MaxHealth,
	}
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
