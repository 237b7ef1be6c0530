// Package world defines the arena geometry shared by the server simulation
// and the client prediction code. Both sides must agree on these values
// exactly or predicted positions drift from authoritative ones.
package world

// Vec2 is a 2D vector.
type Vec2 struct {
	X float32
	Y float32
}

const (
	Width  = 1280.0
	Height = 960.0

	// Border is the thickness of the decorative wall around the arena.
	Border = 48.0

	TankRadius   = 25.0
	EnemyRadius  = 25.0
	BulletRadius = 4.0

	// Playable area: inside the border walls.
	PlayableMinX = Border
	PlayableMinY = Border
	PlayableMaxX = Width - Border
	PlayableMaxY = Height - Border

	// Movement bounds: where a tank center may be (playable inset by radius).
	MoveMinX = PlayableMinX + TankRadius
	MoveMinY = PlayableMinY + TankRadius
	MoveMaxX = PlayableMaxX - TankRadius
	MoveMaxY = PlayableMaxY - TankRadius

	// Spawn bounds leave extra clearance beyond the movement inset.
	SpawnSafety = 10.0
	SpawnMargin = Border + TankRadius + SpawnSafety
	SpawnMinX   = SpawnMargin
	SpawnMinY   = SpawnMargin
	SpawnMaxX   = Width - SpawnMargin
	SpawnMaxY   = Height - SpawnMargin

	CenterX = Width / 2
	CenterY = Height / 2
)

// Center returns the arena center point.
func Center() Vec2 {
	return Vec2{X: CenterX, Y: CenterY}
}

// InMoveBounds reports whether a tank center position is inside the
// movement rectangle.
func InMoveBounds(x, y float32) bool {
	return x >= MoveMinX && x <= MoveMaxX && y >= MoveMinY && y <= MoveMaxY
}

// InPlayableArea reports whether a point is inside the border walls.
// Bullets live and die by this rectangle.
func InPlayableArea(x, y float32) bool {
	return x >= PlayableMinX && x <= PlayableMaxX && y >= PlayableMinY && y <= PlayableMaxY
}
