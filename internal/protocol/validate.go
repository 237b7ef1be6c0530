package protocol

import (
	"math"

	"github.com/ferrumgames/tankserver/internal/world"
)

// Limits for untrusted fields. Anything outside is clamped or rejected,
// never trusted.
const (
	MaxPlayerNameLen = 50
	MaxColorNameLen  = 20

	// MaxTimestampDelta is how far a client clock may drift from the
	// server's, in milliseconds, before its messages are rejected.
	MaxTimestampDelta = 60000

	MinRotation = -360.0
	MaxRotation = 720.0

	// MaxPlayerID bounds client-claimed ids to a sane range.
	MaxPlayerID = 1000000

	// SequenceWindow is how far behind the highest-seen sequence an input
	// may arrive before it is recorded as stale.
	SequenceWindow = 50

	// LossWindow is how many recent sequences per client feed the packet
	// loss estimate.
	LossWindow = 100

	// LossReportThreshold is the estimated loss percentage above which the
	// server calls out a client in its periodic stats.
	LossReportThreshold = 10.0
)

// ValidPosition reports whether a position is finite and inside the
// movement rectangle.
func ValidPosition(x, y float32) bool {
	if !finite(x) || !finite(y) {
		return false
	}
	return world.InMoveBounds(x, y)
}

// ValidRotation accepts one extra turn in either direction; the value is
// normalized afterwards.
func ValidRotation(rot float32) bool {
	return finite(rot) && rot >= MinRotation && rot <= MaxRotation
}

// ValidPlayerName rejects empty and oversized names.
func ValidPlayerName(name string) bool {
	return name != "" && len(name) <= MaxPlayerNameLen
}

// ValidColor rejects empty and oversized color names.
func ValidColor(color string) bool {
	return color != "" && len(color) <= MaxColorNameLen
}

// ValidTimestamp reports whether a client timestamp is within the allowed
// drift window of the server clock. Zero and negative stamps never pass.
func ValidTimestamp(ts, now int64) bool {
	if ts <= 0 || now <= 0 {
		return false
	}
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	return delta <= MaxTimestampDelta
}

// ValidPlayerID rejects zero and implausibly large ids.
func ValidPlayerID(id uint32) bool {
	return id > 0 && id < MaxPlayerID
}

// ValidBulletDirection rejects zero-length and wildly denormalized
// direction vectors. Clients send normalized vectors; small floating-point
// slack is allowed.
func ValidBulletDirection(dx, dy float32) bool {
	if !finite(dx) || !finite(dy) {
		return false
	}
	lenSq := float64(dx)*float64(dx) + float64(dy)*float64(dy)
	return lenSq > 0.001*0.001 && lenSq <= 2.0*2.0
}

// ClampPositionX forces an X coordinate into the movement rectangle.
// Non-finite values collapse to the minimum bound.
func ClampPositionX(x float32) float32 {
	return clampCoord(x, world.MoveMinX, world.MoveMaxX)
}

// ClampPositionY forces a Y coordinate into the movement rectangle.
func ClampPositionY(y float32) float32 {
	return clampCoord(y, world.MoveMinY, world.MoveMaxY)
}

func clampCoord(v, min, max float32) float32 {
	if !finite(v) {
		return min
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// NormalizeRotation maps any finite angle into [0, 360). Non-finite input
// becomes 0.
func NormalizeRotation(rot float32) float32 {
	if !finite(rot) {
		return 0
	}
	for rot < 0 {
		rot += 360
	}
	for rot >= 360 {
		rot -= 360
	}
	return rot
}

// AngleDifference returns the signed shortest-path difference from one
// angle to another, in (-180, 180].
func AngleDifference(from, to float32) float32 {
	diff := NormalizeRotation(to) - NormalizeRotation(from)
	if diff > 180 {
		diff -= 360
	} else if diff < -180 {
		diff += 360
	}
	return diff
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
