package game

import (
	"math"
	"time"
)

const (
	WorldWidth  = 1600.0
	WorldHeight = 900.0

	GroundY         = 880.0 // y grows downward; the ground plane sits near the bottom edge
	Gravity         = 0.5   // per tick
	JumpVelocity    = -12.0 // per tick
	MaxFallVelocity = 15.0  // per tick
)

const (
	PlayerSpeed  = 5.0 // horizontal pixels per tick
	PlayerRadius = 5.0
	PlayerMaxHP  = 10

	BulletSpeed  = 30.0 // pixels per tick
	BulletRadius = 5.0
	BulletDamage = 1

	HitRadius     = PlayerRadius + BulletRadius
	GridCellSize  = 2 * HitRadius // anything within HitRadius is in the same or an adjacent cell
	ShootCooldown = 200 * time.Millisecond
)

// Spawn area and horizontal playfield bounds
const (
	SpawnXMin = 100.0
	SpawnXMax = 1500.0
	SpawnYMin = 100.0
	SpawnYMax = 800.0
)

// Clamp restricts v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Direction returns the unit vector from (fx,fy) to (tx,ty), or (0,0) when they
// coincide or either point is not finite
func Direction(fx, fy, tx, ty float64) (float64, float64) {
	dx := tx - fx
	dy := ty - fy
	l := math.Hypot(dx, dy)
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return 0, 0
	}
	return dx / l, dy / l
}

// Dist2 returns the squared distance between two points
func Dist2(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return dx*dx + dy*dy
}
