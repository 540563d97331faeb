package game

import "math"

// Bullet is a ballistic projectile fired by a player
type Bullet struct {
	ID        string
	OwnerID   string
	X, Y      float64
	VelocityX float64
	VelocityY float64
}

// BulletState is the broadcast view of a bullet
type BulletState struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"ownerId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	VX      float64 `json:"vx"`
	VY      float64 `json:"vy"`
}

// NewBullet creates a bullet at (x,y) heading toward (tx,ty) at BulletSpeed.
// Aiming at the muzzle itself yields a bullet that simply drops.
func NewBullet(id, ownerID string, x, y, tx, ty float64) Bullet {
	hx, hy := Direction(x, y, tx, ty)
	return Bullet{
		ID:        id,
		OwnerID:   ownerID,
		X:         x,
		Y:         y,
		VelocityX: hx * BulletSpeed,
		VelocityY: hy * BulletSpeed,
	}
}

func (b Bullet) Pos() (float64, float64) { return b.X, b.Y }

// Step advances the bullet one tick: move, then accelerate downward up to MaxFallVelocity
func (b Bullet) Step() Bullet {
	b.X += b.VelocityX
	b.Y += b.VelocityY
	b.VelocityY = math.Min(b.VelocityY+Gravity, MaxFallVelocity)
	return b
}

// OnGround reports whether the bullet touched the ground plane
func (b Bullet) OnGround() bool { return b.Y >= GroundY }

// ToState converts to protocol state
func (b Bullet) ToState() BulletState {
	return BulletState{
		ID:      b.ID,
		OwnerID: b.OwnerID,
		X:       round1(b.X),
		Y:       round1(b.Y),
		VX:      round1(b.VelocityX),
		VY:      round1(b.VelocityY),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
