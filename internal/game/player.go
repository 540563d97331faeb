package game

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Input is the latest buffered input of a player; newer input overwrites older
type Input struct {
	DX    int // -1, 0 or 1
	Jump  bool
	AimX  float64
	AimY  float64
	Shoot bool
}

// Player is the per-tick state of one joined session
type Player struct {
	ID          string
	SessionID   string
	Name        string
	X, Y        float64
	VelocityY   float64
	HP          int
	LastShootAt time.Time
	Input       Input
}

// PlayerState is the broadcast view of a player
type PlayerState struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	HP    int     `json:"hp"`
	Alive bool    `json:"alive"`
}

// NewPlayer creates a player at a random position inside the spawn area
func NewPlayer(sessionID, name string, rng *rand.Rand) Player {
	return Player{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      name,
		X:         SpawnXMin + rng.Float64()*(SpawnXMax-SpawnXMin),
		Y:         SpawnYMin + rng.Float64()*(SpawnYMax-SpawnYMin),
		HP:        PlayerMaxHP,
	}
}

func (p Player) Pos() (float64, float64) { return p.X, p.Y }

// Alive reports whether the player still has hp
func (p Player) Alive() bool { return p.HP > 0 }

// OnGround reports whether the player rests on the ground plane
func (p Player) OnGround() bool { return p.Y >= GroundY }

// MoveHorizontal shifts the player by dx*PlayerSpeed, clamped to the playfield
func MoveHorizontal(p *Player, dx int) {
	if dx == 0 {
		return
	}
	if dx > 0 {
		dx = 1
	} else {
		dx = -1
	}
	p.X = Clamp(p.X+float64(dx)*PlayerSpeed, SpawnXMin, SpawnXMax)
}

// Jump launches the player upward; no-op unless grounded
func Jump(p *Player) {
	if !p.OnGround() {
		return
	}
	p.VelocityY = JumpVelocity
}

// ApplyGravity integrates one tick of vertical motion and lands the player on the ground
func ApplyGravity(p *Player) {
	if p.OnGround() && p.VelocityY >= 0 {
		p.Y = GroundY
		p.VelocityY = 0
		return
	}
	p.VelocityY = math.Min(p.VelocityY+Gravity, MaxFallVelocity)
	p.Y += p.VelocityY
	if p.Y >= GroundY {
		p.Y = GroundY
		p.VelocityY = 0
	} else if p.Y < 0 {
		p.Y = 0
		p.VelocityY = 0
	}
}

// ApplyInput consumes the buffered input: dx is held, jump is one-shot
func ApplyInput(p *Player) {
	MoveHorizontal(p, p.Input.DX)
	if p.Input.Jump {
		Jump(p)
		p.Input.Jump = false
	}
}

// TakeDamage reduces HP, never below zero, and returns true if the player died
func TakeDamage(p *Player, dmg int) bool {
	if !p.Alive() {
		return false
	}
	p.HP -= dmg
	if p.HP <= 0 {
		p.HP = 0
		return true
	}
	return false
}

// CanShoot reports whether the cooldown has elapsed at now
func (p Player) CanShoot(now time.Time) bool {
	return p.Alive() && now.Sub(p.LastShootAt) >= ShootCooldown
}

// RecordShoot stamps the cooldown
func RecordShoot(p *Player, now time.Time) {
	p.LastShootAt = now
}

// ToState converts to protocol state
func (p Player) ToState() PlayerState {
	return PlayerState{
		ID:    p.ID,
		Name:  p.Name,
		X:     p.X,
		Y:     p.Y,
		HP:    p.HP,
		Alive: p.Alive(),
	}
}
