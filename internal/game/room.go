package game

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeadPlayer is reported once, after the tick that took its last hp
type DeadPlayer struct {
	PlayerID         string
	SessionID        string
	KilledByBulletID string
}

// TickReport is what one room tick produced
type TickReport struct {
	RoomID string
	Hits   HitResult
	Dead   []DeadPlayer
}

// Room is one isolated game instance
type Room struct {
	ID       string
	Capacity int

	players *PlayerRepository
	bullets *BulletRepository
	engine  *GameEngine
	now     func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	deadMu sync.Mutex
	dead   []DeadPlayer
}

// RoomOption customises a Room
type RoomOption func(*Room)

// WithClock overrides the wall clock used for shoot cooldowns
func WithClock(now func() time.Time) RoomOption {
	return func(r *Room) { r.now = now }
}

// WithRand overrides the spawn position source
func WithRand(rng *rand.Rand) RoomOption {
	return func(r *Room) { r.rng = rng }
}

// NewRoom creates an empty room
func NewRoom(engine *GameEngine, capacity int, opts ...RoomOption) *Room {
	r := &Room{
		ID:       uuid.NewString(),
		Capacity: capacity,
		players:  NewPlayerRepository(capacity),
		bullets:  NewBulletRepository(),
		engine:   engine,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Players exposes the room's player table
func (r *Room) Players() *PlayerRepository { return r.players }

// Bullets exposes the room's bullet table
func (r *Room) Bullets() *BulletRepository { return r.bullets }

func (r *Room) PlayerCount() int { return r.players.Count() }

func (r *Room) IsFull() bool { return r.players.IsFull() }

// Join creates a player for sessionID at a random spawn point
func (r *Room) Join(sessionID, name string) (Player, error) {
	r.rngMu.Lock()
	p := NewPlayer(sessionID, name, r.rng)
	r.rngMu.Unlock()

	if err := r.players.Add(p); err != nil {
		return Player{}, fmt.Errorf("join room %s: %w", r.ID, err)
	}
	return p, nil
}

// Leave removes the player of sessionID and returns its id
func (r *Room) Leave(sessionID string) (string, bool) {
	p, ok := r.players.RemoveBySession(sessionID)
	if !ok {
		return "", false
	}
	return p.ID, true
}

// HandleInput buffers the latest input and fires immediately when the cooldown allows
func (r *Room) HandleInput(sessionID string, in Input) bool {
	now := r.now()
	var (
		fire         bool
		owner        string
		fromX, fromY float64
	)
	found := r.players.UpdateBySession(sessionID, func(p *Player) {
		p.Input.DX = in.DX
		p.Input.Jump = in.Jump
		p.Input.AimX = in.AimX
		p.Input.AimY = in.AimY
		p.Input.Shoot = in.Shoot
		if in.Shoot && p.CanShoot(now) {
			RecordShoot(p, now)
			fire = true
			owner, fromX, fromY = p.ID, p.X, p.Y
		}
	})
	if fire {
		r.bullets.Spawn(owner, fromX, fromY, in.AimX, in.AimY)
	}
	return found
}

// Tick advances the room by one step
func (r *Room) Tick() TickReport {
	r.players.UpdateAll(func(p *Player) {
		if !p.Alive() {
			return
		}
		ApplyInput(p)
		ApplyGravity(p)
	})

	r.bullets.Step(r.engine.AdvanceBullets)

	hits := r.engine.ResolveHits(r.players.Alive(), r.bullets.All())

	var killed []Hit
	for _, h := range hits.Hits {
		var died bool
		r.players.Update(h.PlayerID, func(p *Player) {
			died = TakeDamage(p, BulletDamage)
		})
		if died {
			killed = append(killed, h)
		}
	}
	r.bullets.RemoveAll(hits.HitBulletIDs)

	report := TickReport{RoomID: r.ID, Hits: hits}
	for _, h := range killed {
		p, ok := r.players.Remove(h.PlayerID)
		if !ok {
			continue
		}
		report.Dead = append(report.Dead, DeadPlayer{
			PlayerID:         p.ID,
			SessionID:        p.SessionID,
			KilledByBulletID: h.BulletID,
		})
	}
	if len(report.Dead) > 0 {
		r.deadMu.Lock()
		r.dead = append(r.dead, report.Dead...)
		r.deadMu.Unlock()
	}
	return report
}

// GetAndRemoveDeadPlayers drains the players that died since the last call
func (r *Room) GetAndRemoveDeadPlayers() []DeadPlayer {
	r.deadMu.Lock()
	defer r.deadMu.Unlock()
	out := r.dead
	r.dead = nil
	return out
}

func (r *Room) pendingDead() int {
	r.deadMu.Lock()
	defer r.deadMu.Unlock()
	return len(r.dead)
}

// AlivePlayerStates snapshots every alive player
func (r *Room) AlivePlayerStates() []PlayerState {
	alive := r.players.Alive()
	out := make([]PlayerState, 0, len(alive))
	for _, p := range alive {
		out = append(out, p.ToState())
	}
	return out
}

// BulletStates snapshots every bullet in flight
func (r *Room) BulletStates() []BulletState {
	bs := r.bullets.All()
	out := make([]BulletState, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.ToState())
	}
	return out
}

// SessionIDs lists the sessions currently in the room
func (r *Room) SessionIDs() []string {
	return r.players.SessionIDs()
}

// PlayerIDBySession resolves a session to its player id
func (r *Room) PlayerIDBySession(sessionID string) (string, bool) {
	p, ok := r.players.FindBySession(sessionID)
	return p.ID, ok
}
