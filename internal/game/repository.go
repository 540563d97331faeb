package game

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

var (
	ErrRoomFull     = errors.New("room is full")
	ErrSessionTaken = errors.New("session already has a player in this room")
)

// PlayerRepository is an arena of players indexed by id and session.
// Records are copied in and out; callers never hold pointers into the arena.
type PlayerRepository struct {
	mu        sync.RWMutex
	capacity  int
	players   []Player
	byID      map[string]int
	bySession map[string]string // session id -> player id
}

// NewPlayerRepository creates an empty repository holding at most capacity players
func NewPlayerRepository(capacity int) *PlayerRepository {
	return &PlayerRepository{
		capacity:  capacity,
		byID:      make(map[string]int),
		bySession: make(map[string]string),
	}
}

// Add stores p unless the repository is full or the session already has a player
func (r *PlayerRepository) Add(p Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.players) >= r.capacity {
		return ErrRoomFull
	}
	if _, ok := r.bySession[p.SessionID]; ok {
		return ErrSessionTaken
	}
	r.byID[p.ID] = len(r.players)
	r.bySession[p.SessionID] = p.ID
	r.players = append(r.players, p)
	return nil
}

// Remove deletes the player by id
func (r *PlayerRepository) Remove(id string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// RemoveBySession deletes the player owned by sessionID
func (r *PlayerRepository) RemoveBySession(sessionID string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySession[sessionID]
	if !ok {
		return Player{}, false
	}
	return r.removeLocked(id)
}

// removeLocked swap-removes from the arena and fixes the moved element's index
func (r *PlayerRepository) removeLocked(id string) (Player, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return Player{}, false
	}
	p := r.players[idx]
	last := len(r.players) - 1
	if idx != last {
		r.players[idx] = r.players[last]
		r.byID[r.players[idx].ID] = idx
	}
	r.players[last] = Player{}
	r.players = r.players[:last]
	delete(r.byID, id)
	delete(r.bySession, p.SessionID)
	return p, true
}

// FindByID returns a copy of the player
func (r *PlayerRepository) FindByID(id string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return Player{}, false
	}
	return r.players[idx], true
}

// FindBySession returns a copy of the player owned by sessionID
func (r *PlayerRepository) FindBySession(sessionID string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySession[sessionID]
	if !ok {
		return Player{}, false
	}
	return r.players[r.byID[id]], true
}

// Update applies fn to the stored player under the write lock
func (r *PlayerRepository) Update(id string, fn func(*Player)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byID[id]
	if !ok {
		return false
	}
	fn(&r.players[idx])
	return true
}

// UpdateBySession applies fn to the player owned by sessionID
func (r *PlayerRepository) UpdateBySession(sessionID string, fn func(*Player)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySession[sessionID]
	if !ok {
		return false
	}
	fn(&r.players[r.byID[id]])
	return true
}

// UpdateAll applies fn to every stored player. fn must not change ID or SessionID.
func (r *PlayerRepository) UpdateAll(fn func(*Player)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.players {
		fn(&r.players[i])
	}
}

// All returns a copy of every player
func (r *PlayerRepository) All() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Player, len(r.players))
	copy(out, r.players)
	return out
}

// Alive returns a copy of every player with hp left
func (r *PlayerRepository) Alive() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		if p.Alive() {
			out = append(out, p)
		}
	}
	return out
}

// SessionIDs returns the session of every stored player
func (r *PlayerRepository) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.SessionID)
	}
	return out
}

func (r *PlayerRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *PlayerRepository) Capacity() int { return r.capacity }

func (r *PlayerRepository) IsFull() bool {
	return r.Count() >= r.capacity
}

// BulletRepository is an arena of in-flight bullets with monotonically increasing ids
type BulletRepository struct {
	mu      sync.RWMutex
	bullets []Bullet
	byID    map[string]int
	nextID  atomic.Uint64
}

func NewBulletRepository() *BulletRepository {
	return &BulletRepository{byID: make(map[string]int)}
}

// NextID reserves the next bullet id
func (r *BulletRepository) NextID() string {
	return strconv.FormatUint(r.nextID.Add(1), 10)
}

// Spawn creates and stores a bullet fired from (x,y) toward (tx,ty)
func (r *BulletRepository) Spawn(ownerID string, x, y, tx, ty float64) Bullet {
	b := NewBullet(r.NextID(), ownerID, x, y, tx, ty)
	r.Add(b)
	return b
}

// Add stores b, replacing any bullet with the same id
func (r *BulletRepository) Add(b Bullet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.byID[b.ID]; ok {
		r.bullets[idx] = b
		return
	}
	r.byID[b.ID] = len(r.bullets)
	r.bullets = append(r.bullets, b)
}

// Remove deletes a bullet by id
func (r *BulletRepository) Remove(id string) (Bullet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byID[id]
	if !ok {
		return Bullet{}, false
	}
	b := r.bullets[idx]
	last := len(r.bullets) - 1
	if idx != last {
		r.bullets[idx] = r.bullets[last]
		r.byID[r.bullets[idx].ID] = idx
	}
	r.bullets = r.bullets[:last]
	delete(r.byID, id)
	return b, true
}

// RemoveAll deletes every bullet whose id is in ids
func (r *BulletRepository) RemoveAll(ids map[string]struct{}) {
	if len(ids) == 0 {
		return
	}
	r.Step(func(bs []Bullet) []Bullet {
		out := bs[:0]
		for _, b := range bs {
			if _, hit := ids[b.ID]; !hit {
				out = append(out, b)
			}
		}
		return out
	})
}

// Step replaces the table with fn(current) under the write lock,
// so a bullet fired concurrently lands either before or after the step, never lost
func (r *BulletRepository) Step(fn func([]Bullet) []Bullet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bullets = fn(r.bullets)
	clear(r.byID)
	for i, b := range r.bullets {
		r.byID[b.ID] = i
	}
}

// All returns a copy of every bullet
func (r *BulletRepository) All() []Bullet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Bullet, len(r.bullets))
	copy(out, r.bullets)
	return out
}

func (r *BulletRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bullets)
}
