package game

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

const (
	DefaultRoomCapacity = 2
	MaxRoomCapacity     = 2000 // single-room deployment
)

var (
	ErrAlreadyJoined   = errors.New("session already joined a room")
	ErrInvalidCapacity = errors.New("invalid room capacity")
)

// DeadPlayerInfo is a dead player annotated with the sessions still in its room
type DeadPlayerInfo struct {
	PlayerID         string
	SessionID        string
	KilledByBulletID string
	RoomID           string
	RoomSessionIDs   []string
}

// Departure describes a player that left and who should be told
type Departure struct {
	PlayerID       string
	RoomID         string
	RoomSessionIDs []string
}

// RoomState is the per-room snapshot used to build broadcast payloads
type RoomState struct {
	RoomID     string
	SessionIDs []string
	Players    []PlayerState
	Bullets    []BulletState
}

// RoomInfo summarises a room for the admin listing
type RoomInfo struct {
	ID       string `json:"id"`
	Players  int    `json:"players"`
	Bullets  int    `json:"bullets"`
	Capacity int    `json:"capacity"`
}

// RoomManager routes sessions to rooms and fans ticks out across them
type RoomManager struct {
	mu       sync.Mutex
	engine   *GameEngine
	capacity int
	roomOpts []RoomOption
	rooms    map[string]*Room
	order    []string // creation order, so join fills the oldest room first
	sessions map[string]*Room

	// MaxRooms caps the number of live rooms; 0 means unlimited
	MaxRooms int

	// Optional hooks, called without the manager lock held
	OnRoomCreated   func(roomID string)
	OnRoomDestroyed func(roomID string)
}

// NewRoomManager creates a manager whose rooms hold capacity players each
func NewRoomManager(engine *GameEngine, capacity int, opts ...RoomOption) (*RoomManager, error) {
	if capacity < 1 || capacity > MaxRoomCapacity {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidCapacity, capacity, MaxRoomCapacity)
	}
	return &RoomManager{
		engine:   engine,
		capacity: capacity,
		roomOpts: opts,
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Room),
	}, nil
}

// Capacity returns the per-room player limit
func (m *RoomManager) Capacity() int { return m.capacity }

// Join places sessionID in the oldest room with space, creating one when all are full.
// Returns ErrRoomFull when every room is full and MaxRooms is reached.
func (m *RoomManager) Join(sessionID, name string) (Player, *Room, error) {
	var created string
	defer func() {
		if created != "" && m.OnRoomCreated != nil {
			m.OnRoomCreated(created)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; ok {
		return Player{}, nil, ErrAlreadyJoined
	}

	for _, id := range m.order {
		room := m.rooms[id]
		if room.IsFull() {
			continue
		}
		p, err := room.Join(sessionID, name)
		if errors.Is(err, ErrRoomFull) {
			continue
		}
		if err != nil {
			return Player{}, nil, err
		}
		m.sessions[sessionID] = room
		return p, room, nil
	}

	if m.MaxRooms > 0 && len(m.rooms) >= m.MaxRooms {
		return Player{}, nil, fmt.Errorf("all %d rooms: %w", len(m.rooms), ErrRoomFull)
	}
	room := NewRoom(m.engine, m.capacity, m.roomOpts...)
	p, err := room.Join(sessionID, name)
	if err != nil {
		return Player{}, nil, err
	}
	m.rooms[room.ID] = room
	m.order = append(m.order, room.ID)
	m.sessions[sessionID] = room
	created = room.ID
	log.Printf("room %s: created (capacity %d, rooms %d)", room.ID, m.capacity, len(m.rooms))
	return p, room, nil
}

// Leave removes sessionID from its room, destroying the room once empty
func (m *RoomManager) Leave(sessionID string) (Departure, bool) {
	var destroyed string
	defer func() {
		if destroyed != "" && m.OnRoomDestroyed != nil {
			m.OnRoomDestroyed(destroyed)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.sessions[sessionID]
	if !ok {
		return Departure{}, false
	}
	delete(m.sessions, sessionID)
	playerID, ok := room.Leave(sessionID)
	if m.destroyIfEmptyLocked(room) {
		destroyed = room.ID
	}
	if !ok {
		return Departure{}, false
	}
	return Departure{
		PlayerID:       playerID,
		RoomID:         room.ID,
		RoomSessionIDs: room.SessionIDs(),
	}, true
}

func (m *RoomManager) destroyIfEmptyLocked(room *Room) bool {
	if room.PlayerCount() > 0 || room.pendingDead() > 0 {
		return false
	}
	if _, ok := m.rooms[room.ID]; !ok {
		return false
	}
	delete(m.rooms, room.ID)
	for i, id := range m.order {
		if id == room.ID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	log.Printf("room %s: destroyed (rooms %d)", room.ID, len(m.rooms))
	return true
}

// HandleInput forwards input to the session's room; unknown sessions are ignored
func (m *RoomManager) HandleInput(sessionID string, in Input) bool {
	room, ok := m.RoomOf(sessionID)
	if !ok {
		return false
	}
	return room.HandleInput(sessionID, in)
}

// RoomOf returns the room sessionID currently plays in
func (m *RoomManager) RoomOf(sessionID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.sessions[sessionID]
	return room, ok
}

func (m *RoomManager) snapshotRooms() []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Room, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rooms[id])
	}
	return out
}

// Tick advances every room. A room whose tick panics is skipped for this tick.
func (m *RoomManager) Tick() []TickReport {
	rooms := m.snapshotRooms()
	reports := make([]TickReport, 0, len(rooms))
	for _, room := range rooms {
		if rep, ok := tickRoom(room); ok {
			reports = append(reports, rep)
		}
	}
	return reports
}

func tickRoom(room *Room) (rep TickReport, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("room %s: tick panic: %v", room.ID, r)
			ok = false
		}
	}()
	return room.Tick(), true
}

// GetAndRemoveDeadPlayers collects dead players from every room and unmaps their sessions
func (m *RoomManager) GetAndRemoveDeadPlayers() []DeadPlayerInfo {
	var destroyed []string
	defer func() {
		if m.OnRoomDestroyed == nil {
			return
		}
		for _, id := range destroyed {
			m.OnRoomDestroyed(id)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []DeadPlayerInfo
	for _, id := range append([]string(nil), m.order...) {
		room := m.rooms[id]
		dead := room.GetAndRemoveDeadPlayers()
		if len(dead) == 0 {
			continue
		}
		for _, d := range dead {
			if m.sessions[d.SessionID] == room {
				delete(m.sessions, d.SessionID)
			}
		}
		roster := room.SessionIDs()
		for _, d := range dead {
			out = append(out, DeadPlayerInfo{
				PlayerID:         d.PlayerID,
				SessionID:        d.SessionID,
				KilledByBulletID: d.KilledByBulletID,
				RoomID:           room.ID,
				RoomSessionIDs:   roster,
			})
		}
		if m.destroyIfEmptyLocked(room) {
			destroyed = append(destroyed, room.ID)
		}
	}
	return out
}

// GetAllRoomStates snapshots every non-empty room
func (m *RoomManager) GetAllRoomStates() []RoomState {
	rooms := m.snapshotRooms()
	out := make([]RoomState, 0, len(rooms))
	for _, room := range rooms {
		if room.PlayerCount() == 0 {
			continue
		}
		out = append(out, RoomState{
			RoomID:     room.ID,
			SessionIDs: room.SessionIDs(),
			Players:    room.AlivePlayerStates(),
			Bullets:    room.BulletStates(),
		})
	}
	return out
}

// ListRooms summarises every live room
func (m *RoomManager) ListRooms() []RoomInfo {
	rooms := m.snapshotRooms()
	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomInfo{
			ID:       room.ID,
			Players:  room.PlayerCount(),
			Bullets:  room.Bullets().Count(),
			Capacity: room.Capacity,
		})
	}
	return out
}

func (m *RoomManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *RoomManager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
