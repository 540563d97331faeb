package protocol

import "github.com/Arachneee/EvoShot/internal/game"

// Client -> Server message types
const (
	MsgConnect     = "connect"
	MsgPlayerInput = "player_input"
	MsgPing        = "ping"
)

// Server -> Client message types
const (
	MsgConnected   = "connected"
	MsgPlayerJoin  = "player_join"
	MsgPlayerLeave = "player_leave"
	MsgGameState   = "game_state"
	MsgPlayerDead  = "player_dead"
	MsgError       = "error"
	MsgPong        = "pong"
)

// Error codes carried by Error messages
const (
	CodeRoomFull      = "ROOM_FULL"
	CodeAlreadyJoined = "ALREADY_JOINED"
	CodeBadMessage    = "BAD_MESSAGE"
	CodeShuttingDown  = "SHUTTING_DOWN"
)

// Message is any payload that can travel inside an envelope
type Message interface {
	Type() string
}

// Connect asks to join a room
type Connect struct {
	PlayerName string `json:"playerName"`
}

// Connected confirms the join with the room roster
type Connected struct {
	PlayerID string             `json:"playerId"`
	Players  []game.PlayerState `json:"players"`
}

type PlayerJoin struct {
	Player game.PlayerState `json:"player"`
}

type PlayerLeave struct {
	PlayerID string `json:"playerId"`
}

// PlayerInput is the latest control state; mouse coordinates are in world space
type PlayerInput struct {
	DX     int     `json:"dx"`
	Jump   bool    `json:"jump"`
	MouseX float64 `json:"mouseX"`
	MouseY float64 `json:"mouseY"`
	Shoot  bool    `json:"shoot"`
}

// GameState is broadcast to every session of a room once per tick
type GameState struct {
	Tick    int64              `json:"tick"`
	Players []game.PlayerState `json:"players"`
	Bullets []game.BulletState `json:"bullets"`
}

// PlayerDead is sent to the killed player right before its connection is closed
type PlayerDead struct {
	PlayerID         string `json:"playerId"`
	KilledByBulletID string `json:"killedByBulletId,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

func (Connect) Type() string     { return MsgConnect }
func (Connected) Type() string   { return MsgConnected }
func (PlayerJoin) Type() string  { return MsgPlayerJoin }
func (PlayerLeave) Type() string { return MsgPlayerLeave }
func (PlayerInput) Type() string { return MsgPlayerInput }
func (GameState) Type() string   { return MsgGameState }
func (PlayerDead) Type() string  { return MsgPlayerDead }
func (Error) Type() string       { return MsgError }
func (Ping) Type() string        { return MsgPing }
func (Pong) Type() string        { return MsgPong }

// ToInput converts wire input into the simulation's input record
func (in PlayerInput) ToInput() game.Input {
	return game.Input{
		DX:    in.DX,
		Jump:  in.Jump,
		AimX:  in.MouseX,
		AimY:  in.MouseY,
		Shoot: in.Shoot,
	}
}

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// Wrap puts msg into its envelope
func Wrap(msg Message) Envelope {
	return Envelope{T: msg.Type(), Data: msg}
}
