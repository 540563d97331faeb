package server

import (
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/Arachneee/EvoShot/internal/game"
	"github.com/Arachneee/EvoShot/internal/protocol"
	"github.com/Arachneee/EvoShot/internal/store"
)

const (
	maxNameLen  = 16
	defaultName = "Player"
)

// GameController translates session traffic into RoomManager calls and
// turns each simulation tick into outbound frames
type GameController struct {
	manager   *game.RoomManager
	out       Broadcaster
	codec     protocol.Codec
	analytics *store.Analytics
}

// NewGameController wires the manager to an outbound Broadcaster. analytics may be nil.
func NewGameController(manager *game.RoomManager, out Broadcaster, codec protocol.Codec, analytics *store.Analytics) *GameController {
	return &GameController{
		manager:   manager,
		out:       out,
		codec:     codec,
		analytics: analytics,
	}
}

func (gc *GameController) OnConnect(sessionID string) {
	gc.analytics.Track(store.EvtSessionStart, sessionID, "", nil)
}

// HandleMessage dispatches one inbound message; it runs on the session's read goroutine
func (gc *GameController) HandleMessage(sessionID string, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Connect:
		gc.handleConnect(sessionID, m)
	case protocol.PlayerInput:
		gc.manager.HandleInput(sessionID, m.ToInput())
	case protocol.Ping:
		gc.sendTo(sessionID, protocol.Pong{Timestamp: m.Timestamp})
	default:
		log.Printf("session %s: unexpected %s message", sessionID, msg.Type())
	}
}

func (gc *GameController) handleConnect(sessionID string, m protocol.Connect) {
	name := sanitizeName(m.PlayerName)
	player, room, err := gc.manager.Join(sessionID, name)
	switch {
	case errors.Is(err, game.ErrAlreadyJoined):
		gc.sendTo(sessionID, protocol.Error{Code: protocol.CodeAlreadyJoined, Message: err.Error()})
		return
	case errors.Is(err, game.ErrRoomFull):
		gc.sendTo(sessionID, protocol.Error{Code: protocol.CodeRoomFull, Message: "room is full"})
		return
	case err != nil:
		log.Printf("session %s: join error: %v", sessionID, err)
		return
	}

	gc.sendTo(sessionID, protocol.Connected{
		PlayerID: player.ID,
		Players:  room.AlivePlayerStates(),
	})
	gc.sendToRoom(room.SessionIDs(), sessionID, protocol.PlayerJoin{Player: player.ToState()})
	gc.analytics.Track(store.EvtPlayerJoin, sessionID, room.ID, map[string]string{
		"playerId": player.ID,
		"name":     player.Name,
	})
}

// OnDisconnect removes the session's player, if it still has one, and tells its room
func (gc *GameController) OnDisconnect(sessionID string) {
	gc.analytics.Track(store.EvtSessionEnd, sessionID, "", nil)
	dep, ok := gc.manager.Leave(sessionID)
	if !ok {
		return
	}
	gc.sendToRoom(dep.RoomSessionIDs, "", protocol.PlayerLeave{PlayerID: dep.PlayerID})
	gc.analytics.Track(store.EvtPlayerLeave, sessionID, dep.RoomID, map[string]string{"playerId": dep.PlayerID})
}

// OnTick is the game loop handler: simulate, deliver deaths, then broadcast state
func (gc *GameController) OnTick(tick int64) {
	gc.manager.Tick()

	for _, d := range gc.manager.GetAndRemoveDeadPlayers() {
		gc.sendTo(d.SessionID, protocol.PlayerDead{
			PlayerID:         d.PlayerID,
			KilledByBulletID: d.KilledByBulletID,
		})
		gc.out.Close(d.SessionID)
		gc.sendToRoom(d.RoomSessionIDs, "", protocol.PlayerLeave{PlayerID: d.PlayerID})
		gc.analytics.Track(store.EvtPlayerDead, d.SessionID, d.RoomID, map[string]string{
			"playerId": d.PlayerID,
			"bulletId": d.KilledByBulletID,
		})
	}

	for _, st := range gc.manager.GetAllRoomStates() {
		// one encode per room, shared by every recipient
		data, err := gc.codec.Encode(protocol.GameState{
			Tick:    tick,
			Players: st.Players,
			Bullets: st.Bullets,
		})
		if err != nil {
			log.Printf("room %s: encode state: %v", st.RoomID, err)
			continue
		}
		for _, sid := range st.SessionIDs {
			gc.out.Send(sid, data)
		}
	}
}

// Shutdown tells every connected session that the server is going away
func (gc *GameController) Shutdown() {
	data, err := gc.codec.Encode(protocol.Error{Code: protocol.CodeShuttingDown, Message: "server shutting down"})
	if err != nil {
		log.Printf("encode shutdown notice: %v", err)
		return
	}
	gc.out.Broadcast(data)
}

// OnRoomCreated and OnRoomDestroyed are installed as RoomManager hooks
func (gc *GameController) OnRoomCreated(roomID string) {
	gc.analytics.Track(store.EvtRoomCreated, "", roomID, nil)
}

func (gc *GameController) OnRoomDestroyed(roomID string) {
	gc.analytics.Track(store.EvtRoomDestroyed, "", roomID, nil)
}

func (gc *GameController) sendTo(sessionID string, msg protocol.Message) {
	data, err := gc.codec.Encode(msg)
	if err != nil {
		log.Printf("encode %s error: %v", msg.Type(), err)
		return
	}
	gc.out.Send(sessionID, data)
}

func (gc *GameController) sendToRoom(sessionIDs []string, exclude string, msg protocol.Message) {
	if len(sessionIDs) == 0 {
		return
	}
	data, err := gc.codec.Encode(msg)
	if err != nil {
		log.Printf("encode %s error: %v", msg.Type(), err)
		return
	}
	for _, sid := range sessionIDs {
		if sid == exclude {
			continue
		}
		gc.out.Send(sid, data)
	}
}

// sanitizeName trims whitespace, caps the length and falls back to a default
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}
	return name
}
