package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Arachneee/EvoShot/internal/game"
	"github.com/Arachneee/EvoShot/internal/protocol"
	"github.com/Arachneee/EvoShot/internal/store"
)

// ---------- helpers ----------

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

type testOptions struct {
	capacity      int
	maxRooms      int
	maxPerIP      int
	codec         string
	requireTicket bool
	adminHash     string
	analytics     *store.Analytics
}

type testEnv struct {
	srv     *httptest.Server
	wsURL   string
	hub     *Hub
	manager *game.RoomManager
	ctrl    *GameController
	codec   protocol.Codec
	tickets *Tickets
}

// startTestServer wires a full server stack behind an httptest.Server.
// Ticks are driven by calling env.ctrl.OnTick directly.
func startTestServer(t *testing.T, opts testOptions) *testEnv {
	t.Helper()

	if opts.capacity == 0 {
		opts.capacity = 10
	}
	codec, err := protocol.NewCodec(opts.codec)
	if err != nil {
		t.Fatal(err)
	}
	manager, err := game.NewRoomManager(game.NewDefaultGameEngine(), opts.capacity)
	if err != nil {
		t.Fatal(err)
	}
	manager.MaxRooms = opts.maxRooms

	hub := NewHub(codec, opts.maxPerIP, 0)
	ctrl := NewGameController(manager, hub, codec, opts.analytics)
	hub.SetHandler(ctrl)
	go hub.Run()

	admin, err := NewAdminAuth(opts.adminHash)
	if err != nil {
		t.Fatal(err)
	}
	tickets := NewTickets("test-secret")

	mux := SetupRoutes(Routes{
		Hub:           hub,
		Manager:       manager,
		Analytics:     opts.analytics,
		Tickets:       tickets,
		Admin:         admin,
		RequireTicket: opts.requireTicket,
		PublicURL:     "http://evoshot.test/",
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})

	return &testEnv{
		srv:     srv,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		hub:     hub,
		manager: manager,
		ctrl:    ctrl,
		codec:   codec,
		tickets: tickets,
	}
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMsg reads and decodes one frame.
func (e *testEnv) readMsg(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	if e.codec.Binary() != (frameType == websocket.BinaryMessage) {
		t.Fatalf("frame type %d does not match codec %s", frameType, e.codec.Name())
	}
	msg, err := e.codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

// sendMsg encodes msg with the server's codec and writes it.
func (e *testEnv) sendMsg(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	raw, err := e.codec.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frameType := websocket.TextMessage
	if e.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	if err := conn.WriteMessage(frameType, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// join dials, sends connect and returns the connection and its connected reply.
func (e *testEnv) join(t *testing.T, name string) (*websocket.Conn, protocol.Connected) {
	t.Helper()
	conn := dialWS(t, e.wsURL)
	e.sendMsg(t, conn, protocol.Connect{PlayerName: name})
	msg := e.readMsg(t, conn)
	connected, ok := msg.(protocol.Connected)
	if !ok {
		t.Fatalf("expected connected, got %#v", msg)
	}
	return conn, connected
}

// sessionOf finds the session and room of a player id
func sessionOf(t *testing.T, m *game.RoomManager, playerID string) (string, *game.Room) {
	t.Helper()
	for _, st := range m.GetAllRoomStates() {
		for _, sid := range st.SessionIDs {
			room, ok := m.RoomOf(sid)
			if !ok {
				continue
			}
			if id, ok := room.PlayerIDBySession(sid); ok && id == playerID {
				return sid, room
			}
		}
	}
	t.Fatalf("player %s not found", playerID)
	return "", nil
}

// ---------- tests ----------

func TestConnectFlow(t *testing.T) {
	env := startTestServer(t, testOptions{})

	_, a := env.join(t, "Alice")
	if !uuidRegex.MatchString(a.PlayerID) {
		t.Errorf("player id %q is not a uuid", a.PlayerID)
	}
	if len(a.Players) != 1 || a.Players[0].Name != "Alice" || a.Players[0].HP != game.PlayerMaxHP {
		t.Errorf("unexpected roster %+v", a.Players)
	}
}

func TestSecondPlayerAnnouncedAndStateBroadcast(t *testing.T) {
	env := startTestServer(t, testOptions{})

	connA, a := env.join(t, "Alice")
	_, b := env.join(t, "Bob")
	if len(b.Players) != 2 {
		t.Fatalf("Bob should see 2 players, got %d", len(b.Players))
	}

	msg := env.readMsg(t, connA)
	join, ok := msg.(protocol.PlayerJoin)
	if !ok || join.Player.ID != b.PlayerID || join.Player.Name != "Bob" {
		t.Fatalf("expected player_join for Bob, got %#v", msg)
	}

	env.ctrl.OnTick(1)
	msg = env.readMsg(t, connA)
	st, ok := msg.(protocol.GameState)
	if !ok {
		t.Fatalf("expected game_state, got %#v", msg)
	}
	if st.Tick != 1 || len(st.Players) != 2 {
		t.Errorf("unexpected state tick=%d players=%d", st.Tick, len(st.Players))
	}
	ids := map[string]bool{}
	for _, p := range st.Players {
		ids[p.ID] = true
	}
	if !ids[a.PlayerID] || !ids[b.PlayerID] {
		t.Errorf("state is missing a player: %v", ids)
	}
}

func TestPingPong(t *testing.T) {
	env := startTestServer(t, testOptions{})
	conn := dialWS(t, env.wsURL)

	env.sendMsg(t, conn, protocol.Ping{Timestamp: 1700000000123})
	msg := env.readMsg(t, conn)
	if p, ok := msg.(protocol.Pong); !ok || p.Timestamp != 1700000000123 {
		t.Fatalf("expected pong echo, got %#v", msg)
	}
}

func TestBadMessageKeepsConnection(t *testing.T) {
	env := startTestServer(t, testOptions{})
	conn := dialWS(t, env.wsURL)

	for _, raw := range []string{`not json`, `{"t":"fly","d":{}}`, `{"d":{}}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		msg := env.readMsg(t, conn)
		if e, ok := msg.(protocol.Error); !ok || e.Code != protocol.CodeBadMessage {
			t.Fatalf("%s: expected BAD_MESSAGE, got %#v", raw, msg)
		}
	}

	// still usable
	env.sendMsg(t, conn, protocol.Connect{PlayerName: "after"})
	if _, ok := env.readMsg(t, conn).(protocol.Connected); !ok {
		t.Fatal("connection should still accept connect")
	}
}

func TestDisconnectAnnouncesLeave(t *testing.T) {
	env := startTestServer(t, testOptions{})

	connA, _ := env.join(t, "Alice")
	connB, b := env.join(t, "Bob")
	env.readMsg(t, connA) // player_join

	connB.Close()

	msg := env.readMsg(t, connA)
	leave, ok := msg.(protocol.PlayerLeave)
	if !ok || leave.PlayerID != b.PlayerID {
		t.Fatalf("expected player_leave for Bob, got %#v", msg)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.manager.SessionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := env.manager.SessionCount(); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
}

func TestDeathClosesConnection(t *testing.T) {
	env := startTestServer(t, testOptions{})

	connV, victim := env.join(t, "victim")
	connK, killer := env.join(t, "killer")
	env.readMsg(t, connV) // player_join

	sid, room := sessionOf(t, env.manager, victim.PlayerID)
	room.Players().UpdateBySession(sid, func(p *game.Player) {
		p.X, p.Y, p.HP, p.VelocityY = 100, 100, 1, 0
	})
	room.Bullets().Add(game.Bullet{ID: "b1", OwnerID: killer.PlayerID, X: 100, Y: 100})

	env.ctrl.OnTick(1)

	msg := env.readMsg(t, connV)
	dead, ok := msg.(protocol.PlayerDead)
	if !ok || dead.PlayerID != victim.PlayerID || dead.KilledByBulletID != "b1" {
		t.Fatalf("expected player_dead, got %#v", msg)
	}
	connV.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := connV.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after player_dead, got %v", err)
	}

	msg = env.readMsg(t, connK)
	if l, ok := msg.(protocol.PlayerLeave); !ok || l.PlayerID != victim.PlayerID {
		t.Fatalf("expected player_leave, got %#v", msg)
	}
	msg = env.readMsg(t, connK)
	st, ok := msg.(protocol.GameState)
	if !ok || len(st.Players) != 1 || st.Players[0].ID != killer.PlayerID {
		t.Fatalf("expected state with only the killer, got %#v", msg)
	}
}

func TestRoomFull(t *testing.T) {
	env := startTestServer(t, testOptions{capacity: 1, maxRooms: 1})

	env.join(t, "first")

	conn := dialWS(t, env.wsURL)
	env.sendMsg(t, conn, protocol.Connect{PlayerName: "second"})
	msg := env.readMsg(t, conn)
	if e, ok := msg.(protocol.Error); !ok || e.Code != protocol.CodeRoomFull {
		t.Fatalf("expected ROOM_FULL, got %#v", msg)
	}

	// the rejected connection stays open
	env.sendMsg(t, conn, protocol.Ping{Timestamp: 1})
	if _, ok := env.readMsg(t, conn).(protocol.Pong); !ok {
		t.Fatal("expected pong after ROOM_FULL")
	}
}

func TestAlreadyJoined(t *testing.T) {
	env := startTestServer(t, testOptions{})

	conn, _ := env.join(t, "twice")
	env.sendMsg(t, conn, protocol.Connect{PlayerName: "twice"})
	msg := env.readMsg(t, conn)
	if e, ok := msg.(protocol.Error); !ok || e.Code != protocol.CodeAlreadyJoined {
		t.Fatalf("expected ALREADY_JOINED, got %#v", msg)
	}
	if n := env.manager.SessionCount(); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
}

func TestMsgpackCodec(t *testing.T) {
	env := startTestServer(t, testOptions{codec: "msgpack"})

	connA, _ := env.join(t, "Alice")
	env.ctrl.OnTick(5)

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, raw, err := connA.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if frameType != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got %d", frameType)
	}
	var env2 struct {
		T string                 `msgpack:"t"`
		D map[string]interface{} `msgpack:"d"`
	}
	if err := msgpack.Unmarshal(raw, &env2); err != nil {
		t.Fatalf("msgpack unmarshal: %v", err)
	}
	if env2.T != protocol.MsgGameState {
		t.Fatalf("expected %s, got %s", protocol.MsgGameState, env2.T)
	}
	if _, ok := env2.D["players"]; !ok {
		t.Errorf("payload should use json field names, got keys %v", env2.D)
	}
}

func TestTicketNameUsed(t *testing.T) {
	env := startTestServer(t, testOptions{requireTicket: true})

	resp, err := http.Get(env.srv.URL + "/ticket?name=" + url.QueryEscape("  Carol  "))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Ticket    string `json:"ticket"`
		Name      string `json:"name"`
		ExpiresIn int    `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Name != "Carol" || body.Ticket == "" || body.ExpiresIn != 600 {
		t.Fatalf("unexpected ticket response %+v", body)
	}

	conn := dialWS(t, env.wsURL+"?ticket="+url.QueryEscape(body.Ticket))
	env.sendMsg(t, conn, protocol.Connect{})
	msg := env.readMsg(t, conn)
	c, ok := msg.(protocol.Connected)
	if !ok || len(c.Players) != 1 || c.Players[0].Name != "Carol" {
		t.Fatalf("expected ticket name, got %#v", msg)
	}
}

func TestTicketRequired(t *testing.T) {
	env := startTestServer(t, testOptions{requireTicket: true})

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake failure without a ticket")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL+"?ticket=garbage", nil)
	if err == nil {
		t.Fatal("expected handshake failure with a bad ticket")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestConnectionLimitPerIP(t *testing.T) {
	env := startTestServer(t, testOptions{maxPerIP: 1})

	dialWS(t, env.wsURL)
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL, nil)
	if err == nil {
		t.Fatal("second connection from the same ip should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", resp)
	}
}

func TestMessageRateLimit(t *testing.T) {
	env := startTestServer(t, testOptions{})
	conn := dialWS(t, env.wsURL)

	for i := 0; i < maxMessagesPerSec+10; i++ {
		env.sendMsg(t, conn, protocol.Ping{Timestamp: int64(i)})
	}

	pongs := 0
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
		pongs++
	}
	if pongs > maxMessagesPerSec {
		t.Errorf("expected at most %d pongs before disconnect, got %d", maxMessagesPerSec, pongs)
	}
}

func TestHealthAndQR(t *testing.T) {
	env := startTestServer(t, testOptions{})

	resp, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(env.srv.URL + "/qr.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	magic := make([]byte, 8)
	if _, err := resp.Body.Read(magic); err != nil {
		t.Fatal(err)
	}
	if string(magic) != "\x89PNG\r\n\x1a\n" {
		t.Errorf("not a png: %q", magic)
	}
}

func TestAdminEndpoints(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.OpenDB(filepath.Join(t.TempDir(), "admin.db"))
	if err != nil {
		t.Fatal(err)
	}
	analytics := store.NewAnalytics(db)
	t.Cleanup(func() {
		analytics.Stop()
		db.Close()
	})

	env := startTestServer(t, testOptions{adminHash: string(hash), analytics: analytics})
	env.join(t, "Alice")

	get := func(path, user, pass string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, env.srv.URL+path, nil)
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := get("/admin/rooms", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", resp.StatusCode)
	}
	resp = get("/admin/rooms", "admin", "wrong")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with a wrong password, got %d", resp.StatusCode)
	}

	resp = get("/admin/rooms", "admin", "hunter2")
	var rooms []game.RoomInfo
	json.NewDecoder(resp.Body).Decode(&rooms)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(rooms) != 1 {
		t.Fatalf("expected 200 with one room, got %d %+v", resp.StatusCode, rooms)
	}

	resp = get("/admin/stats", "admin", "hunter2")
	var stats map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if stats["rooms"] != float64(1) || stats["sessions"] != float64(1) {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	env := startTestServer(t, testOptions{})
	resp, err := http.Get(env.srv.URL + "/admin/rooms")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHubBroadcastExcept(t *testing.T) {
	env := startTestServer(t, testOptions{})

	connA, _ := env.join(t, "Alice")
	connB, b := env.join(t, "Bob")
	env.readMsg(t, connA) // player_join

	data, err := env.codec.Encode(protocol.Error{Code: "TEST", Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	sidB, _ := sessionOf(t, env.manager, b.PlayerID)
	env.hub.BroadcastExcept(data, sidB)
	env.hub.Broadcast(data)

	for i := 0; i < 2; i++ {
		msg := env.readMsg(t, connA)
		if e, ok := msg.(protocol.Error); !ok || e.Code != "TEST" {
			t.Fatalf("Alice frame %d: unexpected %#v", i, msg)
		}
	}
	msg := env.readMsg(t, connB)
	if e, ok := msg.(protocol.Error); !ok || e.Code != "TEST" {
		t.Fatalf("Bob: unexpected %#v", msg)
	}
	// Bob got exactly one copy, so the next frame is the tick
	env.ctrl.OnTick(1)
	if _, ok := env.readMsg(t, connB).(protocol.GameState); !ok {
		t.Fatal("Bob should have received only the broadcast copy")
	}
}
