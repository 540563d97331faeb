package server

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"

	"github.com/Arachneee/EvoShot/internal/game"
	"github.com/Arachneee/EvoShot/internal/store"
)

const (
	qrSize    = 256
	statsDays = 7
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Routes bundles what the HTTP handlers need
type Routes struct {
	Hub           *Hub
	Manager       *game.RoomManager
	Analytics     *store.Analytics // nil disables persisted stats
	Tickets       *Tickets
	Admin         *AdminAuth // nil disables /admin/*
	RequireTicket bool
	StaticDir     string // empty disables static serving
	PublicURL     string
}

// SetupRoutes configures HTTP routes
func SetupRoutes(rt Routes) *http.ServeMux {
	mux := http.NewServeMux()

	if rt.StaticDir != "" {
		// no-cache so browsers always revalidate the client bundle
		fs := http.FileServer(http.Dir(rt.StaticDir))
		mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			fs.ServeHTTP(w, r)
		}))
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)

		var ticketName string
		if tok := bearerOrQuery(r); tok != "" && rt.Tickets != nil {
			name, err := rt.Tickets.Validate(tok)
			if err != nil {
				http.Error(w, "invalid ticket", http.StatusUnauthorized)
				return
			}
			ticketName = name
		} else if rt.RequireTicket {
			http.Error(w, "ticket required", http.StatusUnauthorized)
			return
		}

		if !rt.Hub.TryAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			rt.Hub.TrackDisconnect(ip)
			log.Printf("upgrade error: %v", err)
			return
		}

		client := NewClient(rt.Hub, conn, uuid.NewString(), ip, ticketName)
		rt.Hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	})

	mux.HandleFunc("/ticket", func(w http.ResponseWriter, r *http.Request) {
		if rt.Tickets == nil {
			http.NotFound(w, r)
			return
		}
		name := sanitizeName(r.URL.Query().Get("name"))
		tok, err := rt.Tickets.Issue(name)
		if err != nil {
			log.Printf("ticket error: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"ticket":    tok,
			"name":      name,
			"expiresIn": int(ticketExpiry.Seconds()),
		})
	})

	// QR code of the join URL for phones
	mux.HandleFunc("/qr.png", func(w http.ResponseWriter, r *http.Request) {
		target := rt.PublicURL
		if target == "" {
			target = "http://" + r.Host + "/"
		}
		png, err := qrcode.Encode(target, qrcode.Medium, qrSize)
		if err != nil {
			log.Printf("qr error: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.Write(png)
	})

	mux.Handle("/admin/rooms", rt.Admin.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rt.Manager.ListRooms())
	})))

	mux.Handle("/admin/stats", rt.Admin.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events, err := rt.Analytics.EventCounts(statsDays)
		if err != nil {
			log.Printf("admin stats: event counts: %v", err)
		}
		daily, err := rt.Analytics.DailySessions(statsDays)
		if err != nil {
			log.Printf("admin stats: daily sessions: %v", err)
		}
		writeJSON(w, map[string]interface{}{
			"clients":  rt.Hub.ClientCount(),
			"rooms":    rt.Manager.RoomCount(),
			"sessions": rt.Manager.SessionCount(),
			"events":   events,
			"daily":    daily,
			"dropped":  rt.Analytics.Dropped(),
		})
	})))

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}
