package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Arachneee/EvoShot/internal/config"
	"github.com/Arachneee/EvoShot/internal/game"
	"github.com/Arachneee/EvoShot/internal/protocol"
	"github.com/Arachneee/EvoShot/internal/server"
	"github.com/Arachneee/EvoShot/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		db        *store.DB
		analytics *store.Analytics
	)
	if cfg.DBPath != "" {
		db, err = store.OpenDB(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		analytics = store.NewAnalytics(db)
		log.Printf("Analytics enabled (%s)", cfg.DBPath)
	}

	codec, err := protocol.NewCodec(cfg.Codec)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}

	manager, err := game.NewRoomManager(game.NewDefaultGameEngine(), cfg.RoomCapacity)
	if err != nil {
		log.Fatalf("room manager: %v", err)
	}
	manager.MaxRooms = cfg.MaxRooms

	hub := server.NewHub(codec, cfg.MaxConnsPerIP, cfg.MaxConns)
	ctrl := server.NewGameController(manager, hub, codec, analytics)
	hub.SetHandler(ctrl)
	manager.OnRoomCreated = ctrl.OnRoomCreated
	manager.OnRoomDestroyed = ctrl.OnRoomDestroyed
	go hub.Run()

	loop := game.NewGameLoop(ctrl.OnTick, cfg.TickRate)
	loop.Start()

	admin, err := server.NewAdminAuth(cfg.AdminHash)
	if err != nil {
		log.Fatalf("admin: %v", err)
	}
	if !admin.Enabled() {
		log.Printf("Admin endpoints disabled (no -admin-hash)")
	}

	mux := server.SetupRoutes(server.Routes{
		Hub:           hub,
		Manager:       manager,
		Analytics:     analytics,
		Tickets:       server.NewTickets(cfg.TicketSecret),
		Admin:         admin,
		RequireTicket: cfg.RequireTicket,
		StaticDir:     cfg.StaticDir,
		PublicURL:     cfg.PublicURL,
	})

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s (tick rate %d, room capacity %d, codec %s)",
			cfg.Addr, cfg.TickRate, cfg.RoomCapacity, codec.Name())
		if cfg.StaticDir != "" {
			log.Printf("Serving client files from %s", cfg.StaticDir)
		}
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")

	ctrl.Shutdown()
	loop.Stop()
	<-loop.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	hub.Stop()

	analytics.Stop()
	if db != nil {
		db.Close()
	}
}
