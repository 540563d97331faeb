package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Arachneee/EvoShot/internal/game"
)

// EnvPrefix is prepended to the upper-cased flag name, e.g. EVOSHOT_TICK_RATE
const EnvPrefix = "EVOSHOT_"

const (
	MinTickRate = 1
	MaxTickRate = 1000
)

var ErrInvalid = errors.New("invalid config")

// Config holds every runtime setting of the server
type Config struct {
	Addr          string
	StaticDir     string
	TickRate      int
	RoomCapacity  int
	SingleRoom    bool
	Codec         string
	DBPath        string
	TicketSecret  string
	RequireTicket bool
	AdminHash     string
	PublicURL     string
	MaxConnsPerIP int
	MaxConns      int
	MaxRooms      int
}

// Load parses args (without the program name). Flags left unset on the command line
// fall back to their EVOSHOT_* environment variable, then to the built-in default.
func Load(args []string) (Config, error) {
	var c Config
	fs := flag.NewFlagSet("evoshot", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", ":8080", "HTTP listen address")
	fs.StringVar(&c.StaticDir, "static", "", "Directory of client files to serve at / (disabled when empty)")
	fs.IntVar(&c.TickRate, "tick-rate", game.DefaultTickRate, "Simulation ticks per second")
	fs.IntVar(&c.RoomCapacity, "room-capacity", game.DefaultRoomCapacity, "Players per room")
	fs.BoolVar(&c.SingleRoom, "single-room", false, "Put every player into one room of maximum capacity")
	fs.StringVar(&c.Codec, "codec", "json", "Wire codec: json or msgpack")
	fs.StringVar(&c.DBPath, "db", "", "SQLite analytics database path (disabled when empty)")
	fs.StringVar(&c.TicketSecret, "ticket-secret", "", "HMAC secret for join tickets (random when empty)")
	fs.BoolVar(&c.RequireTicket, "require-ticket", false, "Reject websocket connections without a valid ticket")
	fs.StringVar(&c.AdminHash, "admin-hash", "", "bcrypt hash of the admin password (admin endpoints disabled when empty)")
	fs.StringVar(&c.PublicURL, "public-url", "", "Public URL encoded by /qr.png")
	fs.IntVar(&c.MaxConnsPerIP, "max-conns-per-ip", 5, "Concurrent connections allowed per IP")
	fs.IntVar(&c.MaxConns, "max-conns", 1000, "Concurrent connections allowed in total")
	fs.IntVar(&c.MaxRooms, "max-rooms", 0, "Upper bound on live rooms (0 = unlimited)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := applyEnv(fs); err != nil {
		return Config{}, err
	}

	if c.SingleRoom {
		c.RoomCapacity = game.MaxRoomCapacity
		c.MaxRooms = 1
	}
	if c.TicketSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		c.TicketSecret = secret
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyEnv(fs *flag.FlagSet) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || set[f.Name] {
			return
		}
		v, ok := os.LookupEnv(EnvName(f.Name))
		if !ok {
			return
		}
		if e := fs.Set(f.Name, v); e != nil {
			err = fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvName(f.Name), v, e)
		}
	})
	return err
}

// EnvName maps a flag name to its environment variable
func EnvName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// Validate checks ranges and enumerations
func (c Config) Validate() error {
	if c.TickRate < MinTickRate || c.TickRate > MaxTickRate {
		return fmt.Errorf("%w: tick rate %d (want %d..%d)", ErrInvalid, c.TickRate, MinTickRate, MaxTickRate)
	}
	if c.RoomCapacity < 1 || c.RoomCapacity > game.MaxRoomCapacity {
		return fmt.Errorf("%w: room capacity %d (want 1..%d)", ErrInvalid, c.RoomCapacity, game.MaxRoomCapacity)
	}
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("%w: codec %q", ErrInvalid, c.Codec)
	}
	if c.MaxRooms < 0 {
		return fmt.Errorf("%w: max rooms %d", ErrInvalid, c.MaxRooms)
	}
	if c.MaxConnsPerIP < 1 || c.MaxConns < 1 {
		return fmt.Errorf("%w: connection limits must be positive", ErrInvalid)
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate ticket secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
