package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	ticketExpiry     = 10 * time.Minute
	adminUser        = "admin"
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
)

var ErrInvalidTicket = errors.New("invalid ticket")

// Tickets issues and validates short-lived signed join tickets
type Tickets struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTickets creates a ticket authority signing with secret
func NewTickets(secret string) *Tickets {
	return &Tickets{
		secret: []byte(secret),
		ttl:    ticketExpiry,
		now:    time.Now,
	}
}

// Issue returns a signed ticket carrying the (already sanitised) player name
func (t *Tickets) Issue(name string) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"jti":  uuid.NewString(),
		"name": name,
		"exp":  now.Add(t.ttl).Unix(),
		"iat":  now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate checks signature and expiry and returns the ticket's player name
func (t *Tickets) Validate(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidTicket
	}
	name, ok := claims["name"].(string)
	if !ok {
		return "", fmt.Errorf("%w: missing name claim", ErrInvalidTicket)
	}
	return name, nil
}

// AdminAuth guards the admin endpoints with HTTP basic auth against a bcrypt hash.
// A nil *AdminAuth means admin endpoints are disabled.
type AdminAuth struct {
	hash []byte

	// Rate limiting for login attempts (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
	now     func() time.Time
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAdminAuth returns a nil *AdminAuth, which serves 404 on every admin route,
// when hash is empty
func NewAdminAuth(hash string) (*AdminAuth, error) {
	if hash == "" {
		return nil, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("admin hash: %w", err)
	}
	return &AdminAuth{
		hash:    []byte(hash),
		rateMap: make(map[string]*rateEntry),
		now:     time.Now,
	}, nil
}

// Enabled reports whether admin endpoints accept logins
func (a *AdminAuth) Enabled() bool { return a != nil }

// Middleware rejects requests without valid admin credentials
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.NotFound(w, r)
			return
		}
		ip := extractIP(r)
		if a.limited(ip) {
			http.Error(w, "too many login attempts, try again later", http.StatusTooManyRequests)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != adminUser || bcrypt.CompareHashAndPassword(a.hash, []byte(pass)) != nil {
			a.recordFailure(ip)
			w.Header().Set("WWW-Authenticate", `Basic realm="evoshot admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) limited(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()
	entry, ok := a.rateMap[ip]
	if !ok || a.now().After(entry.ResetAt) {
		return false
	}
	return entry.Count >= maxLoginAttempts
}

func (a *AdminAuth) recordFailure(ip string) {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := a.now()
	for k, e := range a.rateMap {
		if now.After(e.ResetAt) {
			delete(a.rateMap, k)
		}
	}
	entry, ok := a.rateMap[ip]
	if !ok {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return
	}
	entry.Count++
}

// bearerOrQuery returns the ticket from ?ticket= or an Authorization: Bearer header
func bearerOrQuery(r *http.Request) string {
	if t := r.URL.Query().Get("ticket"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
