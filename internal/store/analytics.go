package store

import (
	"database/sql"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types for analytics tracking
const (
	EvtSessionStart  = "session_start"
	EvtSessionEnd    = "session_end"
	EvtPlayerJoin    = "player_join"
	EvtPlayerLeave   = "player_leave"
	EvtPlayerDead    = "player_dead"
	EvtRoomCreated   = "room_created"
	EvtRoomDestroyed = "room_destroyed"
)

const (
	eventBufSize  = 1024
	flushBatch    = 50
	flushInterval = 5 * time.Second
)

// AnalyticsEvent is one row of analytics_events
type AnalyticsEvent struct {
	Type      string
	SessionID sql.Null[string]
	RoomID    sql.Null[string]
	Data      sql.Null[string] // JSON metadata
	At        time.Time
}

func nullable(s string) sql.Null[string] {
	return sql.Null[string]{V: s, Valid: s != ""}
}

// Analytics records gameplay telemetry through a batching background writer.
// A nil *Analytics is valid and drops everything.
type Analytics struct {
	db      *DB
	events  chan AnalyticsEvent
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewAnalytics starts the background writer for db
func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:     db,
		events: make(chan AnalyticsEvent, eventBufSize),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Track queues an event without blocking. data, if not nil, is stored as JSON.
// Events are dropped when the queue is full or after Stop.
func (a *Analytics) Track(evtType, sessionID, roomID string, data interface{}) {
	if a == nil {
		return
	}
	evt := AnalyticsEvent{
		Type:      evtType,
		SessionID: nullable(sessionID),
		RoomID:    nullable(roomID),
		At:        time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Printf("analytics: marshal %s: %v", evtType, err)
		} else {
			evt.Data = nullable(string(raw))
		}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- evt:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the queue was full
func (a *Analytics) Dropped() int64 {
	if a == nil {
		return 0
	}
	return a.dropped.Load()
}

// Stop writes everything still queued and ends the writer. Safe to call twice.
func (a *Analytics) Stop() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.stop)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Analytics) run() {
	defer a.wg.Done()

	pending := make([]AnalyticsEvent, 0, flushBatch)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	write := func() {
		if len(pending) == 0 {
			return
		}
		if err := a.insert(pending); err != nil {
			log.Printf("analytics: write %d events: %v", len(pending), err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case evt := <-a.events:
			pending = append(pending, evt)
			if len(pending) >= flushBatch {
				write()
			}
		case <-ticker.C:
			write()
		case <-a.stop:
			// closed is set, so nothing sends anymore
			close(a.events)
			for evt := range a.events {
				pending = append(pending, evt)
				if len(pending) >= flushBatch {
					write()
				}
			}
			write()
			return
		}
	}
}

// insert stores events with one multi-row INSERT
func (a *Analytics) insert(events []AnalyticsEvent) error {
	if a.db == nil {
		return nil
	}
	var q strings.Builder
	q.WriteString(`INSERT INTO analytics_events (event_type, session_id, room_id, data, created_at) VALUES `)
	args := make([]interface{}, 0, len(events)*5)
	for i, evt := range events {
		if i > 0 {
			q.WriteByte(',')
		}
		q.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, evt.Type, evt.SessionID, evt.RoomID, evt.Data, evt.At.Format(time.RFC3339))
	}
	_, err := a.db.conn.Exec(q.String(), args...)
	return err
}

// DayCount holds a count for a specific day
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

func collect[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// EventCounts returns the number of events per type over the last days
func (a *Analytics) EventCounts(days int) (map[string]int, error) {
	if a == nil || a.db == nil {
		return map[string]int{}, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM analytics_events
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY event_type
	`, days)
	if err != nil {
		return nil, err
	}
	type pair struct {
		typ string
		n   int
	}
	pairs, err := collect(rows, func(r *sql.Rows) (pair, error) {
		var p pair
		err := r.Scan(&p.typ, &p.n)
		return p, err
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(pairs))
	for _, p := range pairs {
		counts[p.typ] = p.n
	}
	return counts, nil
}

// DailySessions returns distinct sessions started per day over the last days
func (a *Analytics) DailySessions(days int) ([]DayCount, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT date(created_at) AS day, COUNT(DISTINCT session_id)
		FROM analytics_events
		WHERE event_type = ? AND created_at >= date('now', '-' || ? || ' days')
		GROUP BY day ORDER BY day
	`, EvtSessionStart, days)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r *sql.Rows) (DayCount, error) {
		var dc DayCount
		err := r.Scan(&dc.Day, &dc.Count)
		return dc, err
	})
}
