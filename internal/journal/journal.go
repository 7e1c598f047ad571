// Package journal persists room lifecycle events to a local SQLite
// database for operator auditing. Only lifecycle is journaled: chat
// payloads are never written, and the journal never backs the session
// registry, which stays purely in memory.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/chatrelay-project/chatrelay/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred_at TEXT NOT NULL,
	event       TEXT NOT NULL,
	room        TEXT NOT NULL,
	username    TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_room ON lifecycle_events(room);
`

// Journal wraps a SQLite database holding the lifecycle event log.
type Journal struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the journal database at the given path.
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", dbPath, err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("lifecycle journal opened")

	return &Journal{
		db:   db,
		path: dbPath,
	}, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Attach subscribes the journal to the lifecycle events on the bus.
func (j *Journal) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventRoomCreated, "journal.roomCreated", j.onEvent)
	bus.Subscribe(events.EventParticipantJoined, "journal.participantJoined", j.onEvent)
	bus.Subscribe(events.EventParticipantEvicted, "journal.participantEvicted", j.onEvent)
	bus.Subscribe(events.EventRoomClosed, "journal.roomClosed", j.onEvent)
}

// onEvent records one lifecycle event row.
func (j *Journal) onEvent(ctx context.Context, event events.Event) error {
	var room, username, detail string

	switch p := event.Payload.(type) {
	case events.RoomCreatedPayload:
		room, username = p.RoomName, p.Username
	case events.ParticipantJoinedPayload:
		room, username = p.RoomName, p.Username
	case events.ParticipantEvictedPayload:
		room, username, detail = p.RoomName, p.Username, p.Reason
	case events.RoomClosedPayload:
		room, detail = p.RoomName, fmt.Sprintf("%s dropped=%d", p.Reason, p.Dropped)
	default:
		return nil
	}

	return j.record(string(event.Type), room, username, detail)
}

// record inserts one row into the event log.
func (j *Journal) record(event, room, username, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		"INSERT INTO lifecycle_events (occurred_at, event, room, username, detail) VALUES (?, ?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339), event, room, username, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record lifecycle event: %w", err)
	}
	return nil
}

// Entry is one row of the lifecycle event log.
type Entry struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Event      string    `json:"event"`
	Room       string    `json:"room"`
	Username   string    `json:"username,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Recent returns the newest limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.Query(
		"SELECT id, occurred_at, event, room, username, detail FROM lifecycle_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query lifecycle events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var occurredAt string
		if err := rows.Scan(&e.ID, &occurredAt, &e.Event, &e.Room, &e.Username, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle event: %w", err)
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
