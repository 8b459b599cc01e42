// Package transcript records every generation a bot plays into a game, so a
// session can be audited after the fact: which prompts were seen, what the
// model produced, and whether a fallback was used.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/boxbot/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/boxbot/internal/transcript/migrations"
	_ "modernc.org/sqlite"
)

// Event is one generation produced during play.
type Event struct {
	ID           int64
	Game         string
	RoomCode     string
	PlayerName   string
	Kind         string
	Prompt       string
	Response     string
	FinishReason string
	CreatedAt    time.Time
}

// Store provides SQLite-backed persistence for play transcripts.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a transcript store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append persists one event. Events with a zero CreatedAt are stamped with
// the current time.
func (s *Store) Append(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.Game) == "" {
		return fmt.Errorf("game is required")
	}
	if strings.TrimSpace(event.RoomCode) == "" {
		return fmt.Errorf("room code is required")
	}
	if strings.TrimSpace(event.Kind) == "" {
		return fmt.Errorf("kind is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO transcript_events (
	game, room_code, player_name, kind, prompt, response, finish_reason, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		strings.TrimSpace(event.Game),
		strings.TrimSpace(event.RoomCode),
		event.PlayerName,
		strings.TrimSpace(event.Kind),
		event.Prompt,
		event.Response,
		event.FinishReason,
		event.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append transcript event: %w", err)
	}
	return nil
}

// ListByRoom returns events recorded for one room in insertion order.
func (s *Store) ListByRoom(ctx context.Context, roomCode string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	roomCode = strings.TrimSpace(roomCode)
	if roomCode == "" {
		return nil, fmt.Errorf("room code is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, game, room_code, player_name, kind, prompt, response, finish_reason, created_at
FROM transcript_events
WHERE room_code = ?
ORDER BY id
`, roomCode)
	if err != nil {
		return nil, fmt.Errorf("list transcript events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event     Event
			createdAt int64
		)
		if err := rows.Scan(
			&event.ID,
			&event.Game,
			&event.RoomCode,
			&event.PlayerName,
			&event.Kind,
			&event.Prompt,
			&event.Response,
			&event.FinishReason,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan transcript event row: %w", err)
		}
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript event rows: %w", err)
	}
	return events, nil
}
