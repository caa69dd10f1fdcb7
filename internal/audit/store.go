// Package audit keeps a durable trail of security-relevant events: login
// attempts, logouts, issued challenges. The table is append-only.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

type Event struct {
	ID        string
	Kind      string
	User      string
	Detail    string
	CreatedAt time.Time
}

func New(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS security_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		user TEXT NOT NULL,
		detail TEXT,
		created_at_unix INTEGER NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("migrate security_events: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one event. Satisfies the security manager's audit sink;
// write failures are logged, never surfaced, so auditing cannot take the
// authentication path down.
func (s *Store) Record(ctx context.Context, kind, user, detail string) {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO security_events (id, kind, user, detail, created_at_unix) VALUES (?, ?, ?, ?, ?)`,
		"evt_"+uuid.NewString(),
		strings.TrimSpace(kind),
		strings.TrimSpace(user),
		strings.TrimSpace(detail),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		s.logger.Error("audit record failed", "kind", kind, "user", user, "error", err)
	}
}

// ListRecent returns the newest events first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, kind, user, detail, created_at_unix FROM security_events ORDER BY created_at_unix DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		event := Event{}
		var createdAtUnix int64
		var detail sql.NullString
		if err := rows.Scan(&event.ID, &event.Kind, &event.User, &detail, &createdAtUnix); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		event.Detail = detail.String
		event.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}
	return events, nil
}
