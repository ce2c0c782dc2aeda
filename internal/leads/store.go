// Package leads keeps a durable ledger of the contact details and
// unanswered questions captured during conversations.
package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Lead kinds.
const (
	KindEmail    = "email"
	KindQuestion = "question"
)

// ErrInvalidKind is returned for a kind other than KindEmail or
// KindQuestion.
var ErrInvalidKind = errors.New("invalid lead kind")

// Lead is one captured detail.
type Lead struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages lead persistence in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore opens (creating if needed) the lead ledger at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "leads"), now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_leads_kind ON leads(kind);
		CREATE INDEX IF NOT EXISTS idx_leads_created ON leads(created_at);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores a new lead.
func (s *Store) Add(ctx context.Context, kind, value string) (*Lead, error) {
	if kind != KindEmail && kind != KindQuestion {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	lead := &Lead{
		ID:        id,
		Kind:      kind,
		Value:     value,
		CreatedAt: s.now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, kind, value, created_at) VALUES (?, ?, ?, ?)`,
		lead.ID.String(), lead.Kind, lead.Value, lead.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert lead: %w", err)
	}

	s.logger.Debug("lead recorded", "id", lead.ID, "kind", kind)
	return lead, nil
}

// Record satisfies the tool layer's recorder interface.
func (s *Store) Record(ctx context.Context, kind, value string) error {
	_, err := s.Add(ctx, kind, value)
	return err
}

// List returns leads newest first. An empty kind matches every kind; a
// limit of zero or less means no limit.
func (s *Store) List(ctx context.Context, kind string, limit int) ([]Lead, error) {
	query := `SELECT id, kind, value, created_at FROM leads`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	// UUIDv7 ids sort by creation time, breaking created_at ties.
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		var l Lead
		var id, created string
		if err := rows.Scan(&id, &l.Kind, &l.Value, &created); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse lead id %q: %w", id, err)
		}
		if l.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse lead time %q: %w", created, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Count returns the number of leads of kind, or of every kind when kind
// is empty.
func (s *Store) Count(ctx context.Context, kind string) (int, error) {
	query := `SELECT COUNT(*) FROM leads`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return n, nil
}
