package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("journal: not found")

// SQLiteStore implements Store on SQLite. Times are stored in UTC so that
// their text form sorts chronologically.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store for the database at cfg.Path. Call Init
// and Migrate before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with WAL journaling and foreign keys on.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate brings the schema up to date.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// OpenSession records the start of an engine session. Opening a session
// that already exists updates its settings and keeps its open time.
func (s *SQLiteStore) OpenSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, sample_rate, block_size, opened_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			sample_rate = excluded.sample_rate,
			block_size = excluded.block_size
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.SampleRate,
		session.BlockSize,
		session.OpenedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	return nil
}

// CloseSession sets the close time of a session.
func (s *SQLiteStore) CloseSession(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET closed_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, sample_rate, block_size, opened_at, closed_at
		FROM sessions
		WHERE id = ?
	`

	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.SampleRate,
		&session.BlockSize,
		&session.OpenedAt,
		&session.ClosedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// ListSessions lists sessions, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	query := `
		SELECT id, sample_rate, block_size, opened_at, closed_at
		FROM sessions
		ORDER BY opened_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		session := &Session{}
		if err := rows.Scan(
			&session.ID,
			&session.SampleRate,
			&session.BlockSize,
			&session.OpenedAt,
			&session.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// RecordBundle appends a bundle entry and sets entry.ID. A session that was
// never opened in the journal is created on the fly.
func (s *SQLiteStore) RecordBundle(ctx context.Context, entry *Entry) (err error) {
	addresses, err := json.Marshal(nonNil(entry.Addresses))
	if err != nil {
		return fmt.Errorf("failed to encode addresses: %w", err)
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, opened_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		entry.SessionID, entry.RecordedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	query := `
		INSERT INTO bundles (session_id, sequence, timetag, messages, bytes, addresses, status, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		entry.SessionID,
		entry.Sequence,
		// SQLite integers are signed; the bit pattern survives the cast.
		int64(entry.Timetag),
		entry.Messages,
		entry.Bytes,
		string(addresses),
		entry.Status,
		entry.Error,
		entry.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record bundle: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get bundle ID: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bundle: %w", err)
	}

	entry.ID = id
	return nil
}

// ListBundles lists bundle entries in session and sequence order.
func (s *SQLiteStore) ListBundles(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `
		SELECT id, session_id, sequence, timetag, messages, bytes, addresses, status, error, recorded_at
		FROM bundles
		WHERE (? IS NULL OR session_id = ?)
		  AND (? IS NULL OR status = ?)
		ORDER BY recorded_at, session_id, sequence
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.SessionID, filter.SessionID,
		filter.Status, filter.Status,
		limitOrAll(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var (
			entry     = &Entry{}
			timetag   int64
			addresses string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.Sequence,
			&timetag,
			&entry.Messages,
			&entry.Bytes,
			&addresses,
			&entry.Status,
			&entry.Error,
			&entry.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		entry.Timetag = uint64(timetag)
		if err := json.Unmarshal([]byte(addresses), &entry.Addresses); err != nil {
			return nil, fmt.Errorf("failed to decode addresses of bundle %d: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bundles: %w", err)
	}

	return entries, nil
}

// Prune deletes sessions opened before the given time together with their
// bundles and returns the number of bundles removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM bundles WHERE session_id IN (SELECT id FROM sessions WHERE opened_at < ?)`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune bundles: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE opened_at < ?`, before.UTC()); err != nil {
		return n, fmt.Errorf("failed to prune sessions: %w", err)
	}

	return n, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
