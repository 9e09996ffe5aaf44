package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists users and turns in a local SQLite file. Timestamps
// are stored as unix nanoseconds so ordering and cutoffs compare exactly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path, ensuring the
// parent directory exists.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && !strings.HasPrefix(path, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory %s: %w", dir, err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite at %s: %w", path, err)
	}
	if err := initSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id INTEGER NOT NULL UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_active_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			external_id INTEGER NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
			content TEXT NOT NULL CHECK (content <> ''),
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_external_created ON messages (external_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Mode() string { return "sqlite" }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(sqliteQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit tx", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, profile Profile, now time.Time) (User, error) {
	return sqliteQueries{db: s.db}.UpsertUser(ctx, profile, now)
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, turn NewTurn) (Turn, error) {
	return sqliteQueries{db: s.db}.AppendTurn(ctx, turn)
}

func (s *SQLiteStore) RecentTurns(ctx context.Context, externalID int64, limit int) ([]Turn, error) {
	return sqliteQueries{db: s.db}.RecentTurns(ctx, externalID, limit)
}

func (s *SQLiteStore) DeleteUserTurns(ctx context.Context, externalID int64) (int64, error) {
	return sqliteQueries{db: s.db}.DeleteUserTurns(ctx, externalID)
}

func (s *SQLiteStore) DeleteTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return sqliteQueries{db: s.db}.DeleteTurnsBefore(ctx, cutoff)
}

// sqlDB is satisfied by both *sql.DB and *sql.Tx.
type sqlDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteQueries struct {
	db sqlDB
}

const sqliteUpsertUser = `INSERT INTO users (external_id, username, first_name, last_name, created_at, last_active_at)
	VALUES (?1, ?2, ?3, ?4, ?5, ?5)
	ON CONFLICT (external_id) DO UPDATE SET
		username = COALESCE(NULLIF(excluded.username, ''), users.username),
		first_name = COALESCE(NULLIF(excluded.first_name, ''), users.first_name),
		last_name = COALESCE(NULLIF(excluded.last_name, ''), users.last_name),
		last_active_at = excluded.last_active_at
	RETURNING id, external_id, username, first_name, last_name, created_at, last_active_at`

func (q sqliteQueries) UpsertUser(ctx context.Context, profile Profile, now time.Time) (User, error) {
	var u User
	var created, active int64
	err := q.db.QueryRowContext(ctx, sqliteUpsertUser,
		profile.ExternalID,
		profile.Username,
		profile.FirstName,
		profile.LastName,
		now.UnixNano(),
	).Scan(&u.ID, &u.ExternalID, &u.Username, &u.FirstName, &u.LastName, &created, &active)
	if err != nil {
		return User{}, unavailable("upsert user", err)
	}
	u.CreatedAt = fromNanos(created)
	u.LastActiveAt = fromNanos(active)
	return u, nil
}

func (q sqliteQueries) AppendTurn(ctx context.Context, turn NewTurn) (Turn, error) {
	if err := turn.validate(); err != nil {
		return Turn{}, err
	}
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	t := Turn{Role: turn.Role, Content: turn.Content, CreatedAt: fromNanos(createdAt.UnixNano())}
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO messages (user_id, external_id, role, content, created_at)
		 SELECT id, external_id, ?2, ?3, ?4 FROM users WHERE external_id = ?1
		 RETURNING id, user_id, external_id`,
		turn.ExternalID,
		string(turn.Role),
		turn.Content,
		createdAt.UnixNano(),
	).Scan(&t.ID, &t.UserID, &t.ExternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return Turn{}, ErrUnknownUser
	}
	if err != nil {
		return Turn{}, unavailable("append turn", err)
	}
	return t, nil
}

func (q sqliteQueries) RecentTurns(ctx context.Context, externalID int64, limit int) ([]Turn, error) {
	if emptyTail(limit) {
		return []Turn{}, nil
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, user_id, external_id, role, content, created_at
		 FROM messages WHERE external_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		externalID,
		limit,
	)
	if err != nil {
		return nil, unavailable("query recent turns", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		var role string
		var created int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.ExternalID, &role, &t.Content, &created); err != nil {
			return nil, unavailable("scan turn row", err)
		}
		t.Role = Role(role)
		t.CreatedAt = fromNanos(created)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate turn rows", err)
	}

	reverse(items)
	return items, nil
}

func (q sqliteQueries) DeleteUserTurns(ctx context.Context, externalID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE external_id = ?`, externalID)
	if err != nil {
		return 0, unavailable("delete user turns", err)
	}
	return rowsAffected(res)
}

func (q sqliteQueries) DeleteTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, unavailable("delete expired turns", err)
	}
	return rowsAffected(res)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("rows affected", err)
	}
	return n, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
