package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists users and turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			external_id BIGINT NOT NULL UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			last_active_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			external_id BIGINT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
			content TEXT NOT NULL CHECK (content <> ''),
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_external_created ON messages (external_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit tx", err)
	}
	return nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, profile Profile, now time.Time) (User, error) {
	return pgQueries{db: s.pool}.UpsertUser(ctx, profile, now)
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn NewTurn) (Turn, error) {
	return pgQueries{db: s.pool}.AppendTurn(ctx, turn)
}

func (s *PostgresStore) RecentTurns(ctx context.Context, externalID int64, limit int) ([]Turn, error) {
	return pgQueries{db: s.pool}.RecentTurns(ctx, externalID, limit)
}

func (s *PostgresStore) DeleteUserTurns(ctx context.Context, externalID int64) (int64, error) {
	return pgQueries{db: s.pool}.DeleteUserTurns(ctx, externalID)
}

func (s *PostgresStore) DeleteTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return pgQueries{db: s.pool}.DeleteTurnsBefore(ctx, cutoff)
}

// pgDB is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgQueries struct {
	db pgDB
}

const pgUpsertUser = `INSERT INTO users (external_id, username, first_name, last_name, created_at, last_active_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (external_id) DO UPDATE SET
		username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
		first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), users.first_name),
		last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), users.last_name),
		last_active_at = EXCLUDED.last_active_at
	RETURNING id, external_id, username, first_name, last_name, created_at, last_active_at`

func (q pgQueries) UpsertUser(ctx context.Context, profile Profile, now time.Time) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, pgUpsertUser,
		profile.ExternalID,
		profile.Username,
		profile.FirstName,
		profile.LastName,
		now.UTC(),
	).Scan(&u.ID, &u.ExternalID, &u.Username, &u.FirstName, &u.LastName, &u.CreatedAt, &u.LastActiveAt)
	if err != nil {
		return User{}, unavailable("upsert user", err)
	}
	return u, nil
}

func (q pgQueries) AppendTurn(ctx context.Context, turn NewTurn) (Turn, error) {
	if err := turn.validate(); err != nil {
		return Turn{}, err
	}
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	// The insert selects the owner in the same statement, so a missing user
	// yields no row rather than an orphan.
	t := Turn{Role: turn.Role, Content: turn.Content}
	err := q.db.QueryRow(ctx,
		`INSERT INTO messages (user_id, external_id, role, content, created_at)
		 SELECT id, external_id, $2, $3, $4 FROM users WHERE external_id=$1
		 RETURNING id, user_id, external_id, created_at`,
		turn.ExternalID,
		string(turn.Role),
		turn.Content,
		createdAt.UTC(),
	).Scan(&t.ID, &t.UserID, &t.ExternalID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Turn{}, ErrUnknownUser
	}
	if err != nil {
		return Turn{}, unavailable("append turn", err)
	}
	return t, nil
}

func (q pgQueries) RecentTurns(ctx context.Context, externalID int64, limit int) ([]Turn, error) {
	if emptyTail(limit) {
		return []Turn{}, nil
	}

	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, external_id, role, content, created_at
		 FROM messages WHERE external_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
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
		if err := rows.Scan(&t.ID, &t.UserID, &t.ExternalID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, unavailable("scan turn row", err)
		}
		t.Role = Role(role)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate turn rows", err)
	}

	reverse(items)
	return items, nil
}

func (q pgQueries) DeleteUserTurns(ctx context.Context, externalID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM messages WHERE external_id=$1`, externalID)
	if err != nil {
		return 0, unavailable("delete user turns", err)
	}
	return tag.RowsAffected(), nil
}

func (q pgQueries) DeleteTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, unavailable("delete expired turns", err)
	}
	return tag.RowsAffected(), nil
}
