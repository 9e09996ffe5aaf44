package memory

import (
	"context"
	"strings"
)

// NewStore picks a backend from databaseURL: postgres:// or postgresql://
// for PostgreSQL, sqlite:// or file: for SQLite, and in-memory when empty.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "file:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(url, "file:"))
	default:
		return NewPostgresStore(ctx, url)
	}
}
