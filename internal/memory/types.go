package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

var (
	// ErrUnknownUser is returned when a turn is appended for an external id
	// that was never upserted.
	ErrUnknownUser = errors.New("unknown user")
	// ErrStorageUnavailable wraps every failure reported by a backend.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidRole        = errors.New("invalid role")
	ErrEmptyTurn          = errors.New("turn content is empty")
)

// Profile carries the display fields supplied by the chat platform. Empty
// fields never overwrite stored values.
type Profile struct {
	ExternalID int64  `json:"external_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
}

// User is the internal record for one chat-platform identity.
type User struct {
	ID           int64     `json:"id"`
	ExternalID   int64     `json:"external_id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Turn stores a single role-tagged message. Turns for a user are ordered by
// (CreatedAt, ID).
type Turn struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	ExternalID int64     `json:"external_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewTurn is the input to Queries.AppendTurn. A zero CreatedAt means now.
type NewTurn struct {
	ExternalID int64
	Role       Role
	Content    string
	CreatedAt  time.Time
}

func (t NewTurn) validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, t.Role)
	}
	if t.Content == "" {
		return ErrEmptyTurn
	}
	return nil
}

// Queries is the set of operations available inside one transactional unit.
type Queries interface {
	// UpsertUser creates the user on first sight or refreshes LastActiveAt
	// and any non-empty display fields. now stamps both timestamps.
	UpsertUser(ctx context.Context, profile Profile, now time.Time) (User, error)
	// AppendTurn fails with ErrUnknownUser when no user has the external id.
	AppendTurn(ctx context.Context, turn NewTurn) (Turn, error)
	// RecentTurns returns at most limit newest turns, oldest first. A
	// non-positive limit yields no turns.
	RecentTurns(ctx context.Context, externalID int64, limit int) ([]Turn, error)
	DeleteUserTurns(ctx context.Context, externalID int64) (int64, error)
	// DeleteTurnsBefore removes every turn with CreatedAt < cutoff.
	DeleteTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store persists users and their turns. Every operation on Store itself runs
// in its own transaction; InTx groups several into one unit that either
// fully commits or fully rolls back.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
	Mode() string
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// emptyTail reports whether a tail bound admits no turns at all. Every
// backend checks it before touching storage.
func emptyTail(limit int) bool {
	return limit <= 0
}

// reverse flips newest-first rows into conversation order.
func reverse(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
