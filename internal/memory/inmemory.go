package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
// Transactions hold the write lock and roll back through an undo log.
type InMemoryStore struct {
	mu         sync.RWMutex
	users      map[int64]*User
	turns      []Turn
	nextUserID int64
	nextTurnID int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[int64]*User)}
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return unavailable("commit", err)
	}
	return nil
}

func (s *InMemoryStore) UpsertUser(ctx context.Context, profile Profile, now time.Time) (User, error) {
	var out User
	err := s.InTx(ctx, func(q Queries) error {
		var err error
		out, err = q.UpsertUser(ctx, profile, now)
		return err
	})
	return out, err
}

func (s *InMemoryStore) AppendTurn(ctx context.Context, turn NewTurn) (Turn, error) {
	var out Turn
	err := s.InTx(ctx, func(q Queries) error {
		var err error
		out, err = q.AppendTurn(ctx, turn)
		return err
	})
	return out, err
}

func (s *InMemoryStore) RecentTurns(_ context.Context, externalID int64, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recentLocked(externalID, limit), nil
}

func (s *InMemoryStore) DeleteUserTurns(ctx context.Context, externalID int64) (int64, error) {
	var n int64
	err := s.InTx(ctx, func(q Queries) error {
		var err error
		n, err = q.DeleteUserTurns(ctx, externalID)
		return err
	})
	return n, err
}

func (s *InMemoryStore) DeleteTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.InTx(ctx, func(q Queries) error {
		var err error
		n, err = q.DeleteTurnsBefore(ctx, cutoff)
		return err
	})
	return n, err
}

func (s *InMemoryStore) recentLocked(externalID int64, limit int) []Turn {
	if emptyTail(limit) {
		return []Turn{}
	}
	var mine []Turn
	for _, t := range s.turns {
		if t.ExternalID == externalID {
			mine = append(mine, t)
		}
	}
	if len(mine) == 0 {
		return []Turn{}
	}
	// Newest first by (created_at desc, id desc), cut, then reverse.
	sort.Slice(mine, func(i, j int) bool {
		if !mine[i].CreatedAt.Equal(mine[j].CreatedAt) {
			return mine[i].CreatedAt.After(mine[j].CreatedAt)
		}
		return mine[i].ID > mine[j].ID
	})
	if limit < len(mine) {
		mine = mine[:limit]
	}
	reverse(mine)
	return mine
}

// memTx runs with s.mu held for writing.
type memTx struct {
	s    *InMemoryStore
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) UpsertUser(_ context.Context, profile Profile, now time.Time) (User, error) {
	s := tx.s
	now = now.UTC()
	if u, ok := s.users[profile.ExternalID]; ok {
		prev := *u
		tx.undo = append(tx.undo, func() { *u = prev })
		u.LastActiveAt = now
		applyProfile(u, profile)
		return *u, nil
	}

	prevNext := s.nextUserID
	s.nextUserID++
	u := &User{
		ID:           s.nextUserID,
		ExternalID:   profile.ExternalID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	applyProfile(u, profile)
	s.users[profile.ExternalID] = u
	tx.undo = append(tx.undo, func() {
		delete(s.users, profile.ExternalID)
		s.nextUserID = prevNext
	})
	return *u, nil
}

func (tx *memTx) AppendTurn(_ context.Context, turn NewTurn) (Turn, error) {
	if err := turn.validate(); err != nil {
		return Turn{}, err
	}
	s := tx.s
	u, ok := s.users[turn.ExternalID]
	if !ok {
		return Turn{}, ErrUnknownUser
	}
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	prevLen, prevNext := len(s.turns), s.nextTurnID
	s.nextTurnID++
	t := Turn{
		ID:         s.nextTurnID,
		UserID:     u.ID,
		ExternalID: u.ExternalID,
		Role:       turn.Role,
		Content:    turn.Content,
		CreatedAt:  createdAt.UTC(),
	}
	s.turns = append(s.turns, t)
	tx.undo = append(tx.undo, func() {
		s.turns = s.turns[:prevLen]
		s.nextTurnID = prevNext
	})
	return t, nil
}

func (tx *memTx) RecentTurns(_ context.Context, externalID int64, limit int) ([]Turn, error) {
	return tx.s.recentLocked(externalID, limit), nil
}

func (tx *memTx) DeleteUserTurns(_ context.Context, externalID int64) (int64, error) {
	return tx.deleteWhere(func(t Turn) bool { return t.ExternalID == externalID }), nil
}

func (tx *memTx) DeleteTurnsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return tx.deleteWhere(func(t Turn) bool { return t.CreatedAt.Before(cutoff) }), nil
}

func (tx *memTx) deleteWhere(match func(Turn) bool) int64 {
	s := tx.s
	prev := s.turns
	kept := make([]Turn, 0, len(prev))
	for _, t := range prev {
		if !match(t) {
			kept = append(kept, t)
		}
	}
	deleted := int64(len(prev) - len(kept))
	if deleted == 0 {
		return 0
	}
	s.turns = kept
	tx.undo = append(tx.undo, func() { s.turns = prev })
	return deleted
}

func applyProfile(u *User, p Profile) {
	if p.Username != "" {
		u.Username = p.Username
	}
	if p.FirstName != "" {
		u.FirstName = p.FirstName
	}
	if p.LastName != "" {
		u.LastName = p.LastName
	}
}
