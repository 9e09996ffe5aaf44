// Package session is the single entry point for conversational state:
// every mutation of users and turns goes through Service.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/chatmemory/internal/memory"
	"github.com/ent0n29/chatmemory/internal/window"
)

// ErrEmptyContent rejects blank turns before they reach storage.
var ErrEmptyContent = errors.New("message content is empty")

// Recorder receives facade events. observability.Metrics implements it.
type Recorder interface {
	ObserveTurn(role memory.Role)
	ObserveContextClear(deleted int64)
}

type Service struct {
	store     memory.Store
	assembler *window.Assembler
	now       func() time.Time
	logger    zerolog.Logger
	recorder  Recorder
}

type Option func(*Service)

// WithClock overrides the time source used to stamp users and turns.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(store memory.Store, assembler *window.Assembler, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		assembler: assembler,
		now:       time.Now,
		logger:    logger.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreMode names the backing store, e.g. "postgres".
func (s *Service) StoreMode() string { return s.store.Mode() }

// UpsertUser records that the user interacted, without storing a turn.
func (s *Service) UpsertUser(ctx context.Context, profile memory.Profile) (memory.User, error) {
	var user memory.User
	err := s.store.InTx(ctx, func(q memory.Queries) error {
		var err error
		user, err = q.UpsertUser(ctx, profile, s.now())
		return err
	})
	if err != nil {
		return memory.User{}, err
	}
	return user, nil
}

// RecordUserTurn upserts the user and appends a user-role turn as one unit.
func (s *Service) RecordUserTurn(ctx context.Context, profile memory.Profile, text string) error {
	if text == "" {
		return ErrEmptyContent
	}
	now := s.now()
	err := s.store.InTx(ctx, func(q memory.Queries) error {
		if _, err := q.UpsertUser(ctx, profile, now); err != nil {
			return err
		}
		_, err := q.AppendTurn(ctx, memory.NewTurn{
			ExternalID: profile.ExternalID,
			Role:       memory.RoleUser,
			Content:    text,
			CreatedAt:  now,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.observeTurn(memory.RoleUser)
	return nil
}

// Context returns the bounded, oldest-first window for the user.
func (s *Service) Context(ctx context.Context, externalID int64) ([]window.Message, error) {
	return s.assembler.Build(ctx, externalID)
}

// RecordAssistantReply appends an assistant-role turn. Calling it before any
// user turn is a contract violation: it is logged, nothing is stored and
// memory.ErrUnknownUser is returned.
func (s *Service) RecordAssistantReply(ctx context.Context, externalID int64, text string) error {
	if text == "" {
		return ErrEmptyContent
	}
	err := s.store.InTx(ctx, func(q memory.Queries) error {
		_, err := q.AppendTurn(ctx, memory.NewTurn{
			ExternalID: externalID,
			Role:       memory.RoleAssistant,
			Content:    text,
			CreatedAt:  s.now(),
		})
		return err
	})
	if errors.Is(err, memory.ErrUnknownUser) {
		s.logger.Error().Int64("external_id", externalID).Msg("assistant reply for unknown user dropped")
		return err
	}
	if err != nil {
		return err
	}
	s.observeTurn(memory.RoleAssistant)
	return nil
}

// ClearContext removes every stored turn for the user. Clearing an empty
// history is not an error.
func (s *Service) ClearContext(ctx context.Context, externalID int64) (int64, error) {
	var deleted int64
	err := s.store.InTx(ctx, func(q memory.Queries) error {
		var err error
		deleted, err = q.DeleteUserTurns(ctx, externalID)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("external_id", externalID).Int64("deleted", deleted).Msg("context cleared")
	if s.recorder != nil {
		s.recorder.ObserveContextClear(deleted)
	}
	return deleted, nil
}

func (s *Service) observeTurn(role memory.Role) {
	s.logger.Debug().Str("role", string(role)).Msg("turn recorded")
	if s.recorder != nil {
		s.recorder.ObserveTurn(role)
	}
}
