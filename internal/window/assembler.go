// Package window projects stored turns into the ordered message list a
// completion call consumes.
package window

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ent0n29/chatmemory/internal/memory"
)

// DefaultMaxMessages bounds the window when no explicit limit is configured.
const DefaultMaxMessages = 20

// Message is a bare role/content pair, stripped of storage metadata.
type Message struct {
	Role    memory.Role `json:"role"`
	Content string      `json:"content"`
}

// TurnReader is the slice of the message store the assembler needs.
type TurnReader interface {
	RecentTurns(ctx context.Context, externalID int64, limit int) ([]memory.Turn, error)
}

// Assembler builds context windows. It never fabricates content: an empty
// history yields an empty window.
type Assembler struct {
	turns       TurnReader
	maxMessages int
	logger      zerolog.Logger
}

func NewAssembler(turns TurnReader, maxMessages int, logger zerolog.Logger) *Assembler {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Assembler{
		turns:       turns,
		maxMessages: maxMessages,
		logger:      logger.With().Str("component", "window").Logger(),
	}
}

func (a *Assembler) MaxMessages() int { return a.maxMessages }

// Build returns at most MaxMessages turns for the user, oldest first.
func (a *Assembler) Build(ctx context.Context, externalID int64) ([]Message, error) {
	turns, err := a.turns.RecentTurns(ctx, externalID, a.maxMessages)
	if err != nil {
		return nil, err
	}
	out := Project(turns)
	a.logger.Debug().Int64("external_id", externalID).Int("messages", len(out)).Msg("context assembled")
	return out, nil
}

// Project maps turns to messages preserving order.
func Project(turns []memory.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, Message{Role: t.Role, Content: t.Content})
	}
	return out
}
