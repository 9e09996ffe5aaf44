package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/chatmemory/internal/memory"
	"github.com/ent0n29/chatmemory/internal/window"
)

// Mock provides deterministic local replies when no model is configured.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Complete(ctx context.Context, messages []window.Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", unavailable(ctx.Err())
	default:
	}
	return buildMockReply(messages), nil
}

func buildMockReply(messages []window.Message) string {
	var last string
	userTurns := 0
	for _, m := range messages {
		if m.Role == memory.RoleUser {
			userTurns++
			last = strings.TrimSpace(m.Content)
		}
	}
	if last == "" {
		return "I am listening."
	}
	if userTurns == 1 {
		return fmt.Sprintf("I heard you: %s", last)
	}
	return fmt.Sprintf("I heard you: %s\nI remember %d of your messages.", last, userTurns)
}
