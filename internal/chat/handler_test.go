package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/chatmemory/internal/completion"
	"github.com/ent0n29/chatmemory/internal/memory"
	"github.com/ent0n29/chatmemory/internal/observability"
	"github.com/ent0n29/chatmemory/internal/policy"
	"github.com/ent0n29/chatmemory/internal/session"
	"github.com/ent0n29/chatmemory/internal/window"
)

type scriptedCompleter struct {
	replies []string
	err     error
	seen    [][]window.Message
}

func (s *scriptedCompleter) Complete(_ context.Context, messages []window.Message) (string, error) {
	s.seen = append(s.seen, append([]window.Message(nil), messages...))
	if s.err != nil {
		return "", s.err
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

type eventLog struct{ events []string }

func (e *eventLog) ObserveChatEvent(event string) { e.events = append(e.events, event) }
func (e *eventLog) ObserveStage(observability.Stage, time.Duration) {}

func newHandler(t *testing.T, c completion.Completer, access policy.Predicate) (*Handler, *session.Service, *eventLog) {
	t.Helper()
	store := memory.NewInMemoryStore()
	svc := session.NewService(store, window.NewAssembler(store, 20, zerolog.Nop()), zerolog.Nop())
	events := &eventLog{}
	return NewHandler(svc, c, access, Config{SystemPrompt: "be nice"}, zerolog.Nop(), events), svc, events
}

func TestHandleConversation(t *testing.T) {
	ctx := context.Background()
	c := &scriptedCompleter{replies: []string{"reply1", "reply2"}}
	h, svc, events := newHandler(t, c, nil)
	profile := memory.Profile{ExternalID: 42, FirstName: "Ann"}

	r, err := h.Handle(ctx, Inbound{Profile: profile, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "reply1", r.Text)

	r, err = h.Handle(ctx, Inbound{Profile: profile, Text: "how are you"})
	require.NoError(t, err)
	assert.Equal(t, "reply2", r.Text)

	require.Len(t, c.seen, 2)
	assert.Equal(t, []window.Message{
		{Role: memory.RoleUser, Content: "hi"},
		{Role: memory.RoleAssistant, Content: "reply1"},
		{Role: memory.RoleUser, Content: "how are you"},
	}, c.seen[1])

	stored, err := svc.Context(ctx, 42)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, "reply2", stored[3].Content)
	assert.Equal(t, []string{"reply", "reply"}, events.events)
}

func TestHandleDeniedUser(t *testing.T) {
	c := &scriptedCompleter{}
	h, svc, events := newHandler(t, c, policy.NewAllowList([]int64{1}))

	r, err := h.Handle(context.Background(), Inbound{Profile: memory.Profile{ExternalID: 2}, Text: "hi"})
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, deniedText, r.Text)
	assert.Empty(t, c.seen)
	assert.Equal(t, []string{"access_denied"}, events.events)

	stored, err := svc.Context(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestHandleCompletionFailureKeepsUserTurn(t *testing.T) {
	ctx := context.Background()
	outage := fmt.Errorf("%w: 503", completion.ErrUnavailable)
	h, svc, _ := newHandler(t, &scriptedCompleter{err: outage}, nil)

	_, err := h.Handle(ctx, Inbound{Profile: memory.Profile{ExternalID: 9}, Text: "anyone there?"})
	require.ErrorIs(t, err, completion.ErrUnavailable)

	stored, err := svc.Context(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []window.Message{{Role: memory.RoleUser, Content: "anyone there?"}}, stored)
}

func TestHandleCommands(t *testing.T) {
	ctx := context.Background()
	c := &scriptedCompleter{replies: []string{"r"}}
	h, svc, _ := newHandler(t, c, nil)
	profile := memory.Profile{ExternalID: 5, FirstName: "Bo"}

	r, err := h.Handle(ctx, Inbound{Profile: profile, Text: "/start"})
	require.NoError(t, err)
	assert.Equal(t, CommandStart, r.Command)
	assert.Contains(t, r.Text, "Hi, Bo!")

	r, err = h.Handle(ctx, Inbound{Profile: profile, Text: "/help@my_bot"})
	require.NoError(t, err)
	assert.Equal(t, CommandHelp, r.Command)

	_, err = h.Handle(ctx, Inbound{Profile: profile, Text: "remember me"})
	require.NoError(t, err)

	r, err = h.Handle(ctx, Inbound{Profile: profile, Text: "/clear"})
	require.NoError(t, err)
	assert.Equal(t, clearedText, r.Text)

	stored, err := svc.Context(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestHandleEmptyText(t *testing.T) {
	h, _, _ := newHandler(t, &scriptedCompleter{}, nil)
	_, err := h.Handle(context.Background(), Inbound{Profile: memory.Profile{ExternalID: 1}, Text: "   "})
	assert.True(t, errors.Is(err, session.ErrEmptyContent))
}

func TestCommandParsing(t *testing.T) {
	assert.Equal(t, CommandStart, command("/START now"))
	assert.Equal(t, "", command("/unknown"))
	assert.Equal(t, "", command("hello /start"))
	assert.Equal(t, "", command("/"))
}
