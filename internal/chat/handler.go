// Package chat drives one inbound chat event through access control, the
// session facade and the completion collaborator.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/chatmemory/internal/completion"
	"github.com/ent0n29/chatmemory/internal/memory"
	"github.com/ent0n29/chatmemory/internal/observability"
	"github.com/ent0n29/chatmemory/internal/policy"
	"github.com/ent0n29/chatmemory/internal/session"
	"github.com/ent0n29/chatmemory/internal/window"
)

var ErrAccessDenied = errors.New("access denied")

const (
	CommandStart = "/start"
	CommandHelp  = "/help"
	CommandClear = "/clear"

	deniedText  = "Sorry, you do not have access to this assistant. Ask an administrator to grant it."
	clearedText = "Conversation context cleared. Let's start fresh!"
	helpText    = "I keep the context of our recent messages, separately for every user.\n\n" +
		"Commands:\n" +
		"/start - begin\n" +
		"/clear - forget the conversation so far\n" +
		"/help - show this message\n\n" +
		"History is cleared automatically after a while."
)

// Inbound is one chat event from the transport.
type Inbound struct {
	Profile memory.Profile
	Text    string
}

// Reply is what the transport should send back.
type Reply struct {
	Text    string `json:"text"`
	Command string `json:"command,omitempty"`
}

// Observer receives handler outcomes and stage timings.
type Observer interface {
	ObserveChatEvent(event string)
	ObserveStage(stage observability.Stage, d time.Duration)
}

type Config struct {
	// SystemPrompt seeds the window when the stored history is empty.
	SystemPrompt string
}

type Handler struct {
	sessions  *session.Service
	completer completion.Completer
	access    policy.Predicate
	cfg       Config
	logger    zerolog.Logger
	observer  Observer
}

func NewHandler(
	sessions *session.Service,
	completer completion.Completer,
	access policy.Predicate,
	cfg Config,
	logger zerolog.Logger,
	observer Observer,
) *Handler {
	if access == nil {
		access = policy.NewAllowList(nil)
	}
	return &Handler{
		sessions:  sessions,
		completer: completer,
		access:    access,
		cfg:       cfg,
		logger:    logger.With().Str("component", "chat").Logger(),
		observer:  observer,
	}
}

// Handle processes one event. A denied user gets a refusal reply together
// with ErrAccessDenied. When the completion fails the user's turn stays
// stored and the completion error is returned unchanged.
func (h *Handler) Handle(ctx context.Context, in Inbound) (Reply, error) {
	externalID := in.Profile.ExternalID
	log := h.logger.With().Int64("external_id", externalID).Logger()

	if !h.access.Allowed(externalID) {
		h.event("access_denied")
		log.Warn().Msg("access denied")
		return Reply{Text: deniedText}, ErrAccessDenied
	}

	text := strings.TrimSpace(in.Text)
	switch command(text) {
	case CommandStart:
		if _, err := h.sessions.UpsertUser(ctx, in.Profile); err != nil {
			return Reply{}, err
		}
		h.event("start")
		return Reply{Text: welcomeText(in.Profile), Command: CommandStart}, nil
	case CommandHelp:
		h.event("help")
		return Reply{Text: helpText, Command: CommandHelp}, nil
	case CommandClear:
		if _, err := h.sessions.ClearContext(ctx, externalID); err != nil {
			return Reply{}, err
		}
		h.event("clear")
		return Reply{Text: clearedText, Command: CommandClear}, nil
	}

	return h.converse(ctx, log, in.Profile, text)
}

func (h *Handler) converse(ctx context.Context, log zerolog.Logger, profile memory.Profile, text string) (Reply, error) {
	started := time.Now()
	if err := h.sessions.RecordUserTurn(ctx, profile, text); err != nil {
		return Reply{}, err
	}
	log.Debug().Str("text", policy.LogPreview(text, 80)).Msg("user turn recorded")

	buildStart := time.Now()
	messages, err := h.sessions.Context(ctx, profile.ExternalID)
	if err != nil {
		return Reply{}, err
	}
	h.stage(observability.StageContextBuild, time.Since(buildStart))
	if len(messages) == 0 {
		messages = append(messages, window.Message{Role: memory.RoleSystem, Content: h.cfg.SystemPrompt})
	}

	log.Info().Int("messages", len(messages)).Msg("requesting completion")
	reply, err := h.completer.Complete(ctx, messages)
	if err != nil {
		h.event("completion_failed")
		log.Error().Err(err).Msg("completion failed")
		return Reply{}, err
	}

	if err := h.sessions.RecordAssistantReply(ctx, profile.ExternalID, reply); err != nil {
		return Reply{}, fmt.Errorf("record assistant reply: %w", err)
	}
	h.event("reply")
	h.stage(observability.StageChatTurn, time.Since(started))
	return Reply{Text: reply}, nil
}

func (h *Handler) event(name string) {
	if h.observer != nil {
		h.observer.ObserveChatEvent(name)
	}
}

func (h *Handler) stage(name observability.Stage, d time.Duration) {
	if h.observer != nil {
		h.observer.ObserveStage(name, d)
	}
}

// command returns the bot command in text, ignoring any @botname suffix.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word := strings.Fields(text)[0]
	if at := strings.IndexByte(word, '@'); at > 0 {
		word = word[:at]
	}
	switch word = strings.ToLower(word); word {
	case CommandStart, CommandHelp, CommandClear:
		return word
	default:
		return ""
	}
}

func welcomeText(p memory.Profile) string {
	name := strings.TrimSpace(p.FirstName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi, %s!\n\nI am an AI assistant that remembers the context of our conversation.\n\n%s", name, helpText)
}

// Allowed exposes the access predicate so transports can refuse early.
func (h *Handler) Allowed(externalID int64) bool {
	return h.access.Allowed(externalID)
}
