package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/chatmemory/internal/chat"
	"github.com/ent0n29/chatmemory/internal/completion"
	"github.com/ent0n29/chatmemory/internal/memory"
	"github.com/ent0n29/chatmemory/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleChatWS serves one chat connection per user. Frames from a single
// connection are handled strictly in arrival order.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("external_id"))
	if raw == "" {
		respondError(w, http.StatusBadRequest, "missing_external_id", "query parameter external_id is required")
		return
	}
	externalID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_external_id", "external id must be an integer")
		return
	}
	if !s.chat.Allowed(externalID) {
		s.metrics.ObserveChatEvent("ws_denied")
		respondError(w, http.StatusForbidden, "access_denied", chat.ErrAccessDenied.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	log := s.logger.With().Str("connection_id", connID).Int64("external_id", externalID).Logger()
	log.Info().Msg("chat websocket connected")
	s.metrics.ObserveChatEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					log.Warn().Err(err).Msg("websocket write failed")
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()
	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, ConnectionID: connID, Code: "connected"})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if !send(protocol.ErrorEvent{
				Type:         protocol.TypeErrorEvent,
				ConnectionID: connID,
				Code:         "invalid_client_message",
				Detail:       err.Error(),
			}) {
				break
			}
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}

		if !send(s.handleFrame(ctx, connID, externalID, parsed)) {
			break
		}
	}

	cancel()
	close(outbound)
	<-writerDone
	s.metrics.ObserveChatEvent("ws_disconnected")
	log.Info().Msg("chat websocket disconnected")
}

func (s *Server) handleFrame(ctx context.Context, connID string, externalID int64, frame any) any {
	var in chat.Inbound
	switch m := frame.(type) {
	case protocol.UserMessage:
		in = chat.Inbound{
			Profile: memory.Profile{
				ExternalID: externalID,
				Username:   m.Username,
				FirstName:  m.FirstName,
				LastName:   m.LastName,
			},
			Text: m.Text,
		}
	case protocol.ClearContext:
		in = chat.Inbound{Profile: memory.Profile{ExternalID: externalID}, Text: chat.CommandClear}
	}

	reply, err := s.chat.Handle(ctx, in)
	if err != nil && !errors.Is(err, chat.ErrAccessDenied) {
		status, code := statusFor(err)
		return protocol.ErrorEvent{
			Type:         protocol.TypeErrorEvent,
			ConnectionID: connID,
			Code:         code,
			Retryable:    status == http.StatusServiceUnavailable || (status == http.StatusBadGateway && completion.Retryable(err)),
			Detail:       err.Error(),
		}
	}
	return protocol.AssistantReply{
		Type:         protocol.TypeAssistantReply,
		ConnectionID: connID,
		Text:         reply.Text,
		Command:      reply.Command,
	}
}
