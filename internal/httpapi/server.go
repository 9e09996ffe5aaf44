package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/chatmemory/internal/chat"
	"github.com/ent0n29/chatmemory/internal/completion"
	"github.com/ent0n29/chatmemory/internal/config"
	"github.com/ent0n29/chatmemory/internal/memory"
	"github.com/ent0n29/chatmemory/internal/observability"
	"github.com/ent0n29/chatmemory/internal/session"
	"github.com/ent0n29/chatmemory/internal/window"
)

type Server struct {
	cfg      config.Config
	sessions *session.Service
	chat     *chat.Handler
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Service, chatHandler *chat.Handler, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		chat:     chatHandler,
		metrics:  metrics,
		logger:   logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/users/{externalID}", func(r chi.Router) {
		r.Post("/turns", s.handleRecordTurn)
		r.Post("/replies", s.handleRecordReply)
		r.Get("/context", s.handleGetContext)
		r.Delete("/context", s.handleClearContext)
	})
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Post("/v1/chat/{externalID}", s.handleChat)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.sessions.StoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.sessions.StoreMode(),
	})
}

type turnRequest struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func (req turnRequest) profile(externalID int64) memory.Profile {
	return memory.Profile{
		ExternalID: externalID,
		Username:   strings.TrimSpace(req.Username),
		FirstName:  strings.TrimSpace(req.FirstName),
		LastName:   strings.TrimSpace(req.LastName),
	}
}

type contextResponse struct {
	ExternalID int64            `json:"external_id"`
	Messages   []window.Message `json:"messages"`
}

func (s *Server) handleRecordTurn(w http.ResponseWriter, r *http.Request) {
	externalID, req, ok := s.turnInput(w, r)
	if !ok {
		return
	}
	if err := s.sessions.RecordUserTurn(r.Context(), req.profile(externalID), strings.TrimSpace(req.Text)); err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"external_id": externalID, "role": memory.RoleUser})
}

func (s *Server) handleRecordReply(w http.ResponseWriter, r *http.Request) {
	externalID, req, ok := s.turnInput(w, r)
	if !ok {
		return
	}
	if err := s.sessions.RecordAssistantReply(r.Context(), externalID, strings.TrimSpace(req.Text)); err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"external_id": externalID, "role": memory.RoleAssistant})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	externalID, ok := externalIDParam(w, r)
	if !ok {
		return
	}
	messages, err := s.sessions.Context(r.Context(), externalID)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, contextResponse{ExternalID: externalID, Messages: messages})
}

func (s *Server) handleClearContext(w http.ResponseWriter, r *http.Request) {
	externalID, ok := externalIDParam(w, r)
	if !ok {
		return
	}
	deleted, err := s.sessions.ClearContext(r.Context(), externalID)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"external_id": externalID, "deleted": deleted})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	externalID, req, ok := s.turnInput(w, r)
	if !ok {
		return
	}
	reply, err := s.chat.Handle(r.Context(), chat.Inbound{Profile: req.profile(externalID), Text: req.Text})
	if errors.Is(err, chat.ErrAccessDenied) {
		respondJSON(w, http.StatusForbidden, reply)
		return
	}
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) turnInput(w http.ResponseWriter, r *http.Request) (int64, turnRequest, bool) {
	externalID, ok := externalIDParam(w, r)
	if !ok {
		return 0, turnRequest{}, false
	}
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "empty_content", "request body is required")
			return 0, turnRequest{}, false
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return 0, turnRequest{}, false
	}
	return externalID, req, true
}

func externalIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "externalID"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_external_id", "external id must be an integer")
		return 0, false
	}
	return id, true
}

// respondFailure maps domain errors onto status codes.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("code", code).Msg("request failed")
	}
	respondError(w, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrEmptyContent), errors.Is(err, memory.ErrEmptyTurn):
		return http.StatusBadRequest, "empty_content"
	case errors.Is(err, memory.ErrInvalidRole):
		return http.StatusBadRequest, "invalid_role"
	case errors.Is(err, memory.ErrUnknownUser):
		return http.StatusNotFound, "unknown_user"
	case errors.Is(err, chat.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, memory.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, completion.ErrUnavailable):
		return http.StatusBadGateway, "completion_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
