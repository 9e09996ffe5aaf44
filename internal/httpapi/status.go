package httpapi

import "net/http"

type statusResponse struct {
	StoreMode          string `json:"store_mode"`
	CompletionMode     string `json:"completion_mode"`
	MaxContextMessages int    `json:"max_context_messages"`
	ContextTTLHours    int    `json:"context_ttl_hours"`
	SweepIntervalSec   int    `json:"sweep_interval_seconds"`
	AccessRestricted   bool   `json:"access_restricted"`
	AllowedUsers       int    `json:"allowed_users"`
}

// handleStatus reports the effective runtime settings without secrets.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		StoreMode:          s.sessions.StoreMode(),
		CompletionMode:     s.cfg.CompletionMode,
		MaxContextMessages: s.cfg.MaxContextMessages,
		ContextTTLHours:    s.cfg.ContextTTLHours,
		SweepIntervalSec:   s.cfg.SweepIntervalSeconds,
		AccessRestricted:   len(s.cfg.AllowedUsers) > 0,
		AllowedUsers:       len(s.cfg.AllowedUsers),
	})
}
