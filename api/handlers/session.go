package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/conversation"
	"github.com/finagents/loanflow/agent/handoff"
	"github.com/finagents/loanflow/types"
)

// SessionResponse is the inspection view of a session.
type SessionResponse struct {
	SessionID string              `json:"session_id"`
	State     string              `json:"state"`
	TurnCount int                 `json:"turn_count"`
	Slots     map[string]string   `json:"slots"`
	Turns     []conversation.Turn `json:"turns,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// SessionHandler exposes read-only session inspection.
type SessionHandler struct {
	controller *handoff.Controller
	logger     *zap.Logger
}

// NewSessionHandler creates the session handler.
func NewSessionHandler(controller *handoff.Controller, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		controller: controller,
		logger:     logger.With(zap.String("handler", "session")),
	}
}

// HandleGet handles GET /v1/sessions/{session_id}. Pass ?turns=true to
// include the full turn history.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "session id is required", h.logger)
		return
	}

	convo, err := h.controller.Load(r.Context(), sessionID)
	if err != nil {
		var apiErr *types.Error
		if errors.As(err, &apiErr) {
			WriteError(w, apiErr, h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrInternalError, "failed to load session").WithCause(err), h.logger)
		return
	}

	slots := make(map[string]string, len(convo.Slots))
	for name, value := range convo.Slots {
		slots[string(name)] = value.String()
	}

	resp := SessionResponse{
		SessionID: convo.SessionID,
		State:     convo.Active,
		TurnCount: convo.TurnCount,
		Slots:     slots,
		CreatedAt: convo.CreatedAt,
		UpdatedAt: convo.UpdatedAt,
	}
	if r.URL.Query().Get("turns") == "true" {
		resp.Turns = convo.Turns
	}
	WriteSuccess(w, resp)
}
