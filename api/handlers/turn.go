package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/handoff"
	"github.com/finagents/loanflow/types"
)

// TurnRequest is the body of a turn submission.
type TurnRequest struct {
	Message string `json:"message"`
}

// TurnResponse is the turn submission result.
type TurnResponse struct {
	SessionID string `json:"session_id"`
	TurnIndex int    `json:"turn_index"`
	Reply     string `json:"reply"`
	State     string `json:"state"`
	Verdict   string `json:"verdict"`
	Warning   string `json:"warning,omitempty"`
}

// TurnHandler exposes the turn API over HTTP.
type TurnHandler struct {
	controller *handoff.Controller
	logger     *zap.Logger
}

// NewTurnHandler creates the turn handler.
func NewTurnHandler(controller *handoff.Controller, logger *zap.Logger) *TurnHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnHandler{
		controller: controller,
		logger:     logger.With(zap.String("handler", "turn")),
	}
}

// HandleSubmit handles POST /v1/sessions/{session_id}/turns.
func (h *TurnHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "session id is required", h.logger)
		return
	}

	var req TurnRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	result, err := h.controller.SubmitTurn(r.Context(), sessionID, req.Message)
	if err != nil {
		var apiErr *types.Error
		if errors.As(err, &apiErr) {
			WriteError(w, apiErr, h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrInternalError, "failed to process turn").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, TurnResponse{
		SessionID: result.SessionID,
		TurnIndex: result.TurnIndex,
		Reply:     result.Reply,
		State:     string(result.State),
		Verdict:   string(result.Verdict),
		Warning:   result.Warning,
	})
}
