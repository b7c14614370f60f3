package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	domain "goalcoach/internal/conversation"
	"goalcoach/internal/gateway/middleware"
	convsvc "goalcoach/internal/gateway/service/conversation"
	"goalcoach/internal/logging"
)

const (
	headerUserID        = "X-User-Id"
	headerUserPhase     = "X-User-Phase"
	headerSessionID     = "X-Session-Id"
	headerClientVersion = "X-Client-Version"

	maxBodyBytes = 1 << 20
)

// Conversations is what the transport needs from the orchestrator.
type Conversations interface {
	Converse(ctx context.Context, req convsvc.Request) (convsvc.Response, error)
	SetAdapter(name string)
	ActiveAdapter() string
	Adapters() []string
	State(userID string) domain.State
}

type ConversationHandler struct {
	svc    Conversations
	logger *zap.Logger
}

func NewConversationHandler(svc Conversations, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{svc: svc, logger: logging.OrNop(logger)}
}

type conversationPayload struct {
	Message string               `json:"message"`
	History []domain.HistoryItem `json:"history,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func (h *ConversationHandler) HandleConverse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in conversationPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "invalid_request",
			Details: convsvc.ValidationError{
				FormErrors:  []string{"Request body must be a JSON object"},
				FieldErrors: map[string][]string{},
			},
		})
		return
	}
	if err := convsvc.Validate(in.Message, in.History); err != nil {
		writeValidation(w, err)
		return
	}

	resp, err := h.svc.Converse(r.Context(), convsvc.Request{
		Message:   in.Message,
		History:   in.History,
		Context:   contextFromHeaders(r.Header),
		RequestID: middleware.CallerRequestID(r.Context()),
	})
	if err != nil {
		h.logger.Error("conversation turn failed",
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func contextFromHeaders(hdr http.Header) domain.Context {
	return domain.NewContext(
		hdr.Get(headerUserID),
		hdr.Get(headerUserPhase),
		hdr.Get(headerSessionID),
		hdr.Get(headerClientVersion),
	)
}

func writeValidation(w http.ResponseWriter, err error) {
	var verr *convsvc.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Details: verr})
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Details: err.Error()})
}
