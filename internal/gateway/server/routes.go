package server

import (
	"net/http"

	"go.uber.org/zap"

	"goalcoach/internal/gateway/handler"
	"goalcoach/internal/gateway/middleware"
)

func NewMux(
	conversationHandler *handler.ConversationHandler,
	adminHandler *handler.AdminHandler,
	corsOrigin string,
	logger *zap.Logger,
) http.Handler {
	mux := http.NewServeMux()

	// Conversation API
	mux.HandleFunc("/api/conversation", conversationHandler.HandleConverse)
	mux.HandleFunc("/api/conversation/ws", conversationHandler.HandleConversationWS)

	mux.HandleFunc("/health", adminHandler.HandleHealth)

	// Operator endpoints, mounted only when ADMIN_TOKEN is set
	if adminHandler.OperatorEnabled() {
		mux.HandleFunc("/api/adapters", adminHandler.RequireToken(adminHandler.HandleAdapters))
		mux.HandleFunc("/api/state", adminHandler.RequireToken(adminHandler.HandleState))
	} else if logger != nil {
		logger.Info("operator endpoints disabled; set ADMIN_TOKEN to enable them")
	}

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.AccessLog(logger),
		middleware.CORS(corsOrigin),
	)
}
