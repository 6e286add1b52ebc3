package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/middleware"
	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/service"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
)

// ChatHandler handles widget chat turns.
type ChatHandler struct {
	chatService *service.ChatService
	logger      *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chatSvc *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatSvc,
		logger:      log,
	}
}

// Chat handles POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		if bodyTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, chatReply("Message too long."))
			return
		}
		// Malformed bodies are answered like an empty message.
		req = model.ChatRequest{}
	}

	tenantID := requestTenant(r, req.Client)
	ctx := middleware.WithTenantID(r.Context(), tenantID)

	reply, err := h.chatService.Reply(ctx, service.ChatInput{
		TenantID: tenantID,
		Key:      widgetKey(r, req.Key),
		Message:  req.Message,
		History:  req.History,
	})
	switch {
	case errors.Is(err, service.ErrForbidden):
		writeJSON(w, http.StatusForbidden, chatReply(service.DeniedReply))
	case err != nil:
		middleware.RequestLogger(ctx, h.logger).Error("chat turn failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, chatReply(service.ApologyReply))
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

func chatReply(text string) model.Reply {
	return model.Reply{Reply: text, Action: model.ActionNone, Lead: map[string]any{}}
}
