package chat

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/flowbot/backend/internal/model/webhook"
	authService "github.com/zhouzirui/flowbot/backend/internal/service/auth"
	chatService "github.com/zhouzirui/flowbot/backend/internal/service/chat"
	"github.com/zhouzirui/flowbot/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由，调用方需先挂载会话中间件。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats", h.handleListSessions)
	r.Post("/chats", h.handleCreateSession)
	r.Get("/chats/{id}", h.handleGetSession)
	r.Delete("/chats/{id}", h.handleDeleteSession)
	r.Post("/chats/{id}/activate", h.handleActivateSession)
	r.Post("/chats/{id}/title", h.handleSuggestTitle)
	r.Post("/messages", h.handleSendMessage)
	r.Get("/config", h.handleGetConfig)
	r.Put("/config", h.handleUpdateConfig)
}

// owner 返回当前登录用户的工作区键。
func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := authService.FromContext(r.Context())
	if identity == nil {
		utils.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return "", false
	}
	return authService.OwnerKey(identity.Email), true
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	key, ok := owner(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Sessions(r.Context(), key))
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	key, ok := owner(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusCreated, h.chatSvc.CreateSession(r.Context(), key))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	key, ok := owner(w, r)
	if !ok {
		return
	}

	session, err := h.chatSvc.Session(r.Context(), key, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	key, ok := owner(w, r)
	if !ok {
		return
	}

	active, err := h.chatSvc.DeleteSession(r.Context(), key, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"activeSessionId": active})
}

func (h *Handler) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	key, ok := owner(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.chatSvc.ActivateSession(r.Context(), key, id); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"activeSessionId": id})
}

func (h *Handler) handleSuggestTitle(w http.ResponseWriter, r *http.Request) {
	key, ok := owner(w, r)
	if !ok {
		return
	}

	title, err := h.chatSvc.SuggestTitle(r.Context(), key, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"title": title})
}

// handleSendMessage 转发用户消息并等待 webhook 回复。
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	key, ok := owner(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.chatSvc.SendMessage(r.Context(), key, payload.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	key, ok := owner(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.WebhookConfig(r.Context(), key))
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	key, ok := owner(w, r)
	if !ok {
		return
	}

	var cfg webhook.Config
	if err := utils.DecodeJSON(w, r, &cfg); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.UpdateWebhookConfig(r.Context(), key, cfg))
}

// respondServiceError 将服务层错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, chatService.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, chatService.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chatService.ErrSendInFlight), errors.Is(err, chatService.ErrNoActiveSession):
		status = http.StatusConflict
	case errors.Is(err, chatService.ErrTitlesUnavailable):
		status = http.StatusServiceUnavailable
	default:
		log.Printf("[chat] request failed: %v", err)
		status = http.StatusBadGateway
	}
	utils.RespondError(w, status, err.Error())
}
