package agent

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/flowbot/backend/internal/model/agent"
	"github.com/zhouzirui/flowbot/backend/pkg/utils"
)

// Handler 助手资料的HTTP处理器
type Handler struct {
	profiles agent.Store
	activeID string
}

// New 创建助手资料处理器，activeID 为当前对话使用的助手。
func New(profiles agent.Store, activeID string) *Handler {
	return &Handler{
		profiles: profiles,
		activeID: activeID,
	}
}

// RegisterRoutes 注册助手相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agent", h.handleActiveAgent)
	r.Get("/agents", h.handleListAgents)
}

// handleActiveAgent 返回当前助手的资料
func (h *Handler) handleActiveAgent(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.profiles.FindByID(h.activeID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "agent not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

// handleListAgents 列出所有助手
func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.profiles.List())
}
