package events

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	authService "github.com/zhouzirui/flowbot/backend/internal/service/auth"
	"github.com/zhouzirui/flowbot/backend/internal/service/events"
	"github.com/zhouzirui/flowbot/backend/pkg/utils"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Handler 将工作区变更推送给浏览器。
type Handler struct {
	hub          *events.Hub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// New 创建事件处理器。allowedOrigins 之外只接受同源的 WebSocket 握手。
func New(hub *events.Hub, allowedOrigins ...string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return &Handler{
		hub:          hub,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := allowed[origin]; ok {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// RegisterRoutes 注册事件路由，调用方需先挂载会话中间件。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleWebSocket)
	r.Get("/events/stream", h.handleStream)
}

func ownerFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := authService.FromContext(r.Context())
	if identity == nil {
		utils.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return "", false
	}
	return authService.OwnerKey(identity.Email), true
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(owner)
	defer sub.Close()

	log.Printf("[websocket] events connected owner=%s", owner)
	defer log.Printf("[websocket] events disconnected owner=%s", owner)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 客户端不发送业务消息，读循环只处理 pong 与关闭帧。
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[websocket] read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				log.Printf("[websocket] write event failed: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleStream 以 Server-Sent Events 推送同样的事件。
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := h.hub.Subscribe(owner)
	defer sub.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEComment(w, flusher, "connected"); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(evt.Type), evt); err != nil {
				log.Printf("[sse] write event failed owner=%s: %v", owner, err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
