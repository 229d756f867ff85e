package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	agentHandler "github.com/zhouzirui/flowbot/backend/internal/handler/agent"
	authHandler "github.com/zhouzirui/flowbot/backend/internal/handler/auth"
	"github.com/zhouzirui/flowbot/backend/internal/handler/chat"
	eventsHandler "github.com/zhouzirui/flowbot/backend/internal/handler/events"
	"github.com/zhouzirui/flowbot/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/flowbot/backend/internal/middleware"
	"github.com/zhouzirui/flowbot/backend/internal/model/agent"
	authService "github.com/zhouzirui/flowbot/backend/internal/service/auth"
	chatService "github.com/zhouzirui/flowbot/backend/internal/service/chat"
	"github.com/zhouzirui/flowbot/backend/internal/service/events"
	"github.com/zhouzirui/flowbot/backend/pkg/utils"
)

// Deps 汇总路由需要的服务。Gateway 与 Metrics 可以为 nil。
type Deps struct {
	Agents         agent.Store
	AgentID        string
	Chat           *chatService.Service
	Gateway        *authService.Gateway
	Codec          *authService.SessionCodec
	Cookies        middlewarePkg.SessionCookies
	Hub            *events.Hub
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins...))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		// Public routes
		agentHandler.New(deps.Agents, deps.AgentID).RegisterRoutes(api)
		authHandler.New(deps.Gateway, deps.Codec, deps.Cookies, deps.Metrics).RegisterRoutes(api)

		// Routes scoped to the signed-in user's workspace
		api.Group(func(private chi.Router) {
			private.Use(middlewarePkg.RequireSession(deps.Codec))
			chat.New(deps.Chat).RegisterRoutes(private)
			eventsHandler.New(deps.Hub, deps.AllowedOrigins...).RegisterRoutes(private)
		})
	})

	return r
}
