package auth

import (
	"crypto/subtle"
	"html/template"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/flowbot/backend/internal/metrics"
	"github.com/zhouzirui/flowbot/backend/internal/middleware"
	authService "github.com/zhouzirui/flowbot/backend/internal/service/auth"
	"github.com/zhouzirui/flowbot/backend/pkg/utils"
)

// Outcome labels for callback metrics.
const (
	outcomeOK     = "ok"
	outcomeDenied = "denied"
	outcomeError  = "error"
)

var popupTemplate = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html>
  <body>
    <script>
      if (window.opener) {
        window.opener.postMessage({{.Message}}, '*');
        window.close();
      } else {
        window.location.href = {{.Redirect}};
      }
    </script>
    <p>{{.Notice}}</p>
  </body>
</html>
`))

type popupData struct {
	Message  map[string]string
	Redirect string
	Notice   string
}

// Handler 登录网关的HTTP处理器
type Handler struct {
	gateway *authService.Gateway
	codec   *authService.SessionCodec
	cookies middleware.SessionCookies
	metrics *metrics.Metrics
}

// New 创建登录处理器。gateway 为 nil 时登录入口返回 503，已签发的会话仍可校验。
func New(gateway *authService.Gateway, codec *authService.SessionCodec, cookies middleware.SessionCookies, m *metrics.Metrics) *Handler {
	return &Handler{
		gateway: gateway,
		codec:   codec,
		cookies: cookies,
		metrics: m,
	}
}

// RegisterRoutes 注册登录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/auth/url", h.handleAuthURL)
	r.Get("/auth/callback", h.handleCallback)
	r.Get("/session", h.handleSession)
	r.Get("/logout", h.handleLogout)
}

func (h *Handler) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "oauth is not configured")
		return
	}

	state := uuid.NewString()
	h.cookies.SetOAuthState(w, state)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"url": h.gateway.AuthURL(state)})
}

// handleCallback 校验 state 并完成授权码交换，白名单通过后写入会话 Cookie。
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "oauth is not configured")
		return
	}

	h.cookies.ClearOAuthState(w)
	if !stateMatches(r) {
		log.Printf("[auth] oauth callback failed: state mismatch")
		h.metrics.AuthCallback(outcomeError)
		http.Error(w, "Authentication failed", http.StatusInternalServerError)
		return
	}

	identity, err := h.gateway.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		log.Printf("[auth] oauth callback failed: %v", err)
		h.metrics.AuthCallback(outcomeError)
		http.Error(w, "Authentication failed", http.StatusInternalServerError)
		return
	}

	if err := h.gateway.Authorize(identity); err != nil {
		log.Printf("[auth] denied sign-in email=%s: %v", identity.Email, err)
		h.metrics.AuthCallback(outcomeDenied)
		h.renderPopup(w, popupData{
			Message:  map[string]string{"type": "OAUTH_AUTH_ERROR", "error": authService.ErrNotWhitelisted.Error()},
			Redirect: "/?error=not_whitelisted",
			Notice:   "Access denied. Your email is not whitelisted.",
		})
		return
	}

	token, err := h.codec.Issue(identity)
	if err != nil {
		log.Printf("[auth] failed to sign session email=%s: %v", identity.Email, err)
		h.metrics.AuthCallback(outcomeError)
		http.Error(w, "Authentication failed", http.StatusInternalServerError)
		return
	}

	h.cookies.Set(w, token)
	h.metrics.AuthCallback(outcomeOK)
	log.Printf("[auth] signed in email=%s", identity.Email)
	h.renderPopup(w, popupData{
		Message:  map[string]string{"type": "OAUTH_AUTH_SUCCESS"},
		Redirect: "/",
		Notice:   "Authentication successful. This window should close automatically.",
	})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromRequest(r, h.codec)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"user": identity})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// stateMatches 比对回调参数与 Cookie 中的 state，两者都不能为空。
func stateMatches(r *http.Request) bool {
	want := middleware.OAuthState(r)
	got := r.URL.Query().Get("state")
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func (h *Handler) renderPopup(w http.ResponseWriter, data popupData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := popupTemplate.Execute(w, data); err != nil {
		log.Printf("[auth] failed to render popup: %v", err)
	}
}
