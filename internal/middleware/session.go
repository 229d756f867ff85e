package middleware

import (
	"log"
	"net/http"
	"strings"
	"time"

	authmodel "github.com/zhouzirui/flowbot/backend/internal/model/auth"
	"github.com/zhouzirui/flowbot/backend/internal/service/auth"
	"github.com/zhouzirui/flowbot/backend/pkg/utils"
)

// SessionCookieName 是保存签名会话令牌的 Cookie 名称。
const SessionCookieName = "session"

// OAuthStateCookieName 保存登录发起时生成的 state，回调时比对。
const OAuthStateCookieName = "oauth_state"

const (
	oauthStatePath = "/api/auth"
	oauthStateTTL  = 10 * time.Minute
)

// SessionVerifier 校验会话令牌并返回其中的身份。
type SessionVerifier interface {
	Verify(token string) (authmodel.Identity, error)
}

// SessionCookies 负责写入与清除会话 Cookie。
type SessionCookies struct {
	// Secure 为 true 时使用 Secure + SameSite=None，否则使用 SameSite=Lax。
	Secure bool
}

func (c SessionCookies) sameSite() http.SameSite {
	if c.Secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// Set 写入会话 Cookie，有效期与令牌一致。
func (c SessionCookies) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.SessionTTL.Seconds()),
		Expires:  time.Now().Add(auth.SessionTTL),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	})
}

// Clear 让浏览器立即丢弃会话 Cookie。
func (c SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	})
}

// SetOAuthState 写入一次登录流程的 state Cookie，仅回调路径可见。
func (c SessionCookies) SetOAuthState(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    state,
		Path:     oauthStatePath,
		MaxAge:   int(oauthStateTTL.Seconds()),
		Expires:  time.Now().Add(oauthStateTTL),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	})
}

// ClearOAuthState 删除 state Cookie，无论回调成功与否。
func (c SessionCookies) ClearOAuthState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    "",
		Path:     oauthStatePath,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	})
}

// OAuthState returns the state stored by SetOAuthState, or "" when absent.
func OAuthState(r *http.Request) string {
	cookie, err := r.Cookie(OAuthStateCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// IdentityFromRequest 读取并校验请求中的会话 Cookie。
func IdentityFromRequest(r *http.Request, verifier SessionVerifier) (authmodel.Identity, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return authmodel.Identity{}, false
	}
	token := strings.TrimSpace(cookie.Value)
	if token == "" {
		return authmodel.Identity{}, false
	}

	identity, err := verifier.Verify(token)
	if err != nil {
		log.Printf("[auth] rejecting session cookie: %v", err)
		return authmodel.Identity{}, false
	}
	return identity, true
}

// RequireSession 拒绝没有有效会话的请求，并把身份写入请求上下文。
func RequireSession(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromRequest(r, verifier)
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), &identity)))
		})
	}
}
