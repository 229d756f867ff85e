package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/flowbot/backend/internal/metrics"
	"github.com/zhouzirui/flowbot/backend/internal/middleware"
	authmodel "github.com/zhouzirui/flowbot/backend/internal/model/auth"
	authService "github.com/zhouzirui/flowbot/backend/internal/service/auth"
)

type testEnv struct {
	router  *chi.Mux
	metrics *metrics.Metrics
	codec   *authService.SessionCodec
}

func newProvider(t *testing.T, profile authmodel.Identity, tokenStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if tokenStatus != http.StatusOK {
			w.WriteHeader(tokenStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(profile)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setup(t *testing.T, profile authmodel.Identity, tokenStatus int) testEnv {
	t.Helper()
	provider := newProvider(t, profile, tokenStatus)
	gateway := authService.NewGateway(authService.GatewayConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://accounts.example.com/auth",
		TokenURL:     provider.URL + "/token",
		UserInfoURL:  provider.URL + "/userinfo",
		RedirectURL:  "http://localhost:8080/api/auth/callback",
		Whitelist:    authService.ParseWhitelist("Foo@Bar.com, ada@example.com"),
		HTTPClient:   provider.Client(),
	})
	codec := authService.NewSessionCodec([]byte("test-secret"))
	m := metrics.New()

	r := chi.NewRouter()
	New(gateway, codec, middleware.SessionCookies{Secure: true}, m).RegisterRoutes(r)
	return testEnv{router: r, metrics: m, codec: codec}
}

func (e testEnv) do(t *testing.T, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	return findCookie(rec, middleware.SessionCookieName)
}

const testState = "state-abc"

func stateCookie() *http.Cookie {
	return &http.Cookie{Name: middleware.OAuthStateCookieName, Value: testState}
}

func TestAuthURLEndpoint(t *testing.T) {
	env := setup(t, authmodel.Identity{}, http.StatusOK)

	rec := env.do(t, "/auth/url")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.URL, "https://accounts.example.com/auth?")
	assert.Contains(t, body.URL, "prompt=consent")
	assert.Nil(t, sessionCookie(rec))

	state := findCookie(rec, middleware.OAuthStateCookieName)
	require.NotNil(t, state)
	assert.NotEmpty(t, state.Value)
	assert.True(t, state.HttpOnly)
	assert.Equal(t, "/api/auth", state.Path)

	parsed, err := url.Parse(body.URL)
	require.NoError(t, err)
	assert.Equal(t, state.Value, parsed.Query().Get("state"))
}

func TestCallbackWhitelisted(t *testing.T) {
	foo := authmodel.Identity{ID: "1", Email: "foo@bar.com", Name: "Foo"}
	env := setup(t, foo, http.StatusOK)

	rec := env.do(t, "/auth/callback?code=abc&state="+testState, stateCookie())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "OAUTH_AUTH_SUCCESS")

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	identity, err := env.codec.Verify(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, foo, identity)

	rec = env.do(t, "/session", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":{"id":"1","email":"foo@bar.com","name":"Foo","picture":""}}`, rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.AuthCallbacks().WithLabelValues(outcomeOK)))
}

func TestCallbackNotWhitelisted(t *testing.T) {
	env := setup(t, authmodel.Identity{ID: "2", Email: "mallory@evil.com"}, http.StatusOK)

	rec := env.do(t, "/auth/callback?code=abc&state="+testState, stateCookie())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "OAUTH_AUTH_ERROR")
	assert.Contains(t, rec.Body.String(), "Email not whitelisted")
	assert.Contains(t, rec.Body.String(), "not_whitelisted")
	assert.Nil(t, sessionCookie(rec))

	rec = env.do(t, "/session")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.AuthCallbacks().WithLabelValues(outcomeDenied)))
}

func TestCallbackExchangeFailure(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
	}{
		{name: "missing code", target: "/auth/callback?state=" + testState, status: http.StatusOK},
		{name: "token rejected", target: "/auth/callback?code=abc&state=" + testState, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t, authmodel.Identity{ID: "1", Email: "foo@bar.com"}, tt.status)

			rec := env.do(t, tt.target, stateCookie())
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Contains(t, rec.Body.String(), "Authentication failed")
			assert.Nil(t, sessionCookie(rec))
		})
	}
}

func TestCallbackRejectsBadState(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		cookies []*http.Cookie
	}{
		{name: "no state cookie", target: "/auth/callback?code=abc&state=" + testState},
		{name: "no state param", target: "/auth/callback?code=abc", cookies: []*http.Cookie{stateCookie()}},
		{name: "mismatched state", target: "/auth/callback?code=abc&state=forged", cookies: []*http.Cookie{stateCookie()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t, authmodel.Identity{ID: "1", Email: "foo@bar.com"}, http.StatusOK)

			rec := env.do(t, tt.target, tt.cookies...)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Contains(t, rec.Body.String(), "Authentication failed")
			assert.Nil(t, sessionCookie(rec))

			cleared := findCookie(rec, middleware.OAuthStateCookieName)
			require.NotNil(t, cleared)
			assert.Negative(t, cleared.MaxAge)
			assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.AuthCallbacks().WithLabelValues(outcomeError)))
		})
	}
}

func TestSessionRejectsTamperedCookie(t *testing.T) {
	env := setup(t, authmodel.Identity{}, http.StatusOK)

	rec := env.do(t, "/session", &http.Cookie{Name: middleware.SessionCookieName, Value: "forged"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Not authenticated"}`, rec.Body.String())
}

func TestLogoutClearsCookie(t *testing.T) {
	env := setup(t, authmodel.Identity{}, http.StatusOK)

	rec := env.do(t, "/logout")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestLoginUnavailableWithoutGateway(t *testing.T) {
	r := chi.NewRouter()
	New(nil, authService.NewSessionCodec([]byte("s")), middleware.SessionCookies{}, nil).RegisterRoutes(r)

	for _, target := range []string{"/auth/url", "/auth/callback?code=x"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}
