package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	authmodel "github.com/zhouzirui/flowbot/backend/internal/model/auth"
)

var (
	// ErrNotWhitelisted denies an identity whose email is not on the allow-list.
	ErrNotWhitelisted = errors.New("Email not whitelisted")
	// ErrExchangeFailed covers every failure between the callback and a usable identity.
	ErrExchangeFailed = errors.New("authentication failed")
)

// Scopes requested from the provider.
var Scopes = []string{
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
}

// GatewayConfig wires the OAuth provider endpoints and client credentials.
type GatewayConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Whitelist    Whitelist
	HTTPClient   *http.Client
}

// Gateway performs the authorization-code exchange and whitelist check.
type Gateway struct {
	oauth       *oauth2.Config
	userInfoURL string
	whitelist   Whitelist
	httpClient  *http.Client
}

// NewGateway builds a Gateway. Client credentials are sent as form parameters.
func NewGateway(cfg GatewayConfig) *Gateway {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Gateway{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		whitelist:   cfg.Whitelist,
		httpClient:  httpClient,
	}
}

// AuthURL returns the provider consent URL carrying state. It has no side effects.
func (g *Gateway) AuthURL(state string) string {
	return g.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for the caller's identity.
// Every failure is reported as ErrExchangeFailed; the cause is wrapped for logs only.
func (g *Gateway) Exchange(ctx context.Context, code string) (authmodel.Identity, error) {
	if strings.TrimSpace(code) == "" {
		return authmodel.Identity{}, fmt.Errorf("%w: missing authorization code", ErrExchangeFailed)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return authmodel.Identity{}, fmt.Errorf("%w: token exchange: %v", ErrExchangeFailed, err)
	}

	identity, err := g.fetchIdentity(ctx, token)
	if err != nil {
		return authmodel.Identity{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	return identity, nil
}

func (g *Gateway) fetchIdentity(ctx context.Context, token *oauth2.Token) (authmodel.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return authmodel.Identity{}, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return authmodel.Identity{}, fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return authmodel.Identity{}, fmt.Errorf("read profile: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return authmodel.Identity{}, fmt.Errorf("profile request returned %d", resp.StatusCode)
	}

	var identity authmodel.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return authmodel.Identity{}, fmt.Errorf("decode profile: %w", err)
	}
	if strings.TrimSpace(identity.Email) == "" {
		return authmodel.Identity{}, errors.New("profile has no email")
	}
	return identity, nil
}

// Authorize checks the identity against the whitelist.
func (g *Gateway) Authorize(identity authmodel.Identity) error {
	if !g.whitelist.Allows(identity.Email) {
		return ErrNotWhitelisted
	}
	return nil
}
