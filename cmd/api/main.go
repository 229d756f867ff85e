package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/flowbot/backend/internal/config"
	"github.com/zhouzirui/flowbot/backend/internal/handler"
	"github.com/zhouzirui/flowbot/backend/internal/metrics"
	"github.com/zhouzirui/flowbot/backend/internal/middleware"
	"github.com/zhouzirui/flowbot/backend/internal/model/agent"
	"github.com/zhouzirui/flowbot/backend/internal/service/ai"
	"github.com/zhouzirui/flowbot/backend/internal/service/auth"
	"github.com/zhouzirui/flowbot/backend/internal/service/chat"
	"github.com/zhouzirui/flowbot/backend/internal/service/events"
	"github.com/zhouzirui/flowbot/backend/internal/service/webhook"
	"github.com/zhouzirui/flowbot/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := storage.Open(cfg.Store.Driver, cfg.Store.DataDir, cfg.Store.SQLitePath())
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("warning: failed to close store: %v", err)
		}
	}()
	log.Printf("workspace store: %s", cfg.Store.Driver)

	m := metrics.New()
	hub := events.NewHub()

	agents := agent.NewMemoryStore(agent.Seed())
	profile, ok := agents.FindByID(cfg.AI.AgentID)
	if !ok {
		log.Fatalf("unknown AGENT_ID %q", cfg.AI.AgentID)
	}

	opts := chat.Options{
		Webhook:           webhook.NewClient(nil, m),
		Store:             store,
		Events:            hub,
		Metrics:           m,
		DefaultWebhookURL: cfg.Webhook.DefaultURL,
	}

	// Initialize AI service
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, profile, m)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without greetings and title suggestions - 请检查 Ark 模型相关环境变量")
		} else {
			opts.Greeter = aiService
			opts.Titler = aiService
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过问候语与标题生成")
	}

	chatService := chat.NewService(opts)

	var gateway *auth.Gateway
	if cfg.Auth.Enabled() {
		whitelist := auth.ParseWhitelist(cfg.Auth.Whitelist)
		if whitelist.Len() == 0 {
			log.Println("warning: AUTH_WHITELIST is empty, every sign-in will be denied")
		}
		gateway = auth.NewGateway(auth.GatewayConfig{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			AuthURL:      cfg.Auth.AuthURL,
			TokenURL:     cfg.Auth.TokenURL,
			UserInfoURL:  cfg.Auth.UserInfoURL,
			RedirectURL:  cfg.Server.AppURL + "/api/auth/callback",
			Whitelist:    whitelist,
			HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		})
	} else {
		log.Println("warning: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set, sign-in disabled")
	}

	if cfg.Auth.SessionSecret == config.DefaultSessionSecret {
		log.Println("warning: SESSION_SECRET is not set, using the development default")
	}

	router := handler.NewRouter(handler.Deps{
		Agents:         agents,
		AgentID:        profile.ID,
		Chat:           chatService,
		Gateway:        gateway,
		Codec:          auth.NewSessionCodec([]byte(cfg.Auth.SessionSecret)),
		Cookies:        middleware.SessionCookies{Secure: cfg.Auth.CookieSecure},
		Hub:            hub,
		Metrics:        m,
		AllowedOrigins: []string{cfg.Server.AppURL},
	})

	startServer(ctx, cfg.Server, router)

	// 等待仍在生成的问候语写回存储
	chatService.Wait()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("FlowBot backend listening on %s (public URL %s)", addr, serverCfg.AppURL)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
