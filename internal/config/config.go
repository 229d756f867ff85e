package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	Webhook WebhookConfig
	AI      AIConfig
	Store   StoreConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Auth:    auth,
		Webhook: loadWebhookConfig(),
		AI:      ai,
		Store:   store,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr   string
	AppURL string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	appURL := strings.TrimRight(getEnvOrDefault("APP_URL", "http://localhost:8080"), "/")

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AppURL: appURL}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AppURL: appURL}, nil
}

// AuthConfig 描述 OAuth 登录与会话 Cookie 配置。
type AuthConfig struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	UserInfoURL   string
	Whitelist     string
	SessionSecret string
	CookieSecure  bool
}

// Enabled 表示是否配置了 OAuth 客户端。
func (c AuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// DefaultSessionSecret 仅用于本地开发，生产环境必须覆盖 SESSION_SECRET。
const DefaultSessionSecret = "default-secret"

func loadAuthConfig() (AuthConfig, error) {
	secure, err := parseBoolEnv("COOKIE_SECURE", true)
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{
		ClientID:      strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		ClientSecret:  strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")),
		AuthURL:       getEnvOrDefault("OAUTH_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth"),
		TokenURL:      getEnvOrDefault("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		UserInfoURL:   getEnvOrDefault("OAUTH_USERINFO_URL", "https://www.googleapis.com/oauth2/v2/userinfo"),
		Whitelist:     strings.TrimSpace(os.Getenv("AUTH_WHITELIST")),
		SessionSecret: getEnvOrDefault("SESSION_SECRET", DefaultSessionSecret),
		CookieSecure:  secure,
	}, nil
}

// WebhookConfig 描述新用户工作区的默认 webhook 地址。
type WebhookConfig struct {
	DefaultURL string
}

func loadWebhookConfig() WebhookConfig {
	return WebhookConfig{DefaultURL: strings.TrimSpace(os.Getenv("WEBHOOK_URL"))}
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	AgentID     string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		AgentID:     getEnvOrDefault("AGENT_ID", "flowbot"),
	}, nil
}

// StoreConfig 描述工作区持久化后端。
type StoreConfig struct {
	Driver  string
	DataDir string
}

// SQLitePath 返回 sqlite 驱动使用的数据库文件路径。
func (c StoreConfig) SQLitePath() string {
	return filepath.Join(c.DataDir, "flowbot.db")
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", "memory"))
	switch driver {
	case "memory", "file", "sqlite":
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value: %q", driver)
	}

	return StoreConfig{
		Driver:  driver,
		DataDir: getEnvOrDefault("DATA_DIR", "./data"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
