package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/flowbot/backend/internal/config"
	"github.com/zhouzirui/flowbot/backend/internal/metrics"
	"github.com/zhouzirui/flowbot/backend/internal/model/agent"
	"github.com/zhouzirui/flowbot/backend/internal/model/chat"
)

const (
	greetingTemperature = 0.7
	greetingMaxTokens   = 100
	titleMaxTokens      = 20

	// DefaultTitle is used when the model returns nothing usable.
	DefaultTitle = "New Conversation"
)

var ErrEmptyTranscript = errors.New("no messages to summarize")

// Service generates greetings and conversation titles with a chat model.
type Service struct {
	profile  agent.Profile
	greeting compose.Runnable[map[string]any, *schema.Message]
	title    compose.Runnable[map[string]any, *schema.Message]
	metrics  *metrics.Metrics
}

// NewService creates the Ark chat model from cfg and compiles the chains.
func NewService(ctx context.Context, cfg config.AIConfig, profile agent.Profile, m *metrics.Metrics) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, profile, m)
}

// NewServiceWithModel compiles the chains around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, profile agent.Profile, m *metrics.Metrics) (*Service, error) {
	greeting, err := compileChain(ctx, chatModel, greetingSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile greeting chain: %w", err)
	}

	title, err := compileChain(ctx, chatModel, titleSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}

	return &Service{
		profile:  profile,
		greeting: greeting,
		title:    title,
		metrics:  m,
	}, nil
}

func compileChain(ctx context.Context, chatModel model.BaseChatModel, system string) (compose.Runnable[map[string]any, *schema.Message], error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)
	return chain.Compile(ctx)
}

// Profile returns the assistant profile greetings are written for.
func (s *Service) Profile() agent.Profile {
	return s.profile
}

// Greet produces a one-off welcome message for a new chat session.
func (s *Service) Greet(ctx context.Context) (string, error) {
	input := map[string]any{"query": buildGreetingQuery(s.profile)}

	msg, err := s.greeting.Invoke(ctx, input, compose.WithChatModelOption(
		model.WithTemperature(greetingTemperature),
		model.WithMaxTokens(greetingMaxTokens),
	))
	if err != nil {
		s.metrics.Greeting("error")
		return "", fmt.Errorf("failed to run greeting chain: %w", err)
	}

	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		s.metrics.Greeting("fallback")
		return s.profile.FallbackGreeting(), nil
	}

	s.metrics.Greeting("ok")
	log.Printf("[ai] generated greeting agent=%s length=%d", s.profile.ID, len(msg.Content))
	return strings.TrimSpace(msg.Content), nil
}

// SuggestTitle summarizes a transcript into a short conversation title.
func (s *Service) SuggestTitle(ctx context.Context, messages []chat.Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrEmptyTranscript
	}

	input := map[string]any{"query": buildTitleQuery(messages)}
	msg, err := s.title.Invoke(ctx, input, compose.WithChatModelOption(model.WithMaxTokens(titleMaxTokens)))
	if err != nil {
		return "", fmt.Errorf("failed to run title chain: %w", err)
	}
	if msg == nil {
		return DefaultTitle, nil
	}

	if title := cleanTitle(msg.Content); title != "" {
		return title, nil
	}
	return DefaultTitle, nil
}
