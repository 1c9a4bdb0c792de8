package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaiwa-cli/kaiwa/internal/config"
	kaiwaErrors "github.com/kaiwa-cli/kaiwa/internal/errors"
	anthropicProvider "github.com/kaiwa-cli/kaiwa/internal/model/providers/anthropic"
	geminiProvider "github.com/kaiwa-cli/kaiwa/internal/model/providers/gemini"
	ollamaProvider "github.com/kaiwa-cli/kaiwa/internal/model/providers/ollama"
	openaiProvider "github.com/kaiwa-cli/kaiwa/internal/model/providers/openai"
)

// AuthMode selects which backend serves a session.
type AuthMode string

const (
	AuthModeOAuth           AuthMode = "oauth-personal"
	AuthModeGeminiAPIKey    AuthMode = "gemini-api-key"
	AuthModeVertexAI        AuthMode = "vertex-ai"
	AuthModeOllama          AuthMode = "ollama"
	AuthModeAnthropicAPIKey AuthMode = "anthropic-api-key"
	AuthModeOpenAIAPIKey    AuthMode = "openai-api-key"
)

// GeneratorConfig is the resolved per-session backend configuration.
type GeneratorConfig struct {
	Model          string
	AuthMode       AuthMode
	APIKey         string
	Project        string
	Location       string
	BaseURL        string
	RequestTimeout time.Duration
	Debug          bool
}

// ModelResolver lets a remote "effective model" service rewrite the model
// name during resolution. External collaborator; nil skips the query.
type ModelResolver func(ctx context.Context, apiKey, model string) string

// OAuthGeneratorFactory builds the hosted-service generator for the OAuth
// mode. The OAuth flow itself lives outside this package.
type OAuthGeneratorFactory func(ctx context.Context, gc *GeneratorConfig) (Generator, error)

// ResolveGeneratorConfig resolves the effective model name and credentials
// for an auth mode.
//
// For the local backend the session model override wins, then the configured
// default, then a hardcoded fallback. For hosted modes the configured current
// model wins, then the caller-supplied model, then the hardcoded hosted
// default.
func ResolveGeneratorConfig(ctx context.Context, model string, mode AuthMode, cfg *config.Config, resolver ModelResolver) (*GeneratorConfig, error) {
	gc := &GeneratorConfig{
		AuthMode: mode,
		Debug:    cfg.Chat.Debug,
	}

	switch mode {
	case AuthModeOllama:
		gc.Model = firstNonEmpty(model, cfg.Ollama.Model, config.DefaultOllamaModel)
		gc.BaseURL = firstNonEmpty(cfg.Ollama.BaseURL, config.DefaultOllamaBaseURL)
		timeout, err := time.ParseDuration(firstNonEmpty(cfg.Ollama.RequestTimeout, config.DefaultOllamaRequestTimeout))
		if err != nil {
			return nil, kaiwaErrors.InvalidInput(fmt.Sprintf("invalid ollama request_timeout: %v", err))
		}
		gc.RequestTimeout = timeout
		return gc, nil

	case AuthModeOAuth:
		gc.Model = firstNonEmpty(cfg.Chat.Model, model, config.DefaultGeminiModel)
		return gc, nil

	case AuthModeGeminiAPIKey:
		if cfg.Gemini.APIKey == "" {
			return nil, kaiwaErrors.InvalidInput("Gemini API key not found; set GEMINI_API_KEY or gemini.api_key")
		}
		gc.APIKey = cfg.Gemini.APIKey
		gc.Model = firstNonEmpty(cfg.Chat.Model, model, config.DefaultGeminiModel)
		if resolver != nil {
			gc.Model = resolver(ctx, gc.APIKey, gc.Model)
		}
		return gc, nil

	case AuthModeVertexAI:
		if cfg.Vertex.Project == "" {
			return nil, kaiwaErrors.InvalidInput("Google Cloud project is required for Vertex AI; set GOOGLE_CLOUD_PROJECT or vertex.project")
		}
		gc.Project = cfg.Vertex.Project
		gc.Location = firstNonEmpty(cfg.Vertex.Location, config.DefaultVertexLocation)
		gc.Model = firstNonEmpty(cfg.Chat.Model, model, config.DefaultGeminiModel)
		if resolver != nil {
			gc.Model = resolver(ctx, "", gc.Model)
		}
		return gc, nil

	case AuthModeAnthropicAPIKey:
		if cfg.Anthropic.APIKey == "" {
			return nil, kaiwaErrors.InvalidInput("Anthropic API key not found; set ANTHROPIC_API_KEY or anthropic.api_key")
		}
		gc.APIKey = cfg.Anthropic.APIKey
		gc.Model = firstNonEmpty(cfg.Chat.Model, model, cfg.Anthropic.Model, config.DefaultAnthropicModel)
		return gc, nil

	case AuthModeOpenAIAPIKey:
		if cfg.OpenAI.APIKey == "" {
			return nil, kaiwaErrors.InvalidInput("OpenAI API key not found; set OPENAI_API_KEY or openai.api_key")
		}
		gc.APIKey = cfg.OpenAI.APIKey
		gc.BaseURL = cfg.OpenAI.BaseURL
		gc.Model = firstNonEmpty(cfg.Chat.Model, model, cfg.OpenAI.Model, config.DefaultOpenAIModel)
		return gc, nil

	default:
		return nil, kaiwaErrors.InvalidInput(fmt.Sprintf("unsupported auth mode: %q", mode))
	}
}

// NewGenerator dispatches on the resolved auth mode and constructs exactly
// one backend generator. An unknown mode is the factory's only failure mode
// besides backend construction itself, and it is fatal to the caller.
func NewGenerator(ctx context.Context, gc *GeneratorConfig, logger *slog.Logger, oauthFactory OAuthGeneratorFactory) (Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch gc.AuthMode {
	case AuthModeOllama:
		client := ollamaProvider.NewClient(gc.BaseURL, gc.RequestTimeout, logger, gc.Debug)
		return ollamaProvider.NewTranslator(gc.Model, client, logger), nil

	case AuthModeOAuth:
		if oauthFactory == nil {
			return nil, kaiwaErrors.InvalidInput("oauth-personal mode requires an OAuth generator factory")
		}
		return oauthFactory(ctx, gc)

	case AuthModeGeminiAPIKey:
		return geminiProvider.NewWithAPIKey(ctx, gc.APIKey, gc.Model, logger)

	case AuthModeVertexAI:
		return geminiProvider.NewWithVertex(ctx, gc.Project, gc.Location, gc.Model, logger)

	case AuthModeAnthropicAPIKey:
		return anthropicProvider.New(gc.APIKey, gc.Model, logger), nil

	case AuthModeOpenAIAPIKey:
		return openaiProvider.New(gc.APIKey, gc.BaseURL, gc.Model, logger), nil

	default:
		return nil, kaiwaErrors.InvalidInput(fmt.Sprintf("unsupported auth mode: %q", gc.AuthMode))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
