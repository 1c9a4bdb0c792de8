package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaiwa-cli/kaiwa/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Chat      ChatConfig      `koanf:"chat"`
	Ollama    OllamaConfig    `koanf:"ollama"`
	Gemini    GeminiConfig    `koanf:"gemini"`
	Vertex    VertexConfig    `koanf:"vertex"`
	Anthropic AnthropicConfig `koanf:"anthropic"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Memory    MemoryConfig    `koanf:"memory"`
}

type ChatConfig struct {
	// Model is the session override; it wins over per-backend defaults.
	Model         string `koanf:"model"`
	AuthMode      string `koanf:"auth_mode"`
	LogLevel      string `koanf:"log_level"`
	Debug         bool   `koanf:"debug"`
	TranscriptDir string `koanf:"transcript_dir"`
}

type OllamaConfig struct {
	BaseURL        string `koanf:"base_url"`
	Model          string `koanf:"model"`
	RequestTimeout string `koanf:"request_timeout"`
}

type GeminiConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
}

type VertexConfig struct {
	Project  string `koanf:"project"`
	Location string `koanf:"location"`
}

type AnthropicConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
}

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

type MemoryConfig struct {
	Enabled        bool   `koanf:"enabled"`
	RecallLimit    int    `koanf:"recall_limit"`
	EmbeddingModel string `koanf:"embedding_model"`
}

// Load builds the effective configuration: defaults, then the config file,
// then KAIWA_* environment variables, then CLI flags.
func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"chat.auth_mode":         string(""),
		"chat.log_level":         DefaultLogLevel,
		"chat.transcript_dir":    DefaultTranscriptDirectory,
		"ollama.base_url":        DefaultOllamaBaseURL,
		"ollama.model":           DefaultOllamaModel,
		"ollama.request_timeout": DefaultOllamaRequestTimeout,
		"gemini.model":           DefaultGeminiModel,
		"vertex.location":        DefaultVertexLocation,
		"anthropic.model":        DefaultAnthropicModel,
		"openai.model":           DefaultOpenAIModel,
		"memory.enabled":         true,
		"memory.recall_limit":    DefaultMemoryRecallLimit,
		"memory.embedding_model": DefaultEmbeddingModel,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".kaiwa", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	k.Load(env.Provider("KAIWA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "KAIWA_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	applyEnvCredentials(&cfg)

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvCredentials injects the conventional environment variables for
// fields the config file left empty.
func applyEnvCredentials(cfg *Config) {
	if cfg.Gemini.APIKey == "" {
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			cfg.Gemini.APIKey = key
		} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			cfg.Gemini.APIKey = key
		}
	}
	if cfg.Vertex.Project == "" {
		cfg.Vertex.Project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if loc := os.Getenv("GOOGLE_CLOUD_LOCATION"); loc != "" {
		cfg.Vertex.Location = loc
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		cfg.Ollama.BaseURL = normalizeOllamaHost(host)
	}
}

// normalizeOllamaHost accepts the bare host:port form OLLAMA_HOST allows.
func normalizeOllamaHost(host string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(host), "/")
	if trimmed == "" {
		return DefaultOllamaBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	return trimmed
}

func normalizePathFields(cfg *Config) error {
	transcriptDir, err := pathutil.Expand(cfg.Chat.TranscriptDir)
	if err != nil {
		return err
	}
	if transcriptDir != "" {
		cfg.Chat.TranscriptDir = transcriptDir
	}
	return nil
}
