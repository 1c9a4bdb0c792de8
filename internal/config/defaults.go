package config

const (
	DefaultLogLevel = "info"

	// Local backend defaults. The base URL matches Ollama's stock listen
	// address; OLLAMA_HOST overrides it.
	DefaultOllamaBaseURL        = "http://localhost:11434"
	DefaultOllamaModel          = "llama3.2"
	DefaultOllamaRequestTimeout = "120s"

	// Hosted defaults used when neither config nor caller name a model.
	DefaultGeminiModel         = "gemini-2.5-pro"
	DefaultVertexLocation      = "us-central1"
	DefaultAnthropicModel      = "claude-sonnet-4-20250514"
	DefaultOpenAIModel         = "gpt-4o"
	DefaultEmbeddingModel      = "text-embedding-004"
	DefaultMemoryRecallLimit   = 5
	DefaultMemoryCollection    = "conversation"
	DefaultTranscriptDirectory = "~/.kaiwa/transcripts"
)
