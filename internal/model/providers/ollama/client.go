// Package ollama talks to a local Ollama server over its native REST API and
// adapts it to the uniform generation contract.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	kaiwaErrors "github.com/kaiwa-cli/kaiwa/internal/errors"
	"github.com/kaiwa-cli/kaiwa/internal/transport"
)

const DefaultBaseURL = "http://localhost:11434"

// maxStreamLineBytes caps a single newline-delimited JSON line.
const maxStreamLineBytes = 8 << 20

// ModelInfo is one entry of GET /api/tags.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

type ModelDetails struct {
	Format            string   `json:"format,omitempty"`
	Family            string   `json:"family,omitempty"`
	Families          []string `json:"families,omitempty"`
	ParameterSize     string   `json:"parameter_size,omitempty"`
	QuantizationLevel string   `json:"quantization_level,omitempty"`
}

type TagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ShowResponse is the model detail blob of POST /api/show. All fields are
// backend-defined and optional.
type ShowResponse struct {
	License    string       `json:"license,omitempty"`
	Modelfile  string       `json:"modelfile,omitempty"`
	Parameters string       `json:"parameters,omitempty"`
	Template   string       `json:"template,omitempty"`
	Details    ModelDetails `json:"details,omitempty"`
}

// Options carries the sampling parameters /api/generate accepts.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Tool is the backend's function-calling declaration shape.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a backend-reported function invocation.
type ToolCall struct {
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// GenerateParams is the body of POST /api/generate.
type GenerateParams struct {
	Model    string   `json:"model"`
	Prompt   string   `json:"prompt"`
	System   string   `json:"system,omitempty"`
	Template string   `json:"template,omitempty"`
	Context  []int    `json:"context,omitempty"`
	Stream   bool     `json:"stream"`
	Raw      bool     `json:"raw,omitempty"`
	Format   string   `json:"format,omitempty"`
	Images   []string `json:"images,omitempty"`
	Options  *Options `json:"options,omitempty"`
	Tools    []Tool   `json:"tools,omitempty"`
}

// GenerateResponse is one /api/generate chunk. For non-streaming calls it is
// the complete response; during streaming the usage counters, done reason and
// context arrive only on the terminal chunk.
type GenerateResponse struct {
	Model              string     `json:"model"`
	CreatedAt          time.Time  `json:"created_at"`
	Response           string     `json:"response"`
	Done               bool       `json:"done"`
	DoneReason         string     `json:"done_reason,omitempty"`
	Context            []int      `json:"context,omitempty"`
	TotalDuration      int64      `json:"total_duration,omitempty"`
	LoadDuration       int64      `json:"load_duration,omitempty"`
	PromptEvalCount    int        `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64      `json:"prompt_eval_duration,omitempty"`
	EvalCount          int        `json:"eval_count,omitempty"`
	EvalDuration       int64      `json:"eval_duration,omitempty"`
	ToolCalls          []ToolCall `json:"tool_calls,omitempty"`
}

// EmbeddingsParams is the body of POST /api/embeddings.
type EmbeddingsParams struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Options *Options `json:"options,omitempty"`
}

type EmbeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Client issues requests against one Ollama server.
type Client struct {
	baseURL        string
	transport      *transport.Client
	requestTimeout time.Duration
	logger         *slog.Logger
	debug          bool
}

func NewClient(baseURL string, requestTimeout time.Duration, logger *slog.Logger, debug bool) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		transport:      transport.NewClient(logger),
		requestTimeout: requestTimeout,
		logger:         logger,
		debug:          debug,
	}
}

// ListModels returns the models the server has pulled.
func (c *Client) ListModels(ctx context.Context) (*TagsResponse, error) {
	resp, err := c.transport.Do(ctx, http.MethodGet, c.baseURL+"/api/tags", nil, nil, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var out TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}
	return &out, nil
}

// ShowModel returns the detail blob for one model.
func (c *Client) ShowModel(ctx context.Context, name string) (*ShowResponse, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, "/api/show", body, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var out ShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode show response: %w", err)
	}
	return &out, nil
}

// Generate performs a non-streaming generation. The stream flag is forced
// off so the full body is a single JSON object.
func (c *Client) Generate(ctx context.Context, params GenerateParams) (*GenerateResponse, error) {
	params.Stream = false

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if c.debug {
		c.logger.Debug("ollama generate request", "body", string(body))
	}

	resp, err := c.post(ctx, "/api/generate", body, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	if c.debug {
		c.logger.Debug("ollama generate response", "done_reason", out.DoneReason, "eval_count", out.EvalCount)
	}
	return &out, nil
}

// GenerateStream performs a streaming generation and returns a lazy,
// single-pass sequence of chunks decoded from the newline-delimited JSON
// body. The HTTP call happens on first iteration. Breaking out of the loop
// closes the body; no internal request timeout applies because it would cap
// total stream duration.
func (c *Client) GenerateStream(ctx context.Context, params GenerateParams) iter.Seq2[*GenerateResponse, error] {
	params.Stream = true

	return func(yield func(*GenerateResponse, error) bool) {
		body, err := json.Marshal(params)
		if err != nil {
			yield(nil, err)
			return
		}
		if c.debug {
			c.logger.Debug("ollama generate stream request", "body", string(body))
		}

		resp, err := c.post(ctx, "/api/generate", body, 0)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		if err := c.checkStatus(resp); err != nil {
			yield(nil, err)
			return
		}

		for chunk, err := range decodeStream(resp.Body, c.logger) {
			if c.debug && err == nil {
				c.logger.Debug("ollama stream chunk", "done", chunk.Done, "len", len(chunk.Response))
			}
			if !yield(chunk, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// Embeddings returns the embedding vector for a prompt.
func (c *Client) Embeddings(ctx context.Context, params EmbeddingsParams) (*EmbeddingsResponse, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, "/api/embeddings", body, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var out EmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, timeout time.Duration) (*http.Response, error) {
	header := http.Header{"Content-Type": []string{"application/json"}}
	return c.transport.Do(ctx, http.MethodPost, c.baseURL+path, header, bytes.NewReader(body), timeout)
}

// StatusError is a non-2xx backend response. The raw body text is often the
// only diagnostic signal the server gives, so it rides in the message.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Ollama API request failed: %d %s - %s",
		e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return kaiwaErrors.ErrNotFound
	}
	return nil
}

// checkStatus drains the body into the error on any non-2xx response.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxStreamLineBytes))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
}

// decodeStream incrementally decodes a newline-delimited JSON body. Each
// non-empty line becomes one chunk; a trailing line without a terminating
// newline is still decoded at end of stream. A malformed line is logged and
// skipped rather than aborting an otherwise healthy stream.
func decodeStream(r io.Reader, logger *slog.Logger) iter.Seq2[*GenerateResponse, error] {
	return func(yield func(*GenerateResponse, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxStreamLineBytes)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var chunk GenerateResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				logger.Warn("skipping malformed stream line", "error", err, "line_len", len(line))
				continue
			}

			if !yield(&chunk, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("read stream: %w", err))
		}
	}
}
