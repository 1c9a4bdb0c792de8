// Package openai adapts the uniform generation contract onto OpenAI-style
// chat-completion services. A custom base URL covers compatible gateways.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	kaiwaErrors "github.com/kaiwa-cli/kaiwa/internal/errors"
	"github.com/kaiwa-cli/kaiwa/internal/model/contract"

	"github.com/sashabaranov/go-openai"
)

const charsPerToken = 3.5

const tokenEstimateWarning = "Token count is a character-based estimate; the OpenAI backend exposes no tokenizer endpoint."

type Provider struct {
	client         *openai.Client
	model          string
	embeddingModel string
	logger         *slog.Logger
}

func New(apiKey, baseURL, model string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &Provider{
		client:         openai.NewClientWithConfig(cfg),
		model:          model,
		embeddingModel: string(openai.SmallEmbedding3),
		logger:         logger,
	}
}

func (p *Provider) GenerateContent(ctx context.Context, req contract.GenerationRequest) (*contract.GenerationResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.toChatRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, kaiwaErrors.Internal("openai returned no choices")
	}

	choice := resp.Choices[0]
	out := &contract.GenerationResponse{}
	candidate := contract.Candidate{
		Role:         contract.RoleModel,
		FinishReason: mapFinishReason(choice.FinishReason),
		TokenCount:   resp.Usage.CompletionTokens,
	}

	if len(choice.Message.ToolCalls) > 0 {
		for _, tc := range choice.Message.ToolCalls {
			// The backend serializes arguments as a JSON string.
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				p.logger.Warn("unparseable tool-call arguments", "tool", tc.Function.Name, "error", err)
			}
			candidate.Parts = append(candidate.Parts, contract.Part{
				FunctionCall: &contract.FunctionCall{
					Name: tc.Function.Name,
					Args: args,
				},
			})
		}
	} else if choice.Message.Content != "" {
		candidate.Parts = []contract.Part{{Text: choice.Message.Content}}
		out.Text = choice.Message.Content
	}

	out.Candidates = []contract.Candidate{candidate}
	return out, nil
}

func (p *Provider) GenerateContentStream(ctx context.Context, req contract.GenerationRequest) iter.Seq2[*contract.GenerationResponse, error] {
	return func(yield func(*contract.GenerationResponse, error) bool) {
		stream, err := p.client.CreateChatCompletionStream(ctx, p.toChatRequest(req, true))
		if err != nil {
			yield(nil, fmt.Errorf("openai stream failed: %w", err))
			return
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("openai stream failed: %w", err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			resp := &contract.GenerationResponse{
				Text: choice.Delta.Content,
				Candidates: []contract.Candidate{{
					Role:         contract.RoleModel,
					FinishReason: mapFinishReason(choice.FinishReason),
				}},
			}
			if choice.Delta.Content != "" {
				resp.Candidates[0].Parts = []contract.Part{{Text: choice.Delta.Content}}
			}

			if !yield(resp, nil) {
				return
			}
		}
	}
}

// CountTokens estimates from the character count; the chat API reports usage
// only after a completion, so a standalone count has no exact source.
func (p *Provider) CountTokens(_ context.Context, prompt contract.PromptContent) (*contract.TokenCount, error) {
	chars := utf8.RuneCountInString(prompt.AllText())
	return &contract.TokenCount{
		TotalTokens: int(math.Ceil(float64(chars) / charsPerToken)),
		Warning:     tokenEstimateWarning,
	}, nil
}

func (p *Provider) EmbedContent(ctx context.Context, prompt contract.PromptContent) ([]float32, error) {
	text := prompt.EmbedText()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: Prompt text is required for OpenAI embedContent.", kaiwaErrors.ErrInvalidInput)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, kaiwaErrors.Internal("openai embedding returned empty result")
	}
	return resp.Data[0].Embedding, nil
}

func (p *Provider) toChatRequest(req contract.GenerationRequest, stream bool) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	for _, turn := range req.Contents {
		role := openai.ChatMessageRoleUser
		switch turn.Role {
		case contract.RoleModel:
			role = openai.ChatMessageRoleAssistant
		case contract.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Text(),
		})
	}

	out := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   stream,
		Tools:    toBackendTools(req.Tools),
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			out.Temperature = float32(*req.Config.Temperature)
		}
		if req.Config.TopP != nil {
			out.TopP = float32(*req.Config.TopP)
		}
		if req.Config.MaxOutputTokens != nil {
			out.MaxCompletionTokens = *req.Config.MaxOutputTokens
		}
		out.Stop = req.Config.StopSequences
	}
	return out
}

func toBackendTools(tools []contract.ToolDef) []openai.Tool {
	var out []openai.Tool
	for _, tool := range tools {
		for _, decl := range tool.FunctionDeclarations {
			params := decl.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			out = append(out, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        decl.Name,
					Description: decl.Description,
					Parameters:  params,
				},
			})
		}
	}
	return out
}

func mapFinishReason(reason openai.FinishReason) contract.FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return contract.FinishReasonStop
	case openai.FinishReasonLength:
		return contract.FinishReasonMaxTokens
	case openai.FinishReasonNull, "":
		return contract.FinishReasonUnspecified
	default:
		return contract.FinishReasonOther
	}
}
