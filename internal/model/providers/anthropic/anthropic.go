// Package anthropic adapts the uniform generation contract onto the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	kaiwaErrors "github.com/kaiwa-cli/kaiwa/internal/errors"
	"github.com/kaiwa-cli/kaiwa/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultMaxTokens applies when the request carries no output cap; the
// Messages API requires one.
const defaultMaxTokens = 1024

type Provider struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

func New(apiKey, model string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger,
	}
}

func (p *Provider) GenerateContent(ctx context.Context, req contract.GenerationRequest) (*contract.GenerationResponse, error) {
	msg, err := p.client.Messages.New(ctx, p.toMessageParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	out := &contract.GenerationResponse{}
	candidate := contract.Candidate{
		Role:         contract.RoleModel,
		FinishReason: mapStopReason(string(msg.StopReason)),
		TokenCount:   int(msg.Usage.OutputTokens),
	}

	var text string
	var calls []contract.Part
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			raw, _ := json.Marshal(b.Input)
			if err := json.Unmarshal(raw, &args); err != nil {
				p.logger.Warn("unparseable tool-use input", "tool", b.Name, "error", err)
			}
			calls = append(calls, contract.Part{
				FunctionCall: &contract.FunctionCall{Name: b.Name, Args: args},
			})
		}
	}

	// Tool calls win over text, matching the other backends.
	if len(calls) > 0 {
		candidate.Parts = calls
	} else if text != "" {
		candidate.Parts = []contract.Part{{Text: text}}
		out.Text = text
	}

	out.Candidates = []contract.Candidate{candidate}
	return out, nil
}

func (p *Provider) GenerateContentStream(ctx context.Context, req contract.GenerationRequest) iter.Seq2[*contract.GenerationResponse, error] {
	return func(yield func(*contract.GenerationResponse, error) bool) {
		stream := p.client.Messages.NewStreaming(ctx, p.toMessageParams(req))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				resp := &contract.GenerationResponse{
					Text: delta.Text,
					Candidates: []contract.Candidate{{
						Role:         contract.RoleModel,
						FinishReason: contract.FinishReasonUnspecified,
						Parts:        []contract.Part{{Text: delta.Text}},
					}},
				}
				if !yield(resp, nil) {
					return
				}

			case anthropic.MessageDeltaEvent:
				resp := &contract.GenerationResponse{
					Candidates: []contract.Candidate{{
						Role:         contract.RoleModel,
						FinishReason: mapStopReason(string(ev.Delta.StopReason)),
						TokenCount:   int(ev.Usage.OutputTokens),
					}},
				}
				if !yield(resp, nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("anthropic stream failed: %w", err))
		}
	}
}

// CountTokens uses the service's token-counting endpoint, so the result is
// exact and carries no warning.
func (p *Provider) CountTokens(ctx context.Context, prompt contract.PromptContent) (*contract.TokenCount, error) {
	text := prompt.AllText()
	count, err := p.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(p.model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic count tokens failed: %w", err)
	}
	return &contract.TokenCount{TotalTokens: int(count.InputTokens)}, nil
}

// EmbedContent always fails; the service offers no embedding endpoint.
func (p *Provider) EmbedContent(_ context.Context, _ contract.PromptContent) ([]float32, error) {
	return nil, kaiwaErrors.InvalidInput("embedding is not supported by the Anthropic backend")
}

func (p *Provider) toMessageParams(req contract.GenerationRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: defaultMaxTokens,
	}

	for _, turn := range req.Contents {
		switch turn.Role {
		case contract.RoleSystem:
			params.System = []anthropic.TextBlockParam{{Text: turn.Text()}}
		case contract.RoleModel:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text())))
		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text())))
		}
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			params.Temperature = anthropic.Float(*req.Config.Temperature)
		}
		if req.Config.TopP != nil {
			params.TopP = anthropic.Float(*req.Config.TopP)
		}
		if req.Config.MaxOutputTokens != nil {
			params.MaxTokens = int64(*req.Config.MaxOutputTokens)
		}
		params.StopSequences = req.Config.StopSequences
	}

	params.Tools = toBackendTools(req.Tools)
	return params
}

func toBackendTools(tools []contract.ToolDef) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		for _, decl := range tool.FunctionDeclarations {
			param := anthropic.ToolParam{
				Name:        decl.Name,
				Description: anthropic.String(decl.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: map[string]any{}},
			}
			if props, ok := decl.Parameters["properties"].(map[string]any); ok {
				param.InputSchema = anthropic.ToolInputSchemaParam{Properties: props}
			}
			out = append(out, anthropic.ToolUnionParam{OfTool: &param})
		}
	}
	return out
}

func mapStopReason(reason string) contract.FinishReason {
	switch strings.TrimSpace(reason) {
	case "end_turn", "stop_sequence", "tool_use":
		return contract.FinishReasonStop
	case "max_tokens":
		return contract.FinishReasonMaxTokens
	case "":
		return contract.FinishReasonUnspecified
	default:
		return contract.FinishReasonOther
	}
}
