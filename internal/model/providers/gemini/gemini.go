// Package gemini adapts the uniform generation contract onto the hosted
// Gemini service, reached either with an API key or through Vertex AI.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	kaiwaErrors "github.com/kaiwa-cli/kaiwa/internal/errors"
	"github.com/kaiwa-cli/kaiwa/internal/model/contract"

	"google.golang.org/genai"
)

const defaultEmbeddingModel = "text-embedding-004"

type Provider struct {
	client         *genai.Client
	model          string
	embeddingModel string
	logger         *slog.Logger
}

// NewWithAPIKey builds a provider against the public Gemini API.
func NewWithAPIKey(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, kaiwaErrors.Wrap(err, "create gemini client")
	}
	return newProvider(client, model, logger), nil
}

// NewWithVertex builds a provider against Vertex AI using ambient Google
// Cloud credentials.
func NewWithVertex(ctx context.Context, project, location, model string, logger *slog.Logger) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, kaiwaErrors.Wrap(err, "create vertex client")
	}
	return newProvider(client, model, logger), nil
}

func newProvider(client *genai.Client, model string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client:         client,
		model:          model,
		embeddingModel: defaultEmbeddingModel,
		logger:         logger,
	}
}

func (p *Provider) GenerateContent(ctx context.Context, req contract.GenerationRequest) (*contract.GenerationResponse, error) {
	contents, cfg := toGenaiRequest(req)

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	return fromGenaiResponse(resp), nil
}

func (p *Provider) GenerateContentStream(ctx context.Context, req contract.GenerationRequest) iter.Seq2[*contract.GenerationResponse, error] {
	contents, cfg := toGenaiRequest(req)

	return func(yield func(*contract.GenerationResponse, error) bool) {
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini stream failed: %w", err))
				return
			}
			if !yield(fromGenaiResponse(resp), nil) {
				return
			}
		}
	}
}

// CountTokens uses the service tokenizer; unlike the local backend this is
// an exact count, so no warning is attached.
func (p *Provider) CountTokens(ctx context.Context, prompt contract.PromptContent) (*contract.TokenCount, error) {
	contents, _ := toGenaiRequest(contract.GenerationRequest{Contents: promptTurns(prompt)})

	resp, err := p.client.Models.CountTokens(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini count tokens failed: %w", err)
	}
	return &contract.TokenCount{TotalTokens: int(resp.TotalTokens)}, nil
}

func (p *Provider) EmbedContent(ctx context.Context, prompt contract.PromptContent) ([]float32, error) {
	text := prompt.EmbedText()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: Prompt text is required for Gemini embedContent.", kaiwaErrors.ErrInvalidInput)
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.embeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, kaiwaErrors.Internal("gemini embedding returned empty result")
	}
	return resp.Embeddings[0].Values, nil
}

// promptTurns widens a prompt union back to turns for APIs that want them.
func promptTurns(prompt contract.PromptContent) []contract.Turn {
	if text := prompt.AllText(); text != "" {
		return []contract.Turn{{Role: contract.RoleUser, Parts: []contract.Part{{Text: text}}}}
	}
	return nil
}

// toGenaiRequest maps the uniform request to SDK shapes. System turns become
// the system instruction; conversation history maps turn-for-turn.
func toGenaiRequest(req contract.GenerationRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	var contents []*genai.Content

	for _, turn := range req.Contents {
		if turn.Role == contract.RoleSystem {
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: turn.Text()}},
			}
			continue
		}

		role := genai.RoleUser
		if turn.Role == contract.RoleModel {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		for _, part := range turn.Parts {
			if part.FunctionCall != nil {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				}})
				continue
			}
			parts = append(parts, &genai.Part{Text: part.Text})
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			cfg.Temperature = genai.Ptr(float32(*req.Config.Temperature))
		}
		if req.Config.TopP != nil {
			cfg.TopP = genai.Ptr(float32(*req.Config.TopP))
		}
		if req.Config.TopK != nil {
			cfg.TopK = genai.Ptr(float32(*req.Config.TopK))
		}
		if req.Config.MaxOutputTokens != nil {
			cfg.MaxOutputTokens = int32(*req.Config.MaxOutputTokens)
		}
		cfg.StopSequences = req.Config.StopSequences
	}

	cfg.Tools = toGenaiTools(req.Tools)
	return contents, cfg
}

func toGenaiTools(tools []contract.ToolDef) []*genai.Tool {
	var out []*genai.Tool
	for _, tool := range tools {
		var decls []*genai.FunctionDeclaration
		for _, decl := range tool.FunctionDeclarations {
			b, _ := json.Marshal(decl.Parameters)
			var schema genai.Schema
			_ = json.Unmarshal(b, &schema)
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  &schema,
			})
		}
		if len(decls) == 0 {
			continue
		}
		out = append(out, &genai.Tool{FunctionDeclarations: decls})
	}
	return out
}

func fromGenaiResponse(resp *genai.GenerateContentResponse) *contract.GenerationResponse {
	out := &contract.GenerationResponse{}
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}

	src := resp.Candidates[0]
	candidate := contract.Candidate{
		Role:         contract.RoleModel,
		FinishReason: mapFinishReason(src.FinishReason),
	}
	if resp.UsageMetadata != nil {
		candidate.TokenCount = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	if calls := resp.FunctionCalls(); len(calls) > 0 {
		for _, fc := range calls {
			candidate.Parts = append(candidate.Parts, contract.Part{
				FunctionCall: &contract.FunctionCall{Name: fc.Name, Args: fc.Args},
			})
		}
	} else if src.Content != nil {
		var text string
		for _, part := range src.Content.Parts {
			text += part.Text
		}
		if text != "" {
			candidate.Parts = []contract.Part{{Text: text}}
			out.Text = text
		}
	}

	out.Candidates = []contract.Candidate{candidate}
	return out
}

func mapFinishReason(reason genai.FinishReason) contract.FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return contract.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return contract.FinishReasonMaxTokens
	case genai.FinishReasonUnspecified, "":
		return contract.FinishReasonUnspecified
	default:
		return contract.FinishReasonOther
	}
}
