package ollama

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	kaiwaErrors "github.com/kaiwa-cli/kaiwa/internal/errors"
	"github.com/kaiwa-cli/kaiwa/internal/model/contract"
)

// charsPerToken is the divisor for the character-count token estimate. The
// backend exposes no tokenizer, so CountTokens returns ceil(chars/3.5).
const charsPerToken = 3.5

const tokenEstimateWarning = "Token count is a character-based estimate; the Ollama backend provides no tokenizer."

// Translator adapts the uniform generation contract onto one Ollama model.
//
// It owns the opaque conversation context the backend issues after each
// generation. The context is replaced wholesale, never merged, and the
// replacement rule assumes serialized calls: one Translator must not serve
// overlapping requests for the same conversation. Distinct Translator
// instances share nothing.
type Translator struct {
	model  string
	client *Client
	logger *slog.Logger

	// chatContext is the backend-issued token replayed on the next call.
	// Empty until the first successful generation.
	chatContext []int
}

func NewTranslator(model string, client *Client, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		model:  model,
		client: client,
		logger: logger,
	}
}

// GenerateContent performs one non-streaming generation and converts the
// backend response to the uniform shape. Backend errors propagate unchanged.
func (t *Translator) GenerateContent(ctx context.Context, req contract.GenerationRequest) (*contract.GenerationResponse, error) {
	resp, err := t.client.Generate(ctx, t.buildParams(req))
	if err != nil {
		return nil, err
	}

	if len(resp.Context) > 0 {
		t.chatContext = resp.Context
	}
	return toGenerationResponse(resp), nil
}

// GenerateContentStream performs a streaming generation, yielding one
// uniform response per backend chunk in arrival order. The held conversation
// context is updated only after the backend sequence is exhausted normally;
// an early break or a mid-stream error leaves it untouched.
func (t *Translator) GenerateContentStream(ctx context.Context, req contract.GenerationRequest) iter.Seq2[*contract.GenerationResponse, error] {
	params := t.buildParams(req)

	return func(yield func(*contract.GenerationResponse, error) bool) {
		var lastContext []int

		for chunk, err := range t.client.GenerateStream(ctx, params) {
			if err != nil {
				yield(nil, err)
				return
			}
			if len(chunk.Context) > 0 {
				lastContext = chunk.Context
			}
			if !yield(toGenerationResponse(chunk), nil) {
				return
			}
		}

		if len(lastContext) > 0 {
			t.chatContext = lastContext
		}
	}
}

// CountTokens estimates the token count from the total text-character count.
// The divisor and ceiling are fixed; the warning is always attached so the
// estimate is never mistaken for ground truth.
func (t *Translator) CountTokens(_ context.Context, prompt contract.PromptContent) (*contract.TokenCount, error) {
	chars := utf8.RuneCountInString(prompt.AllText())
	total := int(math.Ceil(float64(chars) / charsPerToken))

	t.logger.Debug("ollama token estimate", "chars", chars, "tokens", total)
	return &contract.TokenCount{
		TotalTokens: total,
		Warning:     tokenEstimateWarning,
	}, nil
}

// EmbedContent embeds the prompt text. The text is extracted per the tagged
// union's rules; an empty result fails before any network call.
func (t *Translator) EmbedContent(ctx context.Context, prompt contract.PromptContent) ([]float32, error) {
	text := prompt.EmbedText()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: Prompt text is required for Ollama embedContent.", kaiwaErrors.ErrInvalidInput)
	}

	resp, err := t.client.Embeddings(ctx, EmbeddingsParams{Model: t.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// buildParams maps the uniform request to the backend's wire shape. Only the
// last turn's text becomes the prompt; multi-turn coherence rides on the
// replayed context token, not on history concatenation.
func (t *Translator) buildParams(req contract.GenerationRequest) GenerateParams {
	params := GenerateParams{
		Model:   t.model,
		Prompt:  lastTurnText(req.Contents),
		Context: t.chatContext,
	}

	if req.Config != nil {
		params.Options = &Options{
			Temperature: req.Config.Temperature,
			TopP:        req.Config.TopP,
			TopK:        req.Config.TopK,
			NumPredict:  req.Config.MaxOutputTokens,
			Stop:        req.Config.StopSequences,
		}
	}

	params.Tools = toBackendTools(req.Tools)
	return params
}

func lastTurnText(turns []contract.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	return turns[len(turns)-1].Text()
}

// toBackendTools maps one function declaration per tool — the first one, if
// a tool declares several — and drops tools without any.
func toBackendTools(tools []contract.ToolDef) []Tool {
	var out []Tool
	for _, tool := range tools {
		if len(tool.FunctionDeclarations) == 0 {
			continue
		}
		decl := tool.FunctionDeclarations[0]
		out = append(out, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  decl.Parameters,
			},
		})
	}
	return out
}

// toGenerationResponse converts one backend response or chunk to the uniform
// shape. Tool calls win over text: when present, the candidate carries
// exclusively function-call parts and the convenience text field stays empty.
func toGenerationResponse(resp *GenerateResponse) *contract.GenerationResponse {
	candidate := contract.Candidate{
		Role:         contract.RoleModel,
		FinishReason: mapFinishReason(resp),
		TokenCount:   resp.EvalCount,
		SafetyRatings: []contract.SafetyRating{
			{Category: "HARM_CATEGORY_UNSPECIFIED", Probability: "NEGLIGIBLE"},
		},
	}

	out := &contract.GenerationResponse{}

	if len(resp.ToolCalls) > 0 {
		for _, tc := range resp.ToolCalls {
			candidate.Parts = append(candidate.Parts, contract.Part{
				FunctionCall: &contract.FunctionCall{
					Name: tc.Function.Name,
					Args: tc.Function.Arguments,
				},
			})
		}
	} else if resp.Response != "" {
		candidate.Parts = []contract.Part{{Text: resp.Response}}
		out.Text = resp.Response
	}

	out.Candidates = []contract.Candidate{candidate}
	return out
}

// mapFinishReason maps the backend's terminal reason string. Chunks that are
// not done stay unspecified regardless of any reason field.
func mapFinishReason(resp *GenerateResponse) contract.FinishReason {
	if !resp.Done {
		return contract.FinishReasonUnspecified
	}
	switch resp.DoneReason {
	case "stop":
		return contract.FinishReasonStop
	case "length":
		return contract.FinishReasonMaxTokens
	default:
		return contract.FinishReasonOther
	}
}
