// Package contract defines the uniform request/response shapes every
// backend adapter translates to and from.
package contract

// Role tags one conversation turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// FinishReason enumerates why a generation ended.
type FinishReason string

const (
	FinishReasonUnspecified FinishReason = "FINISH_REASON_UNSPECIFIED"
	FinishReasonStop        FinishReason = "STOP"
	FinishReasonMaxTokens   FinishReason = "MAX_TOKENS"
	FinishReasonOther       FinishReason = "OTHER"
)

// Part is one atomic piece of turn content. Exactly one field is set.
type Part struct {
	Text         string        `json:"text,omitempty"`
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
}

// FunctionCall is a model-requested tool invocation.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Turn is one message in a conversation.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates the turn's text parts.
func (t Turn) Text() string {
	var out string
	for _, p := range t.Parts {
		out += p.Text
	}
	return out
}

// GenerationConfig carries optional sampling parameters. Nil pointers mean
// "backend default".
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// FunctionDeclaration describes one callable function a tool exposes.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolDef declares a callable tool. Backends that accept only one function
// per tool use the first declaration.
type ToolDef struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// GenerationRequest is the uniform input to a translator. Immutable per call.
type GenerationRequest struct {
	Contents []Turn            `json:"contents"`
	Config   *GenerationConfig `json:"generationConfig,omitempty"`
	Tools    []ToolDef         `json:"tools,omitempty"`
}

// SafetyRating is a placeholder for backends without a safety classifier.
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
}

// Candidate is one possible model response. Per current policy its parts are
// either all text or all function calls, never a mix.
type Candidate struct {
	Role          Role           `json:"role"`
	Parts         []Part         `json:"parts,omitempty"`
	FinishReason  FinishReason   `json:"finishReason"`
	TokenCount    int            `json:"tokenCount,omitempty"`
	SafetyRatings []SafetyRating `json:"safetyRatings,omitempty"`
}

// GenerationResponse is the uniform output shape. Constructed fresh per call
// or per streamed chunk.
type GenerationResponse struct {
	Candidates []Candidate `json:"candidates"`
	// Text mirrors the first candidate's text content for convenience. Empty
	// when the candidate carries function calls.
	Text string `json:"text,omitempty"`
}

// FunctionCalls collects the function-call parts of the first candidate.
func (r *GenerationResponse) FunctionCalls() []FunctionCall {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	var calls []FunctionCall
	for _, p := range r.Candidates[0].Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// TokenCount is the result of CountTokens. Warning is non-empty when the
// total is an estimate rather than a tokenizer count.
type TokenCount struct {
	TotalTokens int    `json:"totalTokens"`
	Warning     string `json:"warning,omitempty"`
}
