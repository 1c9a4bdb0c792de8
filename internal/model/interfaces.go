package model

import (
	"context"
	"iter"

	"github.com/kaiwa-cli/kaiwa/internal/model/contract"
)

// Generator is the uniform surface the UI layer talks to, regardless of
// which backend serves the session.
//
// GenerateContentStream returns a lazy, single-pass sequence. Stopping
// iteration early is always safe and releases the underlying connection.
type Generator interface {
	GenerateContent(ctx context.Context, req contract.GenerationRequest) (*contract.GenerationResponse, error)
	GenerateContentStream(ctx context.Context, req contract.GenerationRequest) iter.Seq2[*contract.GenerationResponse, error]
	CountTokens(ctx context.Context, prompt contract.PromptContent) (*contract.TokenCount, error)
	EmbedContent(ctx context.Context, prompt contract.PromptContent) ([]float32, error)
}
