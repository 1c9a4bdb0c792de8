// Package memory keeps a per-session semantic index of past exchanges so the
// chat can recall earlier conversation by meaning rather than substring.
package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kaiwa-cli/kaiwa/internal/model/contract"

	"github.com/philippgille/chromem-go"
)

// Embedder produces the vectors stored alongside each exchange. The active
// model.Generator satisfies it.
type Embedder interface {
	EmbedContent(ctx context.Context, prompt contract.PromptContent) ([]float32, error)
}

// Result is one recalled exchange.
type Result struct {
	ID         string
	Content    string
	Similarity float32
}

// Store is an in-memory vector index over completed exchanges. Nothing is
// persisted; the index lives and dies with the session.
type Store struct {
	db         *chromem.DB
	collection string
	embedder   Embedder
	limit      int
	logger     *slog.Logger
}

func NewStore(collection string, embedder Embedder, limit int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 5
	}
	return &Store{
		db:         chromem.NewDB(),
		collection: collection,
		embedder:   embedder,
		limit:      limit,
		logger:     logger,
	}
}

// Remember indexes one completed user/model exchange. Embedding failures are
// reported but must not break the chat loop; callers typically log and move on.
func (s *Store) Remember(ctx context.Context, id, userText, modelText string) error {
	content := userText + "\n" + modelText

	embedding, err := s.embedder.EmbedContent(ctx, contract.TextPrompt(content))
	if err != nil {
		return fmt.Errorf("embed exchange: %w", err)
	}

	col, err := s.db.GetOrCreateCollection(s.collection, nil, nil)
	if err != nil {
		return err
	}

	// AddDocuments is upsert in chromem.
	return col.AddDocuments(ctx, []chromem.Document{
		{
			ID:        id,
			Embedding: embedding,
			Content:   content,
		},
	}, 1)
}

// Recall returns the stored exchanges most similar to the query, best first.
func (s *Store) Recall(ctx context.Context, query string) ([]Result, error) {
	col := s.db.GetCollection(s.collection, nil)
	if col == nil || col.Count() == 0 {
		return nil, nil
	}

	embedding, err := s.embedder.EmbedContent(ctx, contract.TextPrompt(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := s.limit
	if count := col.Count(); count < limit {
		limit = count
	}

	docs, err := col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		results = append(results, Result{
			ID:         doc.ID,
			Content:    doc.Content,
			Similarity: doc.Similarity,
		})
	}
	return results, nil
}
