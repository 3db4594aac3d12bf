// Package ragdocs indexes user-uploaded reference documents in an
// embedded vector store so the contextual stage can pull relevant
// snippets into its reasoning prompt.
package ragdocs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/httputil"
)

// Snippet is one retrieved passage with its similarity to the query.
type Snippet struct {
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// Index wraps a chromem collection keyed by document id, with user id
// carried in metadata for per-user filtering.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

// NewIndex builds an in-memory document index backed by an
// Ollama-compatible embeddings endpoint.
func NewIndex(embeddingURL, model string, logger *zap.Logger) (*Index, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection("user_documents", nil, newEmbeddingFunc(model, embeddingURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create document collection: %w", err)
	}
	return &Index{db: db, collection: collection, logger: logger}, nil
}

// newEmbeddingFunc talks to the /api/embeddings endpoint Ollama serves.
func newEmbeddingFunc(model, baseURL string) chromem.EmbeddingFunc {
	client := httputil.Client(httputil.TierMedium)

	return func(ctx context.Context, text string) ([]float32, error) {
		payload, err := json.Marshal(map[string]string{
			"model":  model,
			"prompt": text,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode embedding request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			baseURL+"/api/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to build embedding request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("embedding request failed: %w", err)
		}
		defer httputil.DrainAndClose(resp.Body)

		if resp.StatusCode != http.StatusOK {
			body, _ := httputil.ReadErrorBody(resp.Body)
			return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
		}

		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode embedding response: %w", err)
		}
		return result.Embedding, nil
	}
}

// Add indexes one document for a user.
func (ix *Index) Add(ctx context.Context, userID, documentID, content string) error {
	err := ix.collection.AddDocuments(ctx, []chromem.Document{{
		ID:       documentID,
		Content:  content,
		Metadata: map[string]string{"user_id": userID},
	}}, 1)
	if err != nil {
		return fmt.Errorf("failed to index document %s: %w", documentID, err)
	}
	ix.logger.Debug("document indexed", zap.String("document_id", documentID))
	return nil
}

// Retrieve returns up to k snippets from the user's documents most
// similar to the query. An empty index yields no snippets and no error.
func (ix *Index) Retrieve(ctx context.Context, userID, query string, k int) ([]Snippet, error) {
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := ix.collection.Query(ctx, query, k, map[string]string{"user_id": userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("document query failed: %w", err)
	}

	snippets := make([]Snippet, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, Snippet{
			DocumentID: r.ID,
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return snippets, nil
}
