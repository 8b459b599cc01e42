package completion

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// scoreScale keeps scores on the 0-300 range the original search backend
// produced. The ranking, not the magnitude, is what game behavior depends on.
const scoreScale = 300

// searchTries bounds embedding fetch attempts.
const searchTries = 3

// SearchResult pairs a document index with its similarity score.
type SearchResult struct {
	Index int
	Score float64
}

// SemanticSearch ranks documents by embedding cosine similarity to the
// query, highest first. Ties keep document order (stable sort) so rankings
// are reproducible. Embedding calls retry up to three times before the error
// surfaces.
func (s *Service) SemanticSearch(ctx context.Context, query string, documents []string) ([]SearchResult, error) {
	var (
		queryEmbedding []float64
		docEmbeddings  [][]float64
		err            error
	)

	for tries := 0; tries < searchTries; tries++ {
		queryEmbedding, docEmbeddings, err = s.fetchEmbeddings(ctx, query, documents)
		if err == nil {
			break
		}
		s.pause(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch embeddings: %w", err)
	}

	results := make([]SearchResult, len(docEmbeddings))
	for i, embedding := range docEmbeddings {
		results[i] = SearchResult{
			Index: i,
			Score: cosineSimilarity(queryEmbedding, embedding) * scoreScale,
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (s *Service) fetchEmbeddings(ctx context.Context, query string, documents []string) ([]float64, [][]float64, error) {
	queryEmbedding, err := s.provider.Embedding(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	docEmbeddings := make([][]float64, len(documents))
	for i, doc := range documents {
		embedding, err := s.provider.Embedding(ctx, doc)
		if err != nil {
			return nil, nil, err
		}
		docEmbeddings[i] = embedding
	}
	return queryEmbedding, docEmbeddings, nil
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
