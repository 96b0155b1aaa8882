// Package rag implements the RAG Retriever (spec.md §4.1 step 4):
// embed the user's text, then fetch top-K knowledge entries and top-K
// conversation examples in parallel, filtering knowledge by the
// current state's RAG categories when present. Similarity ranking
// itself lives in the store layer (store.KnowledgeStore/ExampleStore
// already rank by cosine distance); this package owns embedding,
// caching the embedding, and fanning the two lookups out concurrently
// — generalized from the teacher's internal/skills tag-filtered
// retrieval into vector similarity retrieval.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/qbloq/agentico/internal/model"
	"github.com/qbloq/agentico/internal/store"
)

// DefaultKnowledgeK and DefaultExampleK are the top-K defaults named in
// spec.md §4.1 step 4.
const (
	DefaultKnowledgeK = 5
	DefaultExampleK   = 3
)

// Embedder computes a query embedding. Implemented by
// internal/llm.EmbeddingProvider; declared locally to keep this
// package's import surface to what it actually uses.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Result is the assembled RAG context for a single turn.
type Result struct {
	Knowledge []model.KnowledgeEntry
	Examples  []model.ConversationExample
}

// Retriever implements the RAG Retriever component.
type Retriever struct {
	embedder   Embedder
	knowledge  store.KnowledgeStore
	examples   store.ExampleStore
	cache      *redis.Client
	cacheTTL   time.Duration
	knowledgeK int
	exampleK   int
}

func New(embedder Embedder, knowledge store.KnowledgeStore, examples store.ExampleStore, cache *redis.Client) *Retriever {
	return &Retriever{
		embedder:   embedder,
		knowledge:  knowledge,
		examples:   examples,
		cache:      cache,
		cacheTTL:   1 * time.Hour,
		knowledgeK: DefaultKnowledgeK,
		exampleK:   DefaultExampleK,
	}
}

// WithK overrides the default top-K values (used by tests and by
// tenants that tune retrieval breadth).
func (r *Retriever) WithK(knowledgeK, exampleK int) *Retriever {
	r.knowledgeK = knowledgeK
	r.exampleK = exampleK
	return r
}

// Retrieve embeds text and fetches top-K knowledge entries (filtered by
// categories when non-empty) and top-K conversation examples for state,
// concurrently.
func (r *Retriever) Retrieve(ctx context.Context, text, state string, categories []string) (*Result, error) {
	embedding, err := r.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	result := &Result{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entries, err := r.knowledge.FindSimilar(gctx, embedding, r.knowledgeK, categories)
		if err != nil {
			return fmt.Errorf("find similar knowledge: %w", err)
		}
		result.Knowledge = entries
		return nil
	})

	g.Go(func() error {
		examples, err := r.examples.FindSimilar(gctx, embedding, r.exampleK)
		if err != nil {
			return fmt.Errorf("find similar examples: %w", err)
		}
		if len(examples) == 0 && state != "" {
			examples, err = r.examples.FindByState(gctx, state, r.exampleK)
			if err != nil {
				return fmt.Errorf("find examples by state: %w", err)
			}
		}
		result.Examples = examples
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// embed returns a cached embedding for text when a Redis client is
// configured, otherwise computes it directly every call.
func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	if r.cache == nil {
		return r.embedder.GenerateEmbedding(ctx, text)
	}

	key := embeddingCacheKey(text)
	if cached, err := r.cache.Get(ctx, key).Bytes(); err == nil {
		vec, decodeErr := decodeEmbedding(cached)
		if decodeErr == nil {
			return vec, nil
		}
	}

	vec, err := r.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if encoded, err := encodeEmbedding(vec); err == nil {
		r.cache.Set(ctx, key, encoded, r.cacheTTL)
	}
	return vec, nil
}

func embeddingCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "rag:embedding:" + fmt.Sprintf("%x", sum)
}

func encodeEmbedding(vec []float32) ([]byte, error) {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("rag: malformed cached embedding (%d bytes)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
