package pg

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/lib/pq"

	"github.com/qbloq/agentico/internal/model"
)

// KnowledgeStore implements store.KnowledgeStore. Knowledge entries are
// a shared library, not tenant-scoped (model.KnowledgeEntry carries no
// tenant id). There is no pgvector extension in play, so FindSimilar
// narrows by category in SQL, then ranks the (small) candidate set by
// cosine similarity in application code.
type KnowledgeStore struct {
	db *sql.DB
}

func NewKnowledgeStore(db *sql.DB) *KnowledgeStore { return &KnowledgeStore{db: db} }

func (s *KnowledgeStore) FindSimilar(ctx context.Context, embedding []float32, k int, categories []string) ([]model.KnowledgeEntry, error) {
	query := `SELECT id, title, answer, category, tags, summary, related_articles, embedding, priority, active
	          FROM knowledge_entries WHERE active=true`
	var args []any
	if len(categories) > 0 {
		query += " AND category = ANY($1)"
		args = append(args, pq.Array(categories))
	}
	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return topByCosine(entries, embedding, k), nil
}

func (s *KnowledgeStore) FindByCategory(ctx context.Context, category string, k int) ([]model.KnowledgeEntry, error) {
	entries, err := s.queryEntries(ctx,
		`SELECT id, title, answer, category, tags, summary, related_articles, embedding, priority, active
		 FROM knowledge_entries WHERE category=$1 AND active=true ORDER BY priority DESC`, category)
	if err != nil {
		return nil, err
	}
	return firstK(entries, k), nil
}

func (s *KnowledgeStore) FindByTags(ctx context.Context, tags []string, k int) ([]model.KnowledgeEntry, error) {
	entries, err := s.queryEntries(ctx,
		`SELECT id, title, answer, category, tags, summary, related_articles, embedding, priority, active
		 FROM knowledge_entries WHERE active=true AND tags && $1 ORDER BY priority DESC`, pq.Array(tags))
	if err != nil {
		return nil, err
	}
	return firstK(entries, k), nil
}

func (s *KnowledgeStore) queryEntries(ctx context.Context, query string, args ...any) ([]model.KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query knowledge entries: %w", err)
	}
	defer rows.Close()

	var out []model.KnowledgeEntry
	for rows.Next() {
		var (
			e         model.KnowledgeEntry
			tags, rel pq.StringArray
			embedding pq.Float64Array
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Answer, &e.Category, &tags, &e.Summary, &rel,
			&embedding, &e.Priority, &e.Active); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		e.Tags, e.RelatedArticles = []string(tags), []string(rel)
		e.Embedding = float64sToFloat32s(embedding)
		out = append(out, e)
	}
	return out, rows.Err()
}

func firstK(entries []model.KnowledgeEntry, k int) []model.KnowledgeEntry {
	if k <= 0 || k > len(entries) {
		return entries
	}
	return entries[:k]
}

func float64sToFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func topByCosine(entries []model.KnowledgeEntry, query []float32, topK int) []model.KnowledgeEntry {
	type scored struct {
		entry model.KnowledgeEntry
		score float64
	}
	scoredEntries := make([]scored, len(entries))
	for i, e := range entries {
		scoredEntries[i] = scored{entry: e, score: cosineSimilarity(e.Embedding, query)}
	}
	sort.Slice(scoredEntries, func(i, j int) bool { return scoredEntries[i].score > scoredEntries[j].score })
	if topK > len(scoredEntries) || topK <= 0 {
		topK = len(scoredEntries)
	}
	out := make([]model.KnowledgeEntry, topK)
	for i := 0; i < topK; i++ {
		out[i] = scoredEntries[i].entry
	}
	return out
}
