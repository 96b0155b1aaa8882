package sqlite

import (
	"math"
	"sort"

	"github.com/qbloq/agentico/internal/model"
)

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
