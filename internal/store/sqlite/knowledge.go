package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/qbloq/agentico/internal/model"
)

type KnowledgeStore struct{ db *sql.DB }

func NewKnowledgeStore(db *sql.DB) *KnowledgeStore { return &KnowledgeStore{db: db} }

func (s *KnowledgeStore) FindSimilar(ctx context.Context, embedding []float32, k int, categories []string) ([]model.KnowledgeEntry, error) {
	entries, err := s.queryEntries(ctx, `SELECT id, title, answer, category, tags, summary, related_articles, embedding, priority, active FROM knowledge_entries WHERE active=1`)
	if err != nil {
		return nil, err
	}
	if len(categories) > 0 {
		allowed := make(map[string]bool, len(categories))
		for _, c := range categories {
			allowed[c] = true
		}
		filtered := entries[:0]
		for _, e := range entries {
			if allowed[e.Category] {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	return topByCosine(entries, embedding, k), nil
}

func (s *KnowledgeStore) FindByCategory(ctx context.Context, category string, k int) ([]model.KnowledgeEntry, error) {
	entries, err := s.queryEntries(ctx,
		`SELECT id, title, answer, category, tags, summary, related_articles, embedding, priority, active
		 FROM knowledge_entries WHERE category=? AND active=1 ORDER BY priority DESC`, category)
	if err != nil {
		return nil, err
	}
	return firstK(entries, k), nil
}

func (s *KnowledgeStore) FindByTags(ctx context.Context, tags []string, k int) ([]model.KnowledgeEntry, error) {
	all, err := s.queryEntries(ctx,
		`SELECT id, title, answer, category, tags, summary, related_articles, embedding, priority, active
		 FROM knowledge_entries WHERE active=1 ORDER BY priority DESC`)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	var out []model.KnowledgeEntry
	for _, e := range all {
		for _, t := range e.Tags {
			if want[t] {
				out = append(out, e)
				break
			}
		}
	}
	return firstK(out, k), nil
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
			e                        model.KnowledgeEntry
			tagsRaw, relRaw, embRaw  []byte
			active                   int
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Answer, &e.Category, &tagsRaw, &e.Summary, &relRaw,
			&embRaw, &e.Priority, &active); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		_ = json.Unmarshal(tagsRaw, &e.Tags)
		_ = json.Unmarshal(relRaw, &e.RelatedArticles)
		_ = json.Unmarshal(embRaw, &e.Embedding)
		e.Active = active != 0
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
