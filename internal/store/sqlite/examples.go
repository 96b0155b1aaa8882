package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/qbloq/agentico/internal/model"
)

type ExampleStore struct{ db *sql.DB }

func NewExampleStore(db *sql.DB) *ExampleStore { return &ExampleStore{db: db} }

func (s *ExampleStore) FindByState(ctx context.Context, state string, k int) ([]model.ConversationExample, error) {
	all, err := s.queryExamples(ctx,
		`SELECT id, scenario, category, outcome, primary_state, state_flow, messages, embedding
		 FROM conversation_examples WHERE primary_state=?`, state)
	if err != nil {
		return nil, err
	}
	if k > 0 && k < len(all) {
		all = all[:k]
	}
	return all, nil
}

func (s *ExampleStore) FindSimilar(ctx context.Context, embedding []float32, k int) ([]model.ConversationExample, error) {
	all, err := s.queryExamples(ctx,
		`SELECT id, scenario, category, outcome, primary_state, state_flow, messages, embedding
		 FROM conversation_examples`)
	if err != nil {
		return nil, err
	}
	knowledgeLike := make([]model.KnowledgeEntry, len(all))
	for i, ex := range all {
		knowledgeLike[i] = model.KnowledgeEntry{ID: ex.ID, Embedding: ex.Embedding}
	}
	ranked := topByCosine(knowledgeLike, embedding, k)
	byID := make(map[string]model.ConversationExample, len(all))
	for _, ex := range all {
		byID[ex.ID] = ex
	}
	out := make([]model.ConversationExample, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, byID[r.ID])
	}
	return out, nil
}

func (s *ExampleStore) queryExamples(ctx context.Context, query string, args ...any) ([]model.ConversationExample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query examples: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationExample
	for rows.Next() {
		var (
			ex                               model.ConversationExample
			stateFlowRaw, messagesRaw, embRaw []byte
		)
		if err := rows.Scan(&ex.ID, &ex.Scenario, &ex.Category, &ex.Outcome, &ex.PrimaryState,
			&stateFlowRaw, &messagesRaw, &embRaw); err != nil {
			return nil, fmt.Errorf("scan example: %w", err)
		}
		_ = json.Unmarshal(stateFlowRaw, &ex.StateFlow)
		_ = json.Unmarshal(embRaw, &ex.Embedding)
		if err := json.Unmarshal(messagesRaw, &ex.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal example messages: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
