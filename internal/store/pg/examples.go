package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/qbloq/agentico/internal/model"
)

// ExampleStore implements store.ExampleStore: few-shot conversation
// transcripts used to ground the prompt (spec.md §4.1 step 4). Like
// KnowledgeStore, examples are a shared library, not tenant-scoped.
type ExampleStore struct {
	db *sql.DB
}

func NewExampleStore(db *sql.DB) *ExampleStore { return &ExampleStore{db: db} }

func (s *ExampleStore) FindByState(ctx context.Context, state string, k int) ([]model.ConversationExample, error) {
	all, err := s.queryExamples(ctx,
		`SELECT id, scenario, category, outcome, primary_state, state_flow, messages, embedding
		 FROM conversation_examples WHERE primary_state=$1`, state)
	if err != nil {
		return nil, err
	}
	return firstKExamples(all, k), nil
}

func (s *ExampleStore) FindSimilar(ctx context.Context, embedding []float32, k int) ([]model.ConversationExample, error) {
	all, err := s.queryExamples(ctx,
		`SELECT id, scenario, category, outcome, primary_state, state_flow, messages, embedding
		 FROM conversation_examples`)
	if err != nil {
		return nil, err
	}
	return topExamplesByCosine(all, embedding, k), nil
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
			ex          model.ConversationExample
			stateFlow   pq.StringArray
			messagesRaw []byte
			embedding   pq.Float64Array
		)
		if err := rows.Scan(&ex.ID, &ex.Scenario, &ex.Category, &ex.Outcome, &ex.PrimaryState,
			&stateFlow, &messagesRaw, &embedding); err != nil {
			return nil, fmt.Errorf("scan example: %w", err)
		}
		ex.StateFlow = []string(stateFlow)
		ex.Embedding = float64sToFloat32s(embedding)
		if err := json.Unmarshal(messagesRaw, &ex.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal example messages: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func firstKExamples(examples []model.ConversationExample, k int) []model.ConversationExample {
	if k <= 0 || k > len(examples) {
		return examples
	}
	return examples[:k]
}

func topExamplesByCosine(examples []model.ConversationExample, query []float32, topK int) []model.ConversationExample {
	knowledgeLike := make([]model.KnowledgeEntry, len(examples))
	for i, ex := range examples {
		knowledgeLike[i] = model.KnowledgeEntry{ID: ex.ID, Embedding: ex.Embedding}
	}
	ranked := topByCosine(knowledgeLike, query, topK)
	byID := make(map[string]model.ConversationExample, len(examples))
	for _, ex := range examples {
		byID[ex.ID] = ex
	}
	out := make([]model.ConversationExample, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, byID[r.ID])
	}
	return out
}
