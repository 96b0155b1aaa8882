package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateEmbeddingParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIEmbeddingProvider("test-key", srv.URL, "")
	vec, err := p.GenerateEmbedding(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("GenerateEmbedding: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestGenerateEmbeddingPropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	p := NewOpenAIEmbeddingProvider("bad-key", srv.URL, "")
	if _, err := p.GenerateEmbedding(context.Background(), "hello"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestGenerateEmbeddingRejectsEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIEmbeddingProvider("key", srv.URL, "")
	if _, err := p.GenerateEmbedding(context.Background(), "hello"); err == nil {
		t.Error("expected error for empty embedding data")
	}
}
