package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSink struct {
	calls int
	err   error
	last  Alert
}

func (f *fakeSink) Notify(_ context.Context, alert Alert) error {
	f.calls++
	f.last = alert
	return f.err
}

func TestSwallowingHidesInnerError(t *testing.T) {
	inner := &fakeSink{err: errors.New("slack down")}
	s := NewSwallowing(inner)

	if err := s.Notify(context.Background(), Alert{TenantID: "t1"}); err != nil {
		t.Errorf("expected swallowed error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected inner sink to be called once, got %d", inner.calls)
	}
}

func TestSwallowingWithNilInnerIsNoop(t *testing.T) {
	s := NewSwallowing(nil)
	if err := s.Notify(context.Background(), Alert{}); err != nil {
		t.Errorf("expected nil error with no inner sink, got %v", err)
	}
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL)
	err := s.Notify(context.Background(), Alert{TenantID: "t1", SessionID: "s1", Reason: "ai_uncertainty", Priority: "medium", Summary: "unsure"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(gotBody) == 0 {
		t.Error("expected a JSON body to be posted")
	}
}

func TestWebhookSinkPropagatesNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL)
	if err := s.Notify(context.Background(), Alert{}); err == nil {
		t.Error("expected error for 500 response")
	}
}
