package moltbook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	c := NewClient(baseURL, "mb-key", "vision-bot", 0)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestClient_Feed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("sort"); got != "hot" {
			t.Fatalf("expected sort=hot, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer mb-key" {
			t.Fatalf("expected bearer auth, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"posts":[{"id":"p1","title":"hello","submolt":"ai","karma":4}]}`))
	}))
	defer server.Close()

	posts, err := newTestClient(server.URL).Feed(context.Background(), "hot", 20)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "p1" || posts[0].Karma != 4 {
		t.Fatalf("unexpected posts: %+v", posts)
	}
}

func TestClient_RetriesServerErrorTwice(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"posts":[]}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Feed(context.Background(), "hot", 20); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestClient_ServerErrorExhaustsRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Feed(context.Background(), "hot", 20)
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	if !IsServerError(err) {
		t.Fatalf("expected server error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", calls)
	}
}

func TestClient_AuthFailureIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Feed(context.Background(), "hot", 20)
	if !IsAuthFailed(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("auth failure must not be retried, got %d attempts", calls)
	}
}

func TestClient_RateLimitHonorsRetryAfter(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"posts":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "mb-key", "vision-bot", 0)
	var slept []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if _, err := client.Feed(context.Background(), "hot", 20); err != nil {
		t.Fatalf("feed after rate limit: %v", err)
	}
	if len(slept) != 1 || slept[0] != 7*time.Second {
		t.Fatalf("expected one 7s sleep from Retry-After, got %v", slept)
	}
}

func TestClient_RecordsRateLimitState(t *testing.T) {
	resetAt := time.Now().Add(30 * time.Minute).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "-2")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"posts":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.Feed(context.Background(), "hot", 20); err != nil {
		t.Fatalf("feed: %v", err)
	}

	st, ok := client.RateLimit("general")
	if !ok {
		t.Fatalf("expected recorded rate limit state")
	}
	if st.Remaining != 0 {
		t.Fatalf("remaining must be clamped at 0, got %d", st.Remaining)
	}
	if st.MaxRequests != 60 {
		t.Fatalf("expected max 60, got %d", st.MaxRequests)
	}
	if st.Expired(time.Now()) {
		t.Fatalf("window should not be expired yet")
	}
	if !st.Expired(time.Unix(resetAt, 0).Add(time.Second)) {
		t.Fatalf("window should be expired after reset_at")
	}
}

func TestClient_CreateCommentSendsParent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/posts/p1/comments" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["parent_id"] != "c9" || body["content"] != "hi there" {
			t.Fatalf("unexpected body: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"comment":{"id":"c10","post_id":"p1","parent_id":"c9","content":"hi there"}}`))
	}))
	defer server.Close()

	comment, err := newTestClient(server.URL).CreateComment(context.Background(), "p1", "c9", "hi there")
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if comment.ID != "c10" {
		t.Fatalf("unexpected comment: %+v", comment)
	}
}

func TestClient_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such post"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetPost(context.Background(), "ghost")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
