package moltbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marcho78/moltvision/pkg/logger"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 2
	retryBaseDelay = 500 * time.Millisecond
)

// Client talks to the Moltbook REST API. Server errors (5xx) are retried
// with exponential backoff, 429 honors Retry-After, auth failures are
// surfaced immediately.
type Client struct {
	apiBase    string
	apiKey     string
	username   string
	writeDelay time.Duration
	httpClient *http.Client

	limitsMu sync.Mutex
	limits   map[string]RateLimitState

	// sleep is swappable so tests do not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(apiBase, apiKey, username string, writeDelay time.Duration) *Client {
	return &Client{
		apiBase:    strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		username:   strings.TrimSpace(username),
		writeDelay: writeDelay,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limits:     make(map[string]RateLimitState),
		sleep:      sleepCtx,
	}
}

// Username is the agent's own platform handle, used by the reply
// monitor to tell its comments from everyone else's.
func (c *Client) Username() string {
	return c.username
}

// RateLimit returns the last observed window for a resource.
func (c *Client) RateLimit(resource string) (RateLimitState, bool) {
	c.limitsMu.Lock()
	defer c.limitsMu.Unlock()
	st, ok := c.limits[resource]
	return st, ok
}

func (c *Client) Feed(ctx context.Context, sort string, limit int) ([]Post, error) {
	q := url.Values{}
	if sort != "" {
		q.Set("sort", sort)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Posts []Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodGet, "/feed?"+q.Encode(), "general", nil, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

func (c *Client) SubmoltPosts(ctx context.Context, name, sort string, limit int) ([]Post, error) {
	q := url.Values{}
	if sort != "" {
		q.Set("sort", sort)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Posts []Post `json:"posts"`
	}
	path := "/submolts/" + url.PathEscape(name) + "/posts?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, "general", nil, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

func (c *Client) SearchPosts(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/search?"+q.Encode(), "general", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) GetPost(ctx context.Context, id string) (*Post, error) {
	var out struct {
		Post Post `json:"post"`
	}
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(id), "general", nil, &out); err != nil {
		return nil, err
	}
	return &out.Post, nil
}

// PostComments returns the full nested comment tree of a post.
func (c *Client) PostComments(ctx context.Context, postID string) ([]*Comment, error) {
	var out struct {
		Comments []*Comment `json:"comments"`
	}
	path := "/posts/" + url.PathEscape(postID) + "/comments"
	if err := c.do(ctx, http.MethodGet, path, "comments", nil, &out); err != nil {
		return nil, err
	}
	return out.Comments, nil
}

func (c *Client) CreatePost(ctx context.Context, submolt, title, content string) (*Post, error) {
	if err := c.courtesyDelay(ctx); err != nil {
		return nil, err
	}
	body := map[string]string{"submolt": submolt, "title": title, "content": content}
	var out struct {
		Post Post `json:"post"`
	}
	if err := c.do(ctx, http.MethodPost, "/posts", "posts", body, &out); err != nil {
		return nil, err
	}
	return &out.Post, nil
}

// CreateComment posts a top-level comment, or a reply when
// parentCommentID is non-empty.
func (c *Client) CreateComment(ctx context.Context, postID, parentCommentID, content string) (*Comment, error) {
	if err := c.courtesyDelay(ctx); err != nil {
		return nil, err
	}
	body := map[string]string{"content": content}
	if parentCommentID != "" {
		body["parent_id"] = parentCommentID
	}
	var out struct {
		Comment Comment `json:"comment"`
	}
	path := "/posts/" + url.PathEscape(postID) + "/comments"
	if err := c.do(ctx, http.MethodPost, path, "comments", body, &out); err != nil {
		return nil, err
	}
	return &out.Comment, nil
}

// VotePost casts an up/down vote on a post.
func (c *Client) VotePost(ctx context.Context, postID string, direction VoteDirection) error {
	if err := c.courtesyDelay(ctx); err != nil {
		return err
	}
	path := "/posts/" + url.PathEscape(postID) + "/" + string(direction) + "vote"
	return c.do(ctx, http.MethodPost, path, "votes", nil, nil)
}

func (c *Client) VoteComment(ctx context.Context, commentID string, direction VoteDirection) error {
	if err := c.courtesyDelay(ctx); err != nil {
		return err
	}
	path := "/comments/" + url.PathEscape(commentID) + "/" + string(direction) + "vote"
	return c.do(ctx, http.MethodPost, path, "votes", nil, nil)
}

func (c *Client) Follow(ctx context.Context, username string) error {
	return c.agentAction(ctx, username, "follow")
}

func (c *Client) Unfollow(ctx context.Context, username string) error {
	return c.agentAction(ctx, username, "unfollow")
}

func (c *Client) Subscribe(ctx context.Context, submolt string) error {
	return c.submoltAction(ctx, submolt, "subscribe")
}

func (c *Client) Unsubscribe(ctx context.Context, submolt string) error {
	return c.submoltAction(ctx, submolt, "unsubscribe")
}

func (c *Client) agentAction(ctx context.Context, username, verb string) error {
	if err := c.courtesyDelay(ctx); err != nil {
		return err
	}
	path := "/agents/" + url.PathEscape(username) + "/" + verb
	return c.do(ctx, http.MethodPost, path, "general", nil, nil)
}

func (c *Client) submoltAction(ctx context.Context, submolt, verb string) error {
	if err := c.courtesyDelay(ctx); err != nil {
		return err
	}
	path := "/submolts/" + url.PathEscape(submolt) + "/" + verb
	return c.do(ctx, http.MethodPost, path, "general", nil, nil)
}

// courtesyDelay spaces write requests out. This is politeness toward the
// shared platform limits, not a correctness mechanism.
func (c *Client) courtesyDelay(ctx context.Context) error {
	if c.writeDelay <= 0 {
		return nil
	}
	return c.sleep(ctx, c.writeDelay)
}

func (c *Client) do(ctx context.Context, method, path, resource string, body interface{}, out interface{}) error {
	if c.apiBase == "" {
		return fmt.Errorf("moltbook API base not configured")
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal moltbook request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, lastErr)
			logger.WarnCF("moltbook", "Retrying request", map[string]interface{}{
				"path":    path,
				"attempt": attempt,
				"delay":   delay.String(),
			})
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
		if err != nil {
			return fmt.Errorf("create moltbook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("send moltbook request: %w", err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read moltbook response: %w", readErr)
		}

		c.recordRateLimit(resource, resp.Header)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode moltbook response: %w", err)
			}
			return nil
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Resource:   resource,
			Message:    extractMessage(respBody),
			RetryAfter: parseRetryAfter(resp.Header),
		}

		// 5xx and 429 are worth retrying; everything else is final.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = apiErr
			continue
		}
		return apiErr
	}

	return lastErr
}

func backoffDelay(attempt int, lastErr error) time.Duration {
	var apiErr *APIError
	if asAPIError(lastErr, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return retryBaseDelay << (attempt - 1)
}

func asAPIError(err error, target **APIError) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*APIError); ok {
		*target = apiErr
		return true
	}
	return false
}

func (c *Client) recordRateLimit(resource string, h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	if remaining < 0 {
		remaining = 0
	}
	st := RateLimitState{
		Resource:  resource,
		Remaining: remaining,
	}
	if max, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		st.MaxRequests = max
	}
	if resetUnix, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		st.ResetAt = time.Unix(resetUnix, 0)
	}

	c.limitsMu.Lock()
	c.limits[resource] = st
	c.limitsMu.Unlock()
}

func parseRetryAfter(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func extractMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}
	if len(trimmed) > 500 {
		return trimmed[:500] + "..."
	}
	return trimmed
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
