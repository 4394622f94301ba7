package moltbook

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		rateLimited bool
		authFailed  bool
		notFound    bool
		serverError bool
	}{
		{"429", &APIError{StatusCode: 429, Resource: "comments"}, true, false, false, false},
		{"401", &APIError{StatusCode: 401, Resource: "general"}, false, true, false, false},
		{"403", &APIError{StatusCode: 403, Resource: "posts"}, false, true, false, false},
		{"404", &APIError{StatusCode: 404, Resource: "posts"}, false, false, true, false},
		{"500", &APIError{StatusCode: 500, Resource: "general"}, false, false, false, true},
		{"503", &APIError{StatusCode: 503, Resource: "general"}, false, false, false, true},
		{"plain error", errors.New("dial tcp: refused"), false, false, false, false},
		{"nil", nil, false, false, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.rateLimited, IsRateLimited(tc.err))
			assert.Equal(t, tc.authFailed, IsAuthFailed(tc.err))
			assert.Equal(t, tc.notFound, IsNotFound(tc.err))
			assert.Equal(t, tc.serverError, IsServerError(tc.err))
		})
	}
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	inner := &APIError{StatusCode: 429, Resource: "votes", RetryAfter: 3 * time.Second}
	wrapped := fmt.Errorf("vote post: %w", inner)

	assert.True(t, IsRateLimited(wrapped))
	assert.False(t, IsServerError(wrapped))

	var apiErr *APIError
	assert.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, 3*time.Second, apiErr.RetryAfter)
}

func TestErrorMessageIncludesRetryAfter(t *testing.T) {
	err := &APIError{StatusCode: 429, Resource: "posts", Message: "slow down", RetryAfter: 7 * time.Second}
	assert.Contains(t, err.Error(), "retry_after=7s")
	assert.Contains(t, err.Error(), "posts")

	bare := &APIError{StatusCode: 500, Resource: "general", Message: "boom"}
	assert.NotContains(t, bare.Error(), "retry_after")
}
