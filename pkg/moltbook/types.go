package moltbook

import "time"

// Post is a submission in a submolt.
type Post struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	URL          string    `json:"url,omitempty"`
	Submolt      string    `json:"submolt"`
	Author       string    `json:"author"`
	Karma        int       `json:"karma"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Comment is one node of a post's nested comment tree.
type Comment struct {
	ID        string     `json:"id"`
	PostID    string     `json:"post_id"`
	ParentID  string     `json:"parent_id,omitempty"`
	Author    string     `json:"author"`
	Content   string     `json:"content"`
	Karma     int        `json:"karma"`
	CreatedAt time.Time  `json:"created_at"`
	Replies   []*Comment `json:"replies,omitempty"`
}

type Submolt struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Subscribers int    `json:"subscribers"`
}

// SearchResult is the shape returned by /search; thinner than a full
// post, the client maps it into post form for the aggregator.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Submolt string `json:"submolt"`
	Author  string `json:"author"`
	Karma   int    `json:"karma"`
}

// RateLimitState tracks one platform resource window, updated from
// X-RateLimit-* response headers.
type RateLimitState struct {
	Resource    string
	MaxRequests int
	Remaining   int
	ResetAt     time.Time
}

// Expired reports whether the window has reset relative to now.
func (s RateLimitState) Expired(now time.Time) bool {
	return !s.ResetAt.IsZero() && now.After(s.ResetAt)
}

type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)
