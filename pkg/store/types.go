package store

import "time"

// ActionStatus is the lifecycle state of a queued action.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusApproved  ActionStatus = "approved"
	StatusExecuting ActionStatus = "executing"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
	StatusRejected  ActionStatus = "rejected"
)

// ActionType identifies what an action does when executed.
type ActionType string

const (
	ActionCreatePost    ActionType = "create_post"
	ActionCreateComment ActionType = "create_comment"
	ActionReply         ActionType = "reply"
	ActionUpvote        ActionType = "upvote"
	ActionDownvote      ActionType = "downvote"
	ActionFollow        ActionType = "follow"
	ActionUnfollow      ActionType = "unfollow"
	ActionSubscribe     ActionType = "subscribe"
	ActionUnsubscribe   ActionType = "unsubscribe"
)

// ActionPayload is everything the executor needs to perform the action.
// Which fields are set depends on Type.
type ActionPayload struct {
	Type        ActionType `json:"type"`
	PostID      string     `json:"post_id,omitempty"`
	CommentID   string     `json:"comment_id,omitempty"`
	SubmoltName string     `json:"submolt_name,omitempty"`
	Title       string     `json:"title,omitempty"`
	Content     string     `json:"content,omitempty"`
	TargetUser  string     `json:"target_user,omitempty"`
}

// Action is one queued (or executed) engagement decision. Terminal rows
// are immutable.
type Action struct {
	ID          string
	Payload     ActionPayload
	Status      ActionStatus
	Priority    int
	Reasoning   string
	Context     string
	LLMProvider string
	TokensUsed  int
	Cost        float64
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// EngagementRecord is one append-only ledger row. The ledger is the only
// source of truth for dedup and rate-window counts.
type EngagementRecord struct {
	ID          string
	PostID      string
	CommentID   string
	ActionType  ActionType
	ContentSent string
	PersonaID   string
	Reasoning   string
	CreatedAt   time.Time
}

// ReplyInboxEntry is a reply someone left on one of the agent's comments
// or posts, discovered by the reply monitor.
type ReplyInboxEntry struct {
	ID                   string
	ParentPostID         string
	ParentCommentID      string
	AgentOriginalContent string
	ReplyCommentID       string
	ReplyAuthor          string
	ReplyContent         string
	Depth                int
	DiscoveredAt         time.Time
	IsRead               bool
	AgentResponded       bool
}

// validTransitions is the forward-only status graph.
var validTransitions = map[ActionStatus][]ActionStatus{
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusExecuting},
	StatusExecuting: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to ActionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
