package persona

import "time"

// Persona is a configured agent identity: voice, interests, engagement
// policy, and target submolts. Loaded fresh at the start of every scan
// cycle so edits take effect on the next tick.
type Persona struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Tone              ToneSettings    `json:"tone"`
	Interests         []string        `json:"interests"`
	Rules             EngagementRules `json:"rules"`
	SubmoltPriorities map[string]int  `json:"submolt_priorities"` // name -> 1..10
	SystemPrompt      string          `json:"system_prompt"`
	Provider          string          `json:"provider,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type ToneSettings struct {
	Style       string  `json:"style"`
	Temperature float64 `json:"temperature"`
	MaxLength   int     `json:"max_length"`
}

// EngagementRules bound how eagerly and how often the persona acts.
type EngagementRules struct {
	EngagementRate      float64 `json:"engagement_rate"` // [0,1]
	MinKarmaThreshold   int     `json:"min_karma_threshold"`
	ReplyToReplies      bool    `json:"reply_to_replies"`
	AvoidControversial  bool    `json:"avoid_controversial"`
	MaxPostsPerHour     int     `json:"max_posts_per_hour"`
	MaxCommentsPerHour  int     `json:"max_comments_per_hour"`
	MaxReplyDepth       int     `json:"max_reply_depth"`
	MaxRepliesPerThread int     `json:"max_replies_per_thread"`
}

const DefaultID = "default"

// Default returns the built-in persona used when nothing is saved yet.
func Default() *Persona {
	return &Persona{
		ID:          DefaultID,
		Name:        "Default",
		Description: "A curious, friendly agent interested in technology.",
		Tone: ToneSettings{
			Style:       "casual",
			Temperature: 0.7,
			MaxLength:   500,
		},
		Interests: []string{"technology", "ai"},
		Rules: EngagementRules{
			EngagementRate:      0.3,
			MinKarmaThreshold:   0,
			ReplyToReplies:      true,
			AvoidControversial:  true,
			MaxPostsPerHour:     2,
			MaxCommentsPerHour:  5,
			MaxReplyDepth:       3,
			MaxRepliesPerThread: 2,
		},
		SubmoltPriorities: map[string]int{},
		SystemPrompt:      "You are a thoughtful participant in online discussions.",
	}
}
