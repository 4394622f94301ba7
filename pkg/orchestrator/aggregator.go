package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/marcho78/moltvision/pkg/logger"
	"github.com/marcho78/moltvision/pkg/persona"
)

const (
	feedPageSize        = 20
	submoltPageSize     = 10
	maxPrioritySubmolts = 3
	maxInterestSearches = 3
	searchPageSize      = 10

	// fetchDelay is the courtesy pause between consecutive read
	// requests within one aggregation pass.
	fetchDelay = 500 * time.Millisecond
)

// Candidate is the normalized post shape all three aggregation sources
// produce.
type Candidate struct {
	ID           string
	Title        string
	Content      string
	Submolt      string
	Author       string
	Karma        int
	CommentCount int
	Source       string
}

// aggregate gathers candidates from the feed, the top-priority
// submolts, and interest searches, in that order. Each source fails
// independently; a dead source just contributes nothing.
func (o *Orchestrator) aggregate(ctx context.Context, p *persona.Persona) []Candidate {
	var out []Candidate
	seen := map[string]bool{}

	add := func(c Candidate) {
		if c.ID == "" || seen[c.ID] {
			return
		}
		seen[c.ID] = true
		out = append(out, c)
	}

	if o.haltCheck(ctx) {
		return out
	}
	posts, err := o.platform.Feed(ctx, "hot", feedPageSize)
	if err != nil {
		logger.WarnCF("aggregator", "feed fetch failed", map[string]interface{}{"error": err.Error()})
	}
	for _, post := range posts {
		add(Candidate{
			ID: post.ID, Title: post.Title, Content: post.Content,
			Submolt: post.Submolt, Author: post.Author,
			Karma: post.Karma, CommentCount: post.CommentCount,
			Source: "feed",
		})
	}

	for i, name := range topPrioritySubmolts(p.SubmoltPriorities, maxPrioritySubmolts) {
		if o.haltCheck(ctx) {
			return out
		}
		if i > 0 {
			if err := o.sleep(ctx, fetchDelay); err != nil {
				return out
			}
		}
		posts, err := o.platform.SubmoltPosts(ctx, name, "hot", submoltPageSize)
		if err != nil {
			logger.WarnCF("aggregator", "submolt fetch failed", map[string]interface{}{"submolt": name, "error": err.Error()})
			continue
		}
		for _, post := range posts {
			add(Candidate{
				ID: post.ID, Title: post.Title, Content: post.Content,
				Submolt: post.Submolt, Author: post.Author,
				Karma: post.Karma, CommentCount: post.CommentCount,
				Source: "submolt:" + name,
			})
		}
	}

	interests := p.Interests
	if len(interests) > maxInterestSearches {
		interests = interests[:maxInterestSearches]
	}
	for i, tag := range interests {
		if o.haltCheck(ctx) {
			return out
		}
		if i > 0 {
			if err := o.sleep(ctx, fetchDelay); err != nil {
				return out
			}
		}
		results, err := o.platform.SearchPosts(ctx, tag, searchPageSize)
		if err != nil {
			logger.WarnCF("aggregator", "search failed", map[string]interface{}{"query": tag, "error": err.Error()})
			continue
		}
		for _, r := range results {
			add(Candidate{
				ID: r.ID, Title: r.Title, Content: r.Snippet,
				Submolt: r.Submolt, Author: r.Author, Karma: r.Karma,
				Source: "search:" + tag,
			})
		}
	}

	return out
}

// topPrioritySubmolts returns up to n submolt names by descending
// priority, name order breaking ties so the result is deterministic.
func topPrioritySubmolts(priorities map[string]int, n int) []string {
	names := make([]string, 0, len(priorities))
	for name := range priorities {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if priorities[names[i]] != priorities[names[j]] {
			return priorities[names[i]] > priorities[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}
