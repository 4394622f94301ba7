package orchestrator

import (
	"context"
	"time"

	"github.com/marcho78/moltvision/pkg/logger"
	"github.com/marcho78/moltvision/pkg/moltbook"
	"github.com/marcho78/moltvision/pkg/persona"
	"github.com/marcho78/moltvision/pkg/store"
)

const (
	recentPostWindow = 24 * time.Hour
	recentPostLimit  = 5
	replyBatchSize   = 3
)

// monitorReplies walks the comment trees of recently-engaged posts,
// records replies addressed to the agent, then works through a small
// batch of unresponded inbox entries.
func (o *Orchestrator) monitorReplies(ctx context.Context, p *persona.Persona) error {
	postIDs, err := o.store.RecentAgentPostIDs(ctx, o.now(), recentPostWindow, recentPostLimit)
	if err != nil {
		return err
	}

	for _, postID := range postIDs {
		if o.haltCheck(ctx) {
			return ctx.Err()
		}
		comments, err := o.platform.PostComments(ctx, postID)
		if err != nil {
			logger.WarnCF("replies", "comment tree fetch failed", map[string]interface{}{"post": postID, "error": err.Error()})
			continue
		}
		visited := map[string]bool{}
		for _, c := range comments {
			o.walkCommentTree(ctx, postID, c, 0, visited)
		}
	}

	return o.respondToInbox(ctx, p)
}

// walkCommentTree records every immediate child of an agent comment
// that is authored by someone else. Traversal continues through all
// children regardless of ownership. The visited guard protects against
// cycles in externally-supplied data.
func (o *Orchestrator) walkCommentTree(ctx context.Context, postID string, c *moltbook.Comment, depth int, visited map[string]bool) {
	if c == nil || visited[c.ID] {
		return
	}
	visited[c.ID] = true

	agentName := o.platform.Username()
	if c.Author == agentName {
		for _, child := range c.Replies {
			if child == nil || child.Author == agentName {
				continue
			}
			inserted, err := o.store.UpsertInboxEntry(ctx, store.ReplyInboxEntry{
				ParentPostID:         postID,
				ParentCommentID:      c.ID,
				AgentOriginalContent: c.Content,
				ReplyCommentID:       child.ID,
				ReplyAuthor:          child.Author,
				ReplyContent:         child.Content,
				Depth:                depth + 1,
			})
			if err != nil {
				logger.WarnCF("replies", "inbox upsert failed", map[string]interface{}{"comment": child.ID, "error": err.Error()})
				continue
			}
			if inserted {
				logger.InfoCF("replies", "reply discovered", map[string]interface{}{"from": child.Author, "post": postID})
			}
		}
	}

	for _, child := range c.Replies {
		o.walkCommentTree(ctx, postID, child, depth+1, visited)
	}
}

// respondToInbox processes a bounded batch of unresponded entries. An
// entry is finalized whether or not a reply was actually sent, so it is
// never reconsidered.
func (o *Orchestrator) respondToInbox(ctx context.Context, p *persona.Persona) error {
	entries, err := o.store.ListUnrespondedInbox(ctx, replyBatchSize)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if o.haltCheck(ctx) {
			return ctx.Err()
		}
		if err := o.handleInboxEntry(ctx, e, p); err != nil {
			logger.WarnCF("replies", "inbox entry failed", map[string]interface{}{"entry": e.ID, "error": err.Error()})
		}
		if err := o.store.MarkInboxResponded(ctx, e.ReplyCommentID); err != nil {
			logger.ErrorCF("replies", "mark responded failed", map[string]interface{}{"entry": e.ID, "error": err.Error()})
		}
	}
	return nil
}

func (o *Orchestrator) handleInboxEntry(ctx context.Context, e *store.ReplyInboxEntry, p *persona.Persona) error {
	allowed, err := o.checkPerActionLimits(ctx, p, store.ActionReply)
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}

	var u callUsage
	verdict, err := o.evaluateReply(ctx, e, p, &u)
	if err != nil {
		return err
	}
	if !verdict.ShouldReply {
		logger.DebugCF("replies", "not replying", map[string]interface{}{"entry": e.ID, "reason": verdict.Reasoning})
		return nil
	}

	payload, err := o.generateReply(ctx, e, p, &u)
	if err != nil {
		return err
	}
	if payload == nil {
		return nil
	}
	return o.enqueueAction(ctx, *payload, verdict.Reasoning, "reply to "+e.ReplyAuthor, 3, u)
}
