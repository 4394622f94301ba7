package orchestrator

import (
	"context"
	"fmt"

	"github.com/marcho78/moltvision/pkg/bus"
	"github.com/marcho78/moltvision/pkg/logger"
	"github.com/marcho78/moltvision/pkg/moltbook"
	"github.com/marcho78/moltvision/pkg/store"
)

// enqueueAction creates a pending action. In autopilot mode it is
// approved and executed in the same call; in semi-auto it waits for a
// human.
func (o *Orchestrator) enqueueAction(ctx context.Context, payload store.ActionPayload, reasoning, actionContext string, priority int, u callUsage) error {
	id, err := o.store.InsertAction(ctx, payload, reasoning, actionContext, o.llm.Name(), priority, u.tokens, u.cost)
	if err != nil {
		return err
	}
	logger.InfoCF("queue", "action queued", map[string]interface{}{
		"id": id, "type": string(payload.Type), "priority": priority,
	})

	if o.Mode() == ModeAutopilot {
		if err := o.store.UpdateActionStatus(ctx, id, store.StatusApproved, nil); err != nil {
			return err
		}
		return o.executeAction(ctx, id, payload)
	}

	o.events.Publish(bus.Event{Type: bus.EventActionPending, Message: reasoning, Fields: map[string]interface{}{
		"id": id, "type": string(payload.Type),
	}})
	return nil
}

// ApproveAction marks the given action approved, then executes the
// highest-priority oldest approved action overall, which is not
// necessarily the one just approved. An edit is applied only when the
// dispatched action has the same type as the approved one.
func (o *Orchestrator) ApproveAction(ctx context.Context, id, editedContent string) error {
	approved, err := o.store.GetAction(ctx, id)
	if err != nil {
		return err
	}
	if err := o.store.UpdateActionStatus(ctx, id, store.StatusApproved, nil); err != nil {
		return err
	}

	next, err := o.store.NextApprovedByPriority(ctx)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	payload := next.Payload
	if editedContent != "" && next.Payload.Type == approved.Payload.Type {
		payload.Content = truncateComment(editedContent)
	}
	return o.executeAction(ctx, next.ID, payload)
}

// RejectAction moves a pending action to rejected.
func (o *Orchestrator) RejectAction(ctx context.Context, id string) error {
	return o.store.UpdateActionStatus(ctx, id, store.StatusRejected, nil)
}

// RejectAllPending bulk-rejects every pending action.
func (o *Orchestrator) RejectAllPending(ctx context.Context) (int, error) {
	return o.store.RejectAllPending(ctx)
}

// PendingActions lists actions waiting for approval.
func (o *Orchestrator) PendingActions(ctx context.Context) ([]*store.Action, error) {
	return o.store.ListActionsByStatus(ctx, store.StatusPending, 50)
}

// executeAction drives approved -> executing -> completed/failed,
// appending a ledger row and an audit entry on success.
func (o *Orchestrator) executeAction(ctx context.Context, id string, payload store.ActionPayload) error {
	if err := o.store.UpdateActionStatus(ctx, id, store.StatusExecuting, nil); err != nil {
		return err
	}

	postID, execErr := o.dispatch(ctx, payload)
	if execErr != nil {
		if err := o.store.UpdateActionStatus(ctx, id, store.StatusFailed, &store.StatusExtra{Error: execErr.Error()}); err != nil {
			logger.ErrorCF("queue", "failed to record failure", map[string]interface{}{"id": id, "error": err.Error()})
		}
		logger.WarnCF("queue", "action failed", map[string]interface{}{"id": id, "type": string(payload.Type), "error": execErr.Error()})
		return execErr
	}

	if err := o.store.UpdateActionStatus(ctx, id, store.StatusCompleted, nil); err != nil {
		return err
	}
	if postID != "" || payload.Type == store.ActionCreatePost {
		rec := store.EngagementRecord{
			PostID:      postID,
			CommentID:   payload.CommentID,
			ActionType:  payload.Type,
			ContentSent: payload.Content,
			PersonaID:   o.opts.PersonaID,
		}
		if err := o.store.AppendEngagement(ctx, rec); err != nil {
			logger.ErrorCF("queue", "ledger append failed", map[string]interface{}{"id": id, "error": err.Error()})
		}
	}
	if err := o.store.AppendAudit(ctx, "action_executed", fmt.Sprintf("%s %s", payload.Type, postID)); err != nil {
		logger.WarnCF("queue", "audit append failed", map[string]interface{}{"error": err.Error()})
	}
	o.events.Publish(bus.Event{Type: bus.EventActionExecuted, Fields: map[string]interface{}{
		"id": id, "type": string(payload.Type), "post_id": postID,
	}})
	logger.InfoCF("queue", "action executed", map[string]interface{}{"id": id, "type": string(payload.Type)})
	return nil
}

// dispatch maps an action payload onto the platform client and returns
// the post id the action touched. A create_post payload carries no
// post id; the platform assigns one on creation.
func (o *Orchestrator) dispatch(ctx context.Context, payload store.ActionPayload) (string, error) {
	switch payload.Type {
	case store.ActionCreatePost:
		post, err := o.platform.CreatePost(ctx, payload.SubmoltName, payload.Title, payload.Content)
		if err != nil {
			return "", err
		}
		if post == nil {
			return "", nil
		}
		return post.ID, nil
	case store.ActionCreateComment:
		_, err := o.platform.CreateComment(ctx, payload.PostID, "", payload.Content)
		return payload.PostID, err
	case store.ActionReply:
		_, err := o.platform.CreateComment(ctx, payload.PostID, payload.CommentID, payload.Content)
		return payload.PostID, err
	case store.ActionUpvote:
		if payload.CommentID != "" {
			return payload.PostID, o.platform.VoteComment(ctx, payload.CommentID, moltbook.VoteUp)
		}
		return payload.PostID, o.platform.VotePost(ctx, payload.PostID, moltbook.VoteUp)
	case store.ActionDownvote:
		if payload.CommentID != "" {
			return payload.PostID, o.platform.VoteComment(ctx, payload.CommentID, moltbook.VoteDown)
		}
		return payload.PostID, o.platform.VotePost(ctx, payload.PostID, moltbook.VoteDown)
	case store.ActionFollow:
		return "", o.platform.Follow(ctx, payload.TargetUser)
	case store.ActionUnfollow:
		return "", o.platform.Unfollow(ctx, payload.TargetUser)
	case store.ActionSubscribe:
		return "", o.platform.Subscribe(ctx, payload.SubmoltName)
	case store.ActionUnsubscribe:
		return "", o.platform.Unsubscribe(ctx, payload.SubmoltName)
	default:
		return "", fmt.Errorf("unknown action type %q", payload.Type)
	}
}
