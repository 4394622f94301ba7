package orchestrator

import (
	"context"
	"time"

	"github.com/marcho78/moltvision/pkg/bus"
	"github.com/marcho78/moltvision/pkg/logger"
	"github.com/marcho78/moltvision/pkg/persona"
	"github.com/marcho78/moltvision/pkg/store"
)

// Every limit check counts the ledger over a time window at the moment
// of the check. There are no cached counters anywhere.

func (o *Orchestrator) limitReached(kind string) {
	logger.InfoCF("limits", "limit reached", map[string]interface{}{"kind": kind})
	o.events.Publish(bus.Event{Type: bus.EventLimitReached, Message: kind})
}

// checkDailyLimit runs once at the top of a cycle. Only the global
// daily ceiling stops a whole cycle; the persona hourly caps gate
// individual action types through checkPerActionLimits.
func (o *Orchestrator) checkDailyLimit(ctx context.Context) (bool, error) {
	today, err := o.store.CountActionsToday(ctx, o.now())
	if err != nil {
		return false, err
	}
	if today >= o.opts.MaxActionsPerDay {
		o.limitReached("max_actions_per_day")
		return false, nil
	}
	return true, nil
}

// checkPerActionLimits re-derives the persona hourly caps immediately
// before an action, so a cap reached mid-cycle stops further spend.
func (o *Orchestrator) checkPerActionLimits(ctx context.Context, p *persona.Persona, actionType store.ActionType) (bool, error) {
	now := o.now()
	switch actionType {
	case store.ActionCreatePost:
		n, err := o.store.CountEngagementsInWindow(ctx, now, time.Hour, store.ActionCreatePost)
		if err != nil {
			return false, err
		}
		if n >= p.Rules.MaxPostsPerHour {
			o.limitReached("max_posts_per_hour")
			return false, nil
		}
	case store.ActionCreateComment, store.ActionReply:
		comments, err := o.store.CountEngagementsInWindow(ctx, now, time.Hour, store.ActionCreateComment)
		if err != nil {
			return false, err
		}
		replies, err := o.store.CountEngagementsInWindow(ctx, now, time.Hour, store.ActionReply)
		if err != nil {
			return false, err
		}
		if comments+replies >= p.Rules.MaxCommentsPerHour {
			o.limitReached("max_comments_per_hour")
			return false, nil
		}
	}
	return true, nil
}
