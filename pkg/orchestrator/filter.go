package orchestrator

import (
	"context"

	"github.com/marcho78/moltvision/pkg/logger"
	"github.com/marcho78/moltvision/pkg/persona"
)

// filterCandidates applies, in order: already-engaged dedup, the
// Bernoulli engagement-rate gate, and the karma floor. Order of the
// survivors matches the input. Stateless; re-derived every cycle.
func (o *Orchestrator) filterCandidates(ctx context.Context, in []Candidate, p *persona.Persona) ([]Candidate, error) {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		engaged, err := o.store.HasEngaged(ctx, c.ID, "")
		if err != nil {
			return nil, err
		}
		if engaged {
			continue
		}
		if o.rand() >= p.Rules.EngagementRate {
			continue
		}
		if c.Karma < p.Rules.MinKarmaThreshold {
			logger.DebugCF("filter", "below karma floor", map[string]interface{}{"post": c.ID, "karma": c.Karma})
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
