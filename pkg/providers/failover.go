package providers

import (
	"context"
	"fmt"

	"github.com/marcho78/moltvision/pkg/logger"
)

// failoverProvider tries the primary provider and transparently retries
// the same request against the fallback when the primary fails. The
// response reports which provider actually served it.
type failoverProvider struct {
	primary  LLMProvider
	fallback LLMProvider
}

func NewFailoverProvider(primary, fallback LLMProvider) LLMProvider {
	return &failoverProvider{primary: primary, fallback: fallback}
}

func (p *failoverProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	resp, primaryErr := p.primary.Chat(ctx, messages, model, options)
	if primaryErr == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		// Cancellation is not a provider failure; do not burn the fallback.
		return nil, primaryErr
	}

	logger.WarnCF("providers", "Primary provider failed, trying fallback", map[string]interface{}{
		"primary":  p.primary.Name(),
		"fallback": p.fallback.Name(),
		"error":    primaryErr.Error(),
	})

	// The primary's model name may not exist on the fallback; let the
	// fallback resolve its own default instead.
	resp, fallbackErr := p.fallback.Chat(ctx, messages, "", options)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary %s failed (%v); fallback %s failed: %w", p.primary.Name(), primaryErr, p.fallback.Name(), fallbackErr)
	}
	return resp, nil
}

func (p *failoverProvider) GetDefaultModel() string {
	return p.primary.GetDefaultModel()
}

func (p *failoverProvider) Name() string {
	return p.primary.Name()
}
