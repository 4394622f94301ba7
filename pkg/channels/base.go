package channels

import (
	"context"
	"strings"
)

// Channel is an approval surface: it relays orchestrator events to a
// human and turns their commands into orchestrator calls.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	name      string
	running   bool
	allowList []string
}

func NewBaseChannel(name string, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, allowList: allowList}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running
}

// IsAllowed checks the sender against the allowlist. An empty list
// allows everyone. Entries match either the raw id, the id part of a
// compound "id|username" sender, or the username part.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && candidate == userPart) {
			return true
		}
	}

	return false
}

func (c *BaseChannel) setRunning(running bool) {
	c.running = running
}
