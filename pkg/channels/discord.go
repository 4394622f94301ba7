package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/marcho78/moltvision/pkg/bus"
	"github.com/marcho78/moltvision/pkg/config"
	"github.com/marcho78/moltvision/pkg/logger"
	"github.com/marcho78/moltvision/pkg/orchestrator"
	"github.com/marcho78/moltvision/pkg/store"
)

// Controller is the slice of the orchestrator the approval surface
// drives.
type Controller interface {
	Mode() orchestrator.Mode
	SetMode(mode orchestrator.Mode) error
	ApproveAction(ctx context.Context, id, editedContent string) error
	RejectAction(ctx context.Context, id string) error
	PendingActions(ctx context.Context) ([]*store.Action, error)
	EmergencyStop(ctx context.Context) error
	Reset()
}

// DiscordChannel notifies a Discord channel about pending actions and
// accepts approval commands from allowed users.
type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
	ctrl    Controller
	events  *bus.EventBus

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewDiscordChannel(cfg config.DiscordConfig, ctrl Controller, events *bus.EventBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", cfg.AllowFrom),
		session:     session,
		config:      cfg,
		ctrl:        ctrl,
		events:      events,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.relayEvents(loopCtx)

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

// relayEvents forwards orchestrator events worth a human's attention to
// the configured notify channel.
func (c *DiscordChannel) relayEvents(ctx context.Context) {
	for {
		evt, ok := c.events.Subscribe(ctx)
		if !ok {
			return
		}
		var text string
		switch evt.Type {
		case bus.EventActionPending:
			text = fmt.Sprintf("Action pending approval: `%v` (%v)\nReasoning: %s\nUse `!approve %v` or `!reject %v`",
				evt.Fields["id"], evt.Fields["type"], evt.Message, evt.Fields["id"], evt.Fields["id"])
		case bus.EventEmergencyStop:
			text = fmt.Sprintf("EMERGENCY STOP engaged. %v pending actions rejected.", evt.Fields["rejected"])
		case bus.EventLimitReached:
			text = fmt.Sprintf("Rate limit reached: %s", evt.Message)
		case bus.EventModeChanged:
			text = fmt.Sprintf("Mode changed to %s", evt.Message)
		default:
			continue
		}
		c.notify(text)
	}
}

func (c *DiscordChannel) notify(text string) {
	if c.config.NotifyChannelID == "" || !c.IsRunning() {
		return
	}
	if _, err := c.session.ChannelMessageSend(c.config.NotifyChannelID, text); err != nil {
		logger.WarnCF("discord", "notify failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	senderID := m.Author.ID + "|" + m.Author.Username
	if !c.IsAllowed(senderID) {
		return
	}
	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, "!") {
		return
	}

	reply := c.runCommand(content)
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		logger.WarnCF("discord", "reply failed", map[string]interface{}{"error": err.Error()})
	}
}

// runCommand parses one bang-command and applies it. The returned text
// is sent back to the user.
func (c *DiscordChannel) runCommand(content string) string {
	ctx := context.Background()
	fields := strings.Fields(content)
	switch fields[0] {
	case "!approve":
		if len(fields) < 2 {
			return "Usage: !approve <id> [edited content]"
		}
		edited := ""
		if len(fields) > 2 {
			edited = strings.Join(fields[2:], " ")
		}
		if err := c.ctrl.ApproveAction(ctx, fields[1], edited); err != nil {
			return "Approve failed: " + err.Error()
		}
		return "Approved " + fields[1]
	case "!reject":
		if len(fields) < 2 {
			return "Usage: !reject <id>"
		}
		if err := c.ctrl.RejectAction(ctx, fields[1]); err != nil {
			return "Reject failed: " + err.Error()
		}
		return "Rejected " + fields[1]
	case "!pending":
		actions, err := c.ctrl.PendingActions(ctx)
		if err != nil {
			return "Error: " + err.Error()
		}
		if len(actions) == 0 {
			return "No actions pending."
		}
		var b strings.Builder
		for _, a := range actions {
			fmt.Fprintf(&b, "`%s` %s p%d: %s\n", a.ID, a.Payload.Type, a.Priority, a.Reasoning)
		}
		return b.String()
	case "!stop":
		if err := c.ctrl.EmergencyStop(ctx); err != nil {
			return "Stop failed: " + err.Error()
		}
		return "Emergency stop engaged."
	case "!reset":
		c.ctrl.Reset()
		return "Emergency stop cleared. Mode is off."
	case "!mode":
		if len(fields) < 2 {
			return "Current mode: " + string(c.ctrl.Mode())
		}
		if err := c.ctrl.SetMode(orchestrator.Mode(fields[1])); err != nil {
			return "Mode change failed: " + err.Error()
		}
		return "Mode set to " + fields[1]
	default:
		return ""
	}
}
