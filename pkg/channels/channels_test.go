package channels

import (
	"context"
	"strings"
	"testing"

	"github.com/marcho78/moltvision/pkg/orchestrator"
	"github.com/marcho78/moltvision/pkg/store"
)

type fakeController struct {
	mode     orchestrator.Mode
	approved []string
	rejected []string
	stopped  bool
	resets   int
}

func (f *fakeController) Mode() orchestrator.Mode { return f.mode }
func (f *fakeController) SetMode(m orchestrator.Mode) error {
	if f.stopped && m != orchestrator.ModeOff {
		return orchestrator.ErrEmergencyStopActive
	}
	f.mode = m
	return nil
}
func (f *fakeController) ApproveAction(ctx context.Context, id, edited string) error {
	f.approved = append(f.approved, id+"|"+edited)
	return nil
}
func (f *fakeController) RejectAction(ctx context.Context, id string) error {
	f.rejected = append(f.rejected, id)
	return nil
}
func (f *fakeController) PendingActions(ctx context.Context) ([]*store.Action, error) {
	return []*store.Action{{ID: "a1", Priority: 4, Reasoning: "looks good", Payload: store.ActionPayload{Type: store.ActionUpvote}}}, nil
}
func (f *fakeController) EmergencyStop(ctx context.Context) error {
	f.stopped = true
	return nil
}
func (f *fakeController) Reset() { f.resets++ }

func newTestChannel(ctrl Controller) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", nil),
		ctrl:        ctrl,
	}
}

func TestAllowlistMatching(t *testing.T) {
	c := NewBaseChannel("discord", []string{"123", "@alice"})

	cases := []struct {
		sender string
		want   bool
	}{
		{"123", true},
		{"123|bob", true},
		{"999|alice", true},
		{"999|mallory", false},
		{"999", false},
	}
	for _, tc := range cases {
		if got := c.IsAllowed(tc.sender); got != tc.want {
			t.Errorf("IsAllowed(%q) = %v, want %v", tc.sender, got, tc.want)
		}
	}

	open := NewBaseChannel("discord", nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allowlist should allow everyone")
	}
}

func TestApproveCommandWithEdit(t *testing.T) {
	ctrl := &fakeController{}
	c := newTestChannel(ctrl)

	reply := c.runCommand("!approve a1 better wording here")
	if !strings.Contains(reply, "Approved") {
		t.Errorf("reply = %q", reply)
	}
	if len(ctrl.approved) != 1 || ctrl.approved[0] != "a1|better wording here" {
		t.Errorf("approved = %v", ctrl.approved)
	}
}

func TestRejectCommand(t *testing.T) {
	ctrl := &fakeController{}
	c := newTestChannel(ctrl)

	c.runCommand("!reject a7")
	if len(ctrl.rejected) != 1 || ctrl.rejected[0] != "a7" {
		t.Errorf("rejected = %v", ctrl.rejected)
	}
}

func TestStopAndModeCommands(t *testing.T) {
	ctrl := &fakeController{mode: orchestrator.ModeSemiAuto}
	c := newTestChannel(ctrl)

	c.runCommand("!stop")
	if !ctrl.stopped {
		t.Fatal("stop not forwarded")
	}

	reply := c.runCommand("!mode autopilot")
	if !strings.Contains(reply, "failed") {
		t.Errorf("mode change during stop should report failure, got %q", reply)
	}

	c.runCommand("!reset")
	if ctrl.resets != 1 {
		t.Errorf("resets = %d", ctrl.resets)
	}
	ctrl.stopped = false
	reply = c.runCommand("!mode autopilot")
	if !strings.Contains(reply, "Mode set") {
		t.Errorf("reply = %q", reply)
	}
}

func TestPendingCommandLists(t *testing.T) {
	c := newTestChannel(&fakeController{})

	reply := c.runCommand("!pending")
	if !strings.Contains(reply, "a1") || !strings.Contains(reply, "upvote") {
		t.Errorf("reply = %q", reply)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	c := newTestChannel(&fakeController{})
	if reply := c.runCommand("!dance"); reply != "" {
		t.Errorf("reply = %q, want empty", reply)
	}
}
