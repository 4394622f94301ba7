package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s *Store, payload ActionPayload, priority int) string {
	t.Helper()
	id, err := s.InsertAction(context.Background(), payload, "because", "", "openrouter", priority, 0, 0)
	if err != nil {
		t.Fatalf("InsertAction: %v", err)
	}
	return id
}

func TestActionLifecycleHappyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "p1"}, 5)

	a, err := s.GetAction(ctx, id)
	if err != nil {
		t.Fatalf("GetAction: %v", err)
	}
	if a.Status != StatusPending {
		t.Fatalf("status = %s, want pending", a.Status)
	}
	if a.Payload.PostID != "p1" || a.Payload.Type != ActionUpvote {
		t.Fatalf("payload round trip: %+v", a.Payload)
	}

	for _, next := range []ActionStatus{StatusApproved, StatusExecuting, StatusCompleted} {
		if err := s.UpdateActionStatus(ctx, id, next, nil); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	a, _ = s.GetAction(ctx, id)
	if a.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", a.Status)
	}
	if a.CompletedAt.IsZero() {
		t.Error("CompletedAt should be set on completion")
	}
}

func TestTransitionGuardRejectsBackwardMoves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, s, ActionPayload{Type: ActionCreateComment, PostID: "p2", Content: "hi"}, 0)

	// pending cannot jump straight to executing.
	err := s.UpdateActionStatus(ctx, id, StatusExecuting, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending->executing err = %v, want ErrInvalidTransition", err)
	}

	if err := s.UpdateActionStatus(ctx, id, StatusApproved, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// approved cannot go back to pending (no path into pending at all).
	if err := s.UpdateActionStatus(ctx, id, StatusPending, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approved->pending err = %v, want ErrInvalidTransition", err)
	}
	// approved cannot skip to completed.
	if err := s.UpdateActionStatus(ctx, id, StatusCompleted, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approved->completed err = %v, want ErrInvalidTransition", err)
	}
}

func TestTerminalActionsAreImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "p3"}, 0)
	if err := s.UpdateActionStatus(ctx, id, StatusRejected, nil); err != nil {
		t.Fatalf("reject: %v", err)
	}
	for _, next := range []ActionStatus{StatusApproved, StatusExecuting, StatusCompleted, StatusFailed} {
		if err := s.UpdateActionStatus(ctx, id, next, nil); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("rejected->%s err = %v, want ErrInvalidTransition", next, err)
		}
	}
}

func TestFailedRecordsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, s, ActionPayload{Type: ActionReply, PostID: "p4", Content: "x"}, 0)
	_ = s.UpdateActionStatus(ctx, id, StatusApproved, nil)
	_ = s.UpdateActionStatus(ctx, id, StatusExecuting, nil)
	if err := s.UpdateActionStatus(ctx, id, StatusFailed, &StatusExtra{Error: "post not found"}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	a, _ := s.GetAction(ctx, id)
	if a.Error != "post not found" {
		t.Errorf("error = %q", a.Error)
	}
}

func TestNextApprovedByPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "low"}, 2)
	high := mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "high"}, 8)
	mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "still-pending"}, 10)

	_ = s.UpdateActionStatus(ctx, low, StatusApproved, nil)
	_ = s.UpdateActionStatus(ctx, high, StatusApproved, nil)

	next, err := s.NextApprovedByPriority(ctx)
	if err != nil {
		t.Fatalf("NextApprovedByPriority: %v", err)
	}
	if next == nil || next.ID != high {
		t.Fatalf("next = %+v, want the priority-8 action", next)
	}

	_ = s.UpdateActionStatus(ctx, high, StatusExecuting, nil)
	next, _ = s.NextApprovedByPriority(ctx)
	if next == nil || next.ID != low {
		t.Fatalf("next = %+v, want the priority-2 action", next)
	}
}

func TestRejectAllPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "a"}, 0)
	mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "b"}, 0)
	done := mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "c"}, 0)
	_ = s.UpdateActionStatus(ctx, done, StatusApproved, nil)

	n, err := s.RejectAllPending(ctx)
	if err != nil {
		t.Fatalf("RejectAllPending: %v", err)
	}
	if n != 2 {
		t.Fatalf("rejected %d, want 2", n)
	}
	a, _ := s.GetAction(ctx, done)
	if a.Status != StatusApproved {
		t.Errorf("approved action was touched: %s", a.Status)
	}
}

func TestCountActionsTodayExcludesRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "a"}, 0)
	rejected := mustInsert(t, s, ActionPayload{Type: ActionUpvote, PostID: "b"}, 0)
	_ = s.UpdateActionStatus(ctx, rejected, StatusRejected, nil)

	n, err := s.CountActionsToday(ctx, time.Now())
	if err != nil {
		t.Fatalf("CountActionsToday: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestLedgerHasEngagedAndWindowCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	recs := []EngagementRecord{
		{PostID: "p1", ActionType: ActionUpvote, PersonaID: "default", CreatedAt: now.Add(-10 * time.Minute)},
		{PostID: "p2", ActionType: ActionCreateComment, ContentSent: "nice", PersonaID: "default", CreatedAt: now.Add(-30 * time.Minute)},
		{PostID: "p3", ActionType: ActionCreatePost, PersonaID: "default", CreatedAt: now.Add(-2 * time.Hour)},
	}
	for _, r := range recs {
		if err := s.AppendEngagement(ctx, r); err != nil {
			t.Fatalf("AppendEngagement: %v", err)
		}
	}

	got, _ := s.HasEngaged(ctx, "p1", "")
	if !got {
		t.Error("HasEngaged(p1, any) = false")
	}
	got, _ = s.HasEngaged(ctx, "p1", ActionCreateComment)
	if got {
		t.Error("HasEngaged(p1, create_comment) = true, no such record")
	}
	got, _ = s.HasEngaged(ctx, "p9", "")
	if got {
		t.Error("HasEngaged(p9) = true for untouched post")
	}

	n, _ := s.CountEngagementsInWindow(ctx, now, time.Hour, "")
	if n != 2 {
		t.Errorf("window count = %d, want 2", n)
	}
	n, _ = s.CountEngagementsInWindow(ctx, now, time.Hour, ActionCreatePost)
	if n != 0 {
		t.Errorf("create_post in hour = %d, want 0", n)
	}
	n, _ = s.CountEngagementsInWindow(ctx, now, 3*time.Hour, ActionCreatePost)
	if n != 1 {
		t.Errorf("create_post in 3h = %d, want 1", n)
	}
}

func TestRecentAgentPostIDsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, rec := range []EngagementRecord{
		{PostID: "old", ActionType: ActionUpvote, CreatedAt: now.Add(-20 * time.Hour)},
		{PostID: "mid", ActionType: ActionUpvote, CreatedAt: now.Add(-2 * time.Hour)},
		{PostID: "new", ActionType: ActionCreateComment, CreatedAt: now.Add(-5 * time.Minute)},
		{PostID: "mid", ActionType: ActionReply, CreatedAt: now.Add(-1 * time.Hour)},
		{PostID: "stale", ActionType: ActionUpvote, CreatedAt: now.Add(-48 * time.Hour)},
	} {
		if err := s.AppendEngagement(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	ids, err := s.RecentAgentPostIDs(ctx, now, 24*time.Hour, 5)
	if err != nil {
		t.Fatalf("RecentAgentPostIDs: %v", err)
	}
	want := []string{"new", "mid", "old"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}

	ids, _ = s.RecentAgentPostIDs(ctx, now, 24*time.Hour, 2)
	if len(ids) != 2 {
		t.Errorf("limited ids = %v, want 2", ids)
	}
}

func TestCountRepliesInThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.AppendEngagement(ctx, EngagementRecord{PostID: "p1", ActionType: ActionReply})
	_ = s.AppendEngagement(ctx, EngagementRecord{PostID: "p1", ActionType: ActionReply})
	_ = s.AppendEngagement(ctx, EngagementRecord{PostID: "p1", ActionType: ActionUpvote})

	n, err := s.CountRepliesInThread(ctx, "p1")
	if err != nil {
		t.Fatalf("CountRepliesInThread: %v", err)
	}
	if n != 2 {
		t.Errorf("replies = %d, want 2", n)
	}
}

func TestInboxUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := ReplyInboxEntry{
		ParentPostID:   "p1",
		ReplyCommentID: "c42",
		ReplyAuthor:    "someone",
		ReplyContent:   "interesting take",
		Depth:          1,
	}
	inserted, err := s.UpsertInboxEntry(ctx, e)
	if err != nil {
		t.Fatalf("UpsertInboxEntry: %v", err)
	}
	if !inserted {
		t.Fatal("first upsert should insert")
	}
	inserted, err = s.UpsertInboxEntry(ctx, e)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted {
		t.Error("second upsert should be a no-op")
	}

	entries, _ := s.ListUnrespondedInbox(ctx, 10)
	if len(entries) != 1 {
		t.Fatalf("len = %d, want exactly 1 entry", len(entries))
	}
}

func TestInboxRespondedFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.UpsertInboxEntry(ctx, ReplyInboxEntry{ParentPostID: "p1", ReplyCommentID: "c1", Depth: 1})
	_, _ = s.UpsertInboxEntry(ctx, ReplyInboxEntry{ParentPostID: "p1", ReplyCommentID: "c2", Depth: 2})

	if err := s.MarkInboxResponded(ctx, "c1"); err != nil {
		t.Fatalf("MarkInboxResponded: %v", err)
	}

	entries, err := s.ListUnrespondedInbox(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnrespondedInbox: %v", err)
	}
	if len(entries) != 1 || entries[0].ReplyCommentID != "c2" {
		t.Fatalf("unresponded = %+v, want only c2", entries)
	}

	unread, _ := s.ListUnreadInbox(ctx)
	if len(unread) != 1 {
		t.Fatalf("unread = %d, want 1 (responded entry is auto-read)", len(unread))
	}
	if err := s.MarkInboxRead(ctx, []string{unread[0].ID}); err != nil {
		t.Fatalf("MarkInboxRead: %v", err)
	}
	unread, _ = s.ListUnreadInbox(ctx)
	if len(unread) != 0 {
		t.Errorf("unread after mark = %d, want 0", len(unread))
	}
}
