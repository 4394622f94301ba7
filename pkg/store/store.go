package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrInvalidTransition is returned when a status update would move an
// action backward or skip a required intermediate state.
var ErrInvalidTransition = errors.New("invalid action status transition")

// ErrActionNotFound is returned when an action id does not exist.
var ErrActionNotFound = errors.New("action not found")

// Store is the single agent database: action queue, engagement ledger,
// reply inbox, and audit log.
type Store struct {
	db *sql.DB
}

// New creates/opens the agent database at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create agent db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process agent. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			payload_json TEXT NOT NULL,
			action_type TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			reasoning TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL DEFAULT '',
			llm_provider TEXT NOT NULL DEFAULT '',
			tokens_used INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			completed_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS actions_status_idx ON actions(status, priority DESC, created_at_ms ASC);`,
		`CREATE INDEX IF NOT EXISTS actions_created_idx ON actions(created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS engagement_records (
			id TEXT PRIMARY KEY,
			post_id TEXT NOT NULL,
			comment_id TEXT NOT NULL DEFAULT '',
			action_type TEXT NOT NULL,
			content_sent TEXT NOT NULL DEFAULT '',
			persona_id TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS engagement_post_idx ON engagement_records(post_id, action_type);`,
		`CREATE INDEX IF NOT EXISTS engagement_window_idx ON engagement_records(action_type, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS reply_inbox (
			id TEXT PRIMARY KEY,
			parent_post_id TEXT NOT NULL,
			parent_comment_id TEXT NOT NULL DEFAULT '',
			agent_original_content TEXT NOT NULL DEFAULT '',
			reply_comment_id TEXT NOT NULL UNIQUE,
			reply_author TEXT NOT NULL DEFAULT '',
			reply_content TEXT NOT NULL DEFAULT '',
			depth INTEGER NOT NULL DEFAULT 0,
			discovered_at_ms INTEGER NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			agent_responded INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS inbox_unresponded_idx ON reply_inbox(agent_responded, discovered_at_ms ASC);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init agent schema: %w", err)
		}
	}
	return nil
}

// ---- actions ----

// InsertAction creates a new pending action and returns its id.
// tokensUsed and cost record the model spend already incurred planning
// the action, so rejected actions still account for their spend.
func (s *Store) InsertAction(ctx context.Context, payload ActionPayload, reasoning, actionContext, provider string, priority, tokensUsed int, cost float64) (string, error) {
	doc, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode action payload: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actions (id, payload_json, action_type, status, priority, reasoning, context, llm_provider, tokens_used, cost, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(doc), string(payload.Type), string(StatusPending), priority, reasoning, actionContext, provider, tokensUsed, cost, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert action: %w", err)
	}
	return id, nil
}

// StatusExtra carries optional fields recorded alongside a status change.
type StatusExtra struct {
	Error      string
	TokensUsed int
	Cost       float64
}

// UpdateActionStatus moves an action along the lifecycle graph. The
// transition guard runs inside the UPDATE itself so concurrent readers
// never observe a backward move.
func (s *Store) UpdateActionStatus(ctx context.Context, id string, to ActionStatus, extra *StatusExtra) error {
	allowedFrom := allowedSources(to)
	if len(allowedFrom) == 0 {
		return fmt.Errorf("%w: no path to %s", ErrInvalidTransition, to)
	}

	var errText string
	var tokens int
	var cost float64
	if extra != nil {
		errText = extra.Error
		tokens = extra.TokensUsed
		cost = extra.Cost
	}
	completedMs := int64(0)
	if to == StatusCompleted || to == StatusFailed || to == StatusRejected {
		completedMs = time.Now().UnixMilli()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(allowedFrom)), ",")
	args := []interface{}{string(to), errText, tokens, tokens, cost, cost, completedMs, completedMs, id}
	args = append(args, toAnySlice(allowedFrom)...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = ?, error = ?,
			tokens_used = CASE WHEN ? > 0 THEN ? ELSE tokens_used END,
			cost = CASE WHEN ? > 0 THEN ? ELSE cost END,
			completed_at_ms = CASE WHEN ? > 0 THEN ? ELSE completed_at_ms END
		 WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update action %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		cur, getErr := s.GetAction(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	return nil
}

// allowedSources returns the statuses that may legally move to target.
func allowedSources(target ActionStatus) []ActionStatus {
	var out []ActionStatus
	for from, nexts := range validTransitions {
		for _, next := range nexts {
			if next == target {
				out = append(out, from)
			}
		}
	}
	return out
}

func toAnySlice(in []ActionStatus) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

const actionColumns = `id, payload_json, status, priority, reasoning, context, llm_provider, tokens_used, cost, error, created_at_ms, completed_at_ms`

func scanAction(row interface{ Scan(...interface{}) error }) (*Action, error) {
	var a Action
	var payloadJSON string
	var status string
	var createdMs, completedMs int64
	err := row.Scan(&a.ID, &payloadJSON, &status, &a.Priority, &a.Reasoning, &a.Context,
		&a.LLMProvider, &a.TokensUsed, &a.Cost, &a.Error, &createdMs, &completedMs)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &a.Payload); err != nil {
		return nil, fmt.Errorf("decode action payload: %w", err)
	}
	a.Status = ActionStatus(status)
	a.CreatedAt = time.UnixMilli(createdMs)
	if completedMs > 0 {
		a.CompletedAt = time.UnixMilli(completedMs)
	}
	return &a, nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}
	return a, nil
}

// NextApprovedByPriority returns the highest-priority, oldest approved
// action, or nil when none is waiting.
func (s *Store) NextApprovedByPriority(ctx context.Context) (*Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE status = ?
		 ORDER BY priority DESC, created_at_ms ASC LIMIT 1`,
		string(StatusApproved),
	)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next approved action: %w", err)
	}
	return a, nil
}

func (s *Store) ListActionsByStatus(ctx context.Context, status ActionStatus, limit int) ([]*Action, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE status = ?
		 ORDER BY priority DESC, created_at_ms ASC LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountActionsToday counts actions created since local midnight,
// excluding rejected rows.
func (s *Store) CountActionsToday(ctx context.Context, now time.Time) (int, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM actions WHERE created_at_ms >= ? AND status != ?`,
		midnight.UnixMilli(), string(StatusRejected),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count actions today: %w", err)
	}
	return n, nil
}

// RejectAllPending bulk-moves every pending action to rejected and
// returns how many were moved.
func (s *Store) RejectAllPending(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = ?, completed_at_ms = ? WHERE status = ?`,
		string(StatusRejected), time.Now().UnixMilli(), string(StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("reject pending actions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- engagement ledger ----

// AppendEngagement writes one immutable ledger row.
func (s *Store) AppendEngagement(ctx context.Context, rec EngagementRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	createdMs := rec.CreatedAt.UnixMilli()
	if rec.CreatedAt.IsZero() {
		createdMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engagement_records (id, post_id, comment_id, action_type, content_sent, persona_id, reasoning, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PostID, rec.CommentID, string(rec.ActionType), rec.ContentSent, rec.PersonaID, rec.Reasoning, createdMs,
	)
	if err != nil {
		return fmt.Errorf("append engagement: %w", err)
	}
	return nil
}

// HasEngaged reports whether the ledger holds a record for postID. An
// empty actionType matches any type.
func (s *Store) HasEngaged(ctx context.Context, postID string, actionType ActionType) (bool, error) {
	query := `SELECT COUNT(*) FROM engagement_records WHERE post_id = ?`
	args := []interface{}{postID}
	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, string(actionType))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("has engaged %s: %w", postID, err)
	}
	return n > 0, nil
}

// CountEngagementsInWindow counts ledger rows in the trailing window.
func (s *Store) CountEngagementsInWindow(ctx context.Context, now time.Time, window time.Duration, actionType ActionType) (int, error) {
	since := now.Add(-window).UnixMilli()
	query := `SELECT COUNT(*) FROM engagement_records WHERE created_at_ms >= ?`
	args := []interface{}{since}
	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, string(actionType))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count engagements: %w", err)
	}
	return n, nil
}

// CountRepliesInThread counts reply records sent under one post.
func (s *Store) CountRepliesInThread(ctx context.Context, postID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM engagement_records WHERE post_id = ? AND action_type = ?`,
		postID, string(ActionReply),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count thread replies %s: %w", postID, err)
	}
	return n, nil
}

// RecentAgentPostIDs returns distinct post ids the agent engaged with in
// the trailing window, most recent first.
func (s *Store) RecentAgentPostIDs(ctx context.Context, now time.Time, window time.Duration, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, MAX(created_at_ms) AS last_ms FROM engagement_records
		 WHERE created_at_ms >= ? AND post_id != ''
		 GROUP BY post_id ORDER BY last_ms DESC LIMIT ?`,
		now.Add(-window).UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent post ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		var lastMs int64
		if err := rows.Scan(&id, &lastMs); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- reply inbox ----

// UpsertInboxEntry inserts a discovered reply. Idempotent on
// reply_comment_id: a duplicate discovery is a no-op and returns false.
func (s *Store) UpsertInboxEntry(ctx context.Context, e ReplyInboxEntry) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	discoveredMs := e.DiscoveredAt.UnixMilli()
	if e.DiscoveredAt.IsZero() {
		discoveredMs = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reply_inbox
		 (id, parent_post_id, parent_comment_id, agent_original_content, reply_comment_id, reply_author, reply_content, depth, discovered_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ParentPostID, e.ParentCommentID, e.AgentOriginalContent, e.ReplyCommentID, e.ReplyAuthor, e.ReplyContent, e.Depth, discoveredMs,
	)
	if err != nil {
		return false, fmt.Errorf("upsert inbox entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const inboxColumns = `id, parent_post_id, parent_comment_id, agent_original_content, reply_comment_id, reply_author, reply_content, depth, discovered_at_ms, is_read, agent_responded`

func scanInbox(rows *sql.Rows) (*ReplyInboxEntry, error) {
	var e ReplyInboxEntry
	var discoveredMs int64
	var isRead, responded int
	err := rows.Scan(&e.ID, &e.ParentPostID, &e.ParentCommentID, &e.AgentOriginalContent,
		&e.ReplyCommentID, &e.ReplyAuthor, &e.ReplyContent, &e.Depth, &discoveredMs, &isRead, &responded)
	if err != nil {
		return nil, err
	}
	e.DiscoveredAt = time.UnixMilli(discoveredMs)
	e.IsRead = isRead != 0
	e.AgentResponded = responded != 0
	return &e, nil
}

func (s *Store) listInbox(ctx context.Context, where string, limit int, args ...interface{}) ([]*ReplyInboxEntry, error) {
	query := `SELECT ` + inboxColumns + ` FROM reply_inbox WHERE ` + where + ` ORDER BY discovered_at_ms ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	var out []*ReplyInboxEntry
	for rows.Next() {
		e, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListUnrespondedInbox returns the oldest entries not yet responded to.
func (s *Store) ListUnrespondedInbox(ctx context.Context, limit int) ([]*ReplyInboxEntry, error) {
	return s.listInbox(ctx, `agent_responded = 0`, limit)
}

func (s *Store) ListUnreadInbox(ctx context.Context) ([]*ReplyInboxEntry, error) {
	return s.listInbox(ctx, `is_read = 0`, 0)
}

func (s *Store) MarkInboxRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `UPDATE reply_inbox SET is_read = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark inbox read: %w", err)
	}
	return nil
}

// MarkInboxResponded finalizes an entry so it is never reconsidered.
func (s *Store) MarkInboxResponded(ctx context.Context, replyCommentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reply_inbox SET agent_responded = 1, is_read = 1 WHERE reply_comment_id = ?`,
		replyCommentID,
	)
	if err != nil {
		return fmt.Errorf("mark inbox responded: %w", err)
	}
	return nil
}

// ---- audit log ----

func (s *Store) AppendAudit(ctx context.Context, kind, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, kind, detail, created_at_ms) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), kind, detail, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
