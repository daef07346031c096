package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/recallhq/distill/pkg/blackboard"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS claims (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		text            TEXT NOT NULL,
		category        TEXT NOT NULL DEFAULT 'other',
		confidence      REAL NOT NULL DEFAULT 0.5,
		evidence        TEXT,
		status          TEXT NOT NULL DEFAULT 'inferred',
		embedding       TEXT,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_claims_created ON claims(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_claims_conversation ON claims(conversation_id);

	CREATE TABLE IF NOT EXISTS actions (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		title           TEXT NOT NULL,
		due_window      TEXT NOT NULL DEFAULT 'Everything else',
		source          TEXT,
		reminder        INTEGER NOT NULL DEFAULT 0,
		evidence        TEXT,
		status          TEXT NOT NULL DEFAULT 'suggested',
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_actions_conversation ON actions(conversation_id);

	CREATE TABLE IF NOT EXISTS review_items (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		summary    TEXT,
		record_a   TEXT NOT NULL,
		record_b   TEXT,
		severity   TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_review_status ON review_items(status);

	CREATE TABLE IF NOT EXISTS conversation_links (
		conversation_id TEXT NOT NULL,
		record_kind     TEXT NOT NULL,
		record_id       TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		PRIMARY KEY (conversation_id, record_kind, record_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func encodeJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []string
	json.Unmarshal([]byte(raw.String), &out)
	return out
}

func decodeEmbedding(raw sql.NullString) []float32 {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []float32
	json.Unmarshal([]byte(raw.String), &out)
	return out
}

// execer abstracts over the connection pool and an open transaction, so the
// insert helpers serve both single writes and CreateClaimWithReview.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) CreateClaim(ctx context.Context, claim *ClaimRecord) (string, error) {
	if err := s.insertClaim(ctx, s.db, claim); err != nil {
		return "", err
	}
	return claim.ID, nil
}

func (s *SQLiteStore) insertClaim(ctx context.Context, db execer, claim *ClaimRecord) error {
	claim.ID = s.newID()
	claim.CreatedAt = time.Now().UTC()
	if claim.Status == "" {
		claim.Status = ClaimInferred
	}

	var embeddingJSON any
	if len(claim.Embedding) > 0 {
		embeddingJSON = encodeJSON(claim.Embedding)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO claims (id, conversation_id, text, category, confidence, evidence, status, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.ID, claim.ConversationID, claim.Text, string(claim.Category), claim.Confidence,
		encodeJSON(claim.Evidence), string(claim.Status), embeddingJSON, claim.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

// CreateClaimWithReview inserts the claim and its review item in one
// transaction. A failure on either insert rolls back both.
func (s *SQLiteStore) CreateClaimWithReview(ctx context.Context, claim *ClaimRecord, item *ReviewItem) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("create claim with review: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertClaim(ctx, tx, claim); err != nil {
		return "", err
	}
	item.RecordBID = claim.ID
	if err := s.insertReviewItem(ctx, tx, item); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("create claim with review: %w", err)
	}
	return claim.ID, nil
}

func (s *SQLiteStore) UpdateClaim(ctx context.Context, claim *ClaimRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE claims SET confidence = ?, evidence = ?, status = ? WHERE id = ?`,
		claim.Confidence, encodeJSON(claim.Evidence), string(claim.Status), claim.ID)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("update claim: no claim with id %s", claim.ID)
	}
	return nil
}

func (s *SQLiteStore) RecentClaimsWithEmbeddings(ctx context.Context, limit int) ([]*ClaimRecord, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, text, category, confidence, evidence, status, embedding, created_at
		FROM claims
		WHERE embedding IS NOT NULL AND embedding != ''
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent claims: %w", err)
	}
	defer rows.Close()

	var claims []*ClaimRecord
	for rows.Next() {
		claim, err := scanClaim(rows, true)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

func (s *SQLiteStore) ListClaims(ctx context.Context, conversationID string, limit int) ([]*ClaimRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, conversation_id, text, category, confidence, evidence, status, embedding, created_at
		FROM claims`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var claims []*ClaimRecord
	for rows.Next() {
		claim, err := scanClaim(rows, false)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

func scanClaim(rows *sql.Rows, withEmbedding bool) (*ClaimRecord, error) {
	var claim ClaimRecord
	var category, status, createdAt string
	var evidence, embeddingRaw sql.NullString

	if err := rows.Scan(&claim.ID, &claim.ConversationID, &claim.Text, &category, &claim.Confidence,
		&evidence, &status, &embeddingRaw, &createdAt); err != nil {
		return nil, fmt.Errorf("scan claim: %w", err)
	}

	claim.Category = blackboard.ParseCategory(category)
	claim.Status = ClaimStatus(status)
	claim.Evidence = decodeStrings(evidence)
	if withEmbedding {
		claim.Embedding = decodeEmbedding(embeddingRaw)
	}
	claim.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return &claim, nil
}

func (s *SQLiteStore) CreateAction(ctx context.Context, action *ActionRecord) (string, error) {
	action.ID = s.newID()
	action.CreatedAt = time.Now().UTC()
	if action.Status == "" {
		action.Status = ActionSuggested
	}

	reminder := 0
	if action.Reminder {
		reminder = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (id, conversation_id, title, due_window, source, reminder, evidence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.ConversationID, action.Title, string(action.DueWindow), action.Source,
		reminder, encodeJSON(action.Evidence), string(action.Status), action.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("create action: %w", err)
	}
	return action.ID, nil
}

func (s *SQLiteStore) RecentActions(ctx context.Context, limit int) ([]*ActionRecord, error) {
	return s.listActions(ctx, "", limit)
}

func (s *SQLiteStore) ListActions(ctx context.Context, conversationID string, limit int) ([]*ActionRecord, error) {
	return s.listActions(ctx, conversationID, limit)
}

func (s *SQLiteStore) listActions(ctx context.Context, conversationID string, limit int) ([]*ActionRecord, error) {
	if limit <= 0 {
		limit = 25
	}
	query := `
		SELECT id, conversation_id, title, due_window, source, reminder, evidence, status, created_at
		FROM actions`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []*ActionRecord
	for rows.Next() {
		var action ActionRecord
		var dueWindow, status, createdAt string
		var source, evidence sql.NullString
		var reminder int

		if err := rows.Scan(&action.ID, &action.ConversationID, &action.Title, &dueWindow, &source,
			&reminder, &evidence, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}

		action.DueWindow = blackboard.ParseDueWindow(dueWindow)
		action.Source = source.String
		action.Reminder = reminder != 0
		action.Evidence = decodeStrings(evidence)
		action.Status = ActionStatus(status)
		action.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		actions = append(actions, &action)
	}
	return actions, rows.Err()
}

func (s *SQLiteStore) CreateReviewItem(ctx context.Context, item *ReviewItem) (string, error) {
	if err := s.insertReviewItem(ctx, s.db, item); err != nil {
		return "", err
	}
	return item.ID, nil
}

func (s *SQLiteStore) insertReviewItem(ctx context.Context, db execer, item *ReviewItem) error {
	item.ID = s.newID()
	item.CreatedAt = time.Now().UTC()
	if item.Status == "" {
		item.Status = ReviewPending
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO review_items (id, title, summary, record_a, record_b, severity, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Title, item.Summary, item.RecordAID, item.RecordBID,
		string(item.Severity), string(item.Status), item.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create review item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListReviewItems(ctx context.Context, status ReviewStatus) ([]*ReviewItem, error) {
	query := `
		SELECT id, title, summary, record_a, record_b, severity, status, created_at
		FROM review_items`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	defer rows.Close()

	var items []*ReviewItem
	for rows.Next() {
		var item ReviewItem
		var summary, recordB sql.NullString
		var severity, itemStatus, createdAt string

		if err := rows.Scan(&item.ID, &item.Title, &summary, &item.RecordAID, &recordB,
			&severity, &itemStatus, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}

		item.Summary = summary.String
		item.RecordBID = recordB.String
		item.Severity = Severity(severity)
		item.Status = ReviewStatus(itemStatus)
		item.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		items = append(items, &item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) LinkClaimToConversation(ctx context.Context, conversationID, claimID string) error {
	return s.link(ctx, conversationID, "claim", claimID)
}

func (s *SQLiteStore) LinkActionToConversation(ctx context.Context, conversationID, actionID string) error {
	return s.link(ctx, conversationID, "action", actionID)
}

func (s *SQLiteStore) link(ctx context.Context, conversationID, kind, recordID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_links (conversation_id, record_kind, record_id, created_at)
		VALUES (?, ?, ?, ?)`,
		conversationID, kind, recordID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("link %s to conversation: %w", kind, err)
	}
	return nil
}

// ConversationRecordIDs returns the linked record ids of the given kind for
// a conversation, oldest first.
func (s *SQLiteStore) ConversationRecordIDs(ctx context.Context, conversationID, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id FROM conversation_links
		WHERE conversation_id = ? AND record_kind = ?
		ORDER BY created_at ASC`, conversationID, kind)
	if err != nil {
		return nil, fmt.Errorf("conversation record ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
