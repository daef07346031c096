// Package store provides the record store for validated knowledge: claim
// records, action records, review items, and their links onto
// conversations. The pipeline owns nothing durable itself; everything that
// survives a stop/start cycle lives here.
package store

import (
	"context"
	"time"

	"github.com/recallhq/distill/internal/embedding"
	"github.com/recallhq/distill/pkg/blackboard"
)

// ClaimStatus is the lifecycle state of a stored claim.
type ClaimStatus string

const (
	ClaimInferred  ClaimStatus = "inferred"
	ClaimConfirmed ClaimStatus = "confirmed"
	ClaimRejected  ClaimStatus = "rejected"
)

// ActionStatus is the lifecycle state of a stored action.
type ActionStatus string

const (
	ActionSuggested ActionStatus = "suggested"
	ActionApproved  ActionStatus = "approved"
	ActionDismissed ActionStatus = "dismissed"
)

// Severity grades how alarming a detected conflict is, derived from the
// similarity score between the two records.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ReviewStatus is the lifecycle state of a review item.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
)

// ClaimRecord is a persisted claim. Embedding is internal to the validation
// boundary: list operations never populate it.
type ClaimRecord struct {
	ID             string              `json:"id"`
	Text           string              `json:"text"`
	Category       blackboard.Category `json:"category"`
	Confidence     float64             `json:"confidence"`
	Evidence       []string            `json:"evidence"`
	Status         ClaimStatus         `json:"status"`
	ConversationID string              `json:"conversation_id"`
	Embedding      embedding.Vector    `json:"-"`
	CreatedAt      time.Time           `json:"created_at"`
}

// ActionRecord is a persisted follow-up action.
type ActionRecord struct {
	ID             string               `json:"id"`
	Title          string               `json:"title"`
	DueWindow      blackboard.DueWindow `json:"due_window"`
	Source         string               `json:"source"`
	Reminder       bool                 `json:"reminder"`
	Evidence       []string             `json:"evidence"`
	Status         ActionStatus         `json:"status"`
	ConversationID string               `json:"conversation_id"`
	CreatedAt      time.Time            `json:"created_at"`
}

// ReviewItem flags a pair of records whose contents conflict and need human
// or downstream arbitration. RecordBID may be empty when the second party
// is an unstored candidate (action conflicts).
type ReviewItem struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Summary   string       `json:"summary"`
	RecordAID string       `json:"record_a_id"`
	RecordBID string       `json:"record_b_id,omitempty"`
	Severity  Severity     `json:"severity"`
	Status    ReviewStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Store is the persistence boundary consumed by the validator and
// publisher. Create methods assign the record's ID and creation time and
// return the ID.
type Store interface {
	// CreateClaim persists a new claim record, embedding included.
	CreateClaim(ctx context.Context, claim *ClaimRecord) (string, error)

	// UpdateClaim replaces an existing claim record's mutable fields
	// (confidence, evidence, status).
	UpdateClaim(ctx context.Context, claim *ClaimRecord) error

	// RecentClaimsWithEmbeddings returns the most recent claims that carry
	// an embedding vector, newest first, up to limit. This is the
	// validator's dedup working set.
	RecentClaimsWithEmbeddings(ctx context.Context, limit int) ([]*ClaimRecord, error)

	// CreateAction persists a new action record.
	CreateAction(ctx context.Context, action *ActionRecord) (string, error)

	// RecentActions returns the most recent actions, newest first, up to
	// limit.
	RecentActions(ctx context.Context, limit int) ([]*ActionRecord, error)

	// CreateReviewItem persists a flagged conflict for arbitration.
	CreateReviewItem(ctx context.Context, item *ReviewItem) (string, error)

	// CreateClaimWithReview persists a new claim and the review item
	// flagging it against an existing record as one atomic write: either
	// both land or neither does. The item's RecordBID is set to the new
	// claim's ID. Returns the claim's ID.
	CreateClaimWithReview(ctx context.Context, claim *ClaimRecord, item *ReviewItem) (string, error)

	// LinkClaimToConversation records claimID on the conversation's claim
	// id list. Linking the same pair twice is a no-op.
	LinkClaimToConversation(ctx context.Context, conversationID, claimID string) error

	// LinkActionToConversation records actionID on the conversation's
	// action id list. Linking the same pair twice is a no-op.
	LinkActionToConversation(ctx context.Context, conversationID, actionID string) error

	// ListClaims returns claims, optionally filtered by conversation,
	// newest first. Embeddings are not populated.
	ListClaims(ctx context.Context, conversationID string, limit int) ([]*ClaimRecord, error)

	// ListActions returns actions, optionally filtered by conversation,
	// newest first.
	ListActions(ctx context.Context, conversationID string, limit int) ([]*ActionRecord, error)

	// ListReviewItems returns review items with the given status, newest
	// first. An empty status returns all.
	ListReviewItems(ctx context.Context, status ReviewStatus) ([]*ReviewItem, error)

	// Close releases the underlying database handle.
	Close() error
}
