package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/distill/internal/embedding"
	"github.com/recallhq/distill/pkg/blackboard"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "distill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClaimCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	t.Run("create assigns id and defaults", func(t *testing.T) {
		claim := &ClaimRecord{
			Text:           "prefers tea",
			Category:       blackboard.CategoryPreferences,
			Confidence:     0.8,
			Evidence:       []string{"tea please"},
			ConversationID: "conv-1",
			Embedding:      embedding.Vector{0.1, 0.2},
		}
		id, err := s.CreateClaim(ctx, claim)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, ClaimInferred, claim.Status)
	})

	t.Run("update replaces mutable fields", func(t *testing.T) {
		claim := &ClaimRecord{
			Text:           "works remotely",
			Category:       blackboard.CategoryOther,
			Confidence:     0.5,
			ConversationID: "conv-1",
			Embedding:      embedding.Vector{1, 0},
		}
		_, err := s.CreateClaim(ctx, claim)
		require.NoError(t, err)

		claim.Confidence = 0.55
		claim.Evidence = []string{"I work from home"}
		require.NoError(t, s.UpdateClaim(ctx, claim))

		claims, err := s.RecentClaimsWithEmbeddings(ctx, 25)
		require.NoError(t, err)
		var found *ClaimRecord
		for _, c := range claims {
			if c.ID == claim.ID {
				found = c
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, 0.55, found.Confidence)
		assert.Equal(t, []string{"I work from home"}, found.Evidence)
		assert.Equal(t, embedding.Vector{1, 0}, found.Embedding)
	})

	t.Run("update of unknown claim errors", func(t *testing.T) {
		err := s.UpdateClaim(ctx, &ClaimRecord{ID: "no-such-id", Status: ClaimInferred})
		assert.Error(t, err)
	})
}

func TestRecentClaimsWithEmbeddings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// One claim without an embedding must never enter the dedup working set.
	_, err := s.CreateClaim(ctx, &ClaimRecord{Text: "no vector", ConversationID: "conv-1"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreateClaim(ctx, &ClaimRecord{
			Text:           "embedded",
			ConversationID: "conv-1",
			Embedding:      embedding.Vector{float32(i + 1)},
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	t.Run("skips claims without embeddings", func(t *testing.T) {
		claims, err := s.RecentClaimsWithEmbeddings(ctx, 25)
		require.NoError(t, err)
		require.Len(t, claims, 3)
		for _, c := range claims {
			assert.NotEmpty(t, c.Embedding)
		}
	})

	t.Run("newest first, bounded by limit", func(t *testing.T) {
		claims, err := s.RecentClaimsWithEmbeddings(ctx, 2)
		require.NoError(t, err)
		require.Len(t, claims, 2)
		assert.Equal(t, embedding.Vector{3}, claims[0].Embedding)
		assert.Equal(t, embedding.Vector{2}, claims[1].Embedding)
	})

	t.Run("list omits embeddings", func(t *testing.T) {
		claims, err := s.ListClaims(ctx, "conv-1", 0)
		require.NoError(t, err)
		require.Len(t, claims, 4)
		for _, c := range claims {
			assert.Empty(t, c.Embedding)
		}
	})
}

func TestActionCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := &ActionRecord{
		Title:          "Book dentist appointment",
		DueWindow:      blackboard.DueThisWeek,
		Source:         "tooth pain",
		Reminder:       true,
		Evidence:       []string{"my tooth aches"},
		ConversationID: "conv-1",
	}
	_, err := s.CreateAction(ctx, first)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	second := &ActionRecord{
		Title:          "Send the report",
		DueWindow:      blackboard.DueToday,
		ConversationID: "conv-2",
		Status:         ActionApproved,
	}
	_, err = s.CreateAction(ctx, second)
	require.NoError(t, err)

	t.Run("recent actions newest first", func(t *testing.T) {
		actions, err := s.RecentActions(ctx, 25)
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, "Send the report", actions[0].Title)
		assert.Equal(t, ActionApproved, actions[0].Status)
		assert.Equal(t, "Book dentist appointment", actions[1].Title)
		assert.True(t, actions[1].Reminder)
		assert.Equal(t, []string{"my tooth aches"}, actions[1].Evidence)
	})

	t.Run("list filters by conversation", func(t *testing.T) {
		actions, err := s.ListActions(ctx, "conv-1", 0)
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, first.ID, actions[0].ID)
	})
}

func TestReviewItems(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	item := &ReviewItem{
		Title:     "Conflicting claims",
		Summary:   "candidate contradicts an existing claim",
		RecordAID: "claim-a",
		RecordBID: "claim-b",
		Severity:  SeverityMedium,
	}
	id, err := s.CreateReviewItem(ctx, item)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, ReviewPending, item.Status)

	t.Run("filters by status", func(t *testing.T) {
		items, err := s.ListReviewItems(ctx, ReviewPending)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, SeverityMedium, items[0].Severity)
		assert.Equal(t, "claim-a", items[0].RecordAID)
		assert.Equal(t, "claim-b", items[0].RecordBID)

		items, err = s.ListReviewItems(ctx, ReviewResolved)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("record b may be empty", func(t *testing.T) {
		_, err := s.CreateReviewItem(ctx, &ReviewItem{
			Title:     "Action conflict",
			RecordAID: "action-a",
			Severity:  SeverityLow,
		})
		require.NoError(t, err)

		items, err := s.ListReviewItems(ctx, "")
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})
}

func TestCreateClaimWithReview(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	claim := &ClaimRecord{
		Text:           "never drinks tea",
		Category:       blackboard.CategoryPreferences,
		Confidence:     0.7,
		ConversationID: "conv-1",
		Embedding:      embedding.Vector{0.8, 0.6},
	}
	item := &ReviewItem{
		Title:     "Conflicting claims",
		Summary:   "candidate contradicts an existing claim",
		RecordAID: "claim-a",
		Severity:  SeverityMedium,
	}

	id, err := s.CreateClaimWithReview(ctx, claim, item)
	require.NoError(t, err)
	assert.Equal(t, claim.ID, id)
	assert.Equal(t, ClaimInferred, claim.Status)
	assert.Equal(t, claim.ID, item.RecordBID, "the review item points at the new claim")

	claims, err := s.ListClaims(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "never drinks tea", claims[0].Text)

	items, err := s.ListReviewItems(ctx, ReviewPending)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, claim.ID, items[0].RecordBID)
	assert.Equal(t, "claim-a", items[0].RecordAID)
}

func TestConversationLinks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LinkClaimToConversation(ctx, "conv-1", "claim-1"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.LinkClaimToConversation(ctx, "conv-1", "claim-2"))
	require.NoError(t, s.LinkActionToConversation(ctx, "conv-1", "action-1"))

	// Linking twice is a no-op, not an error.
	require.NoError(t, s.LinkClaimToConversation(ctx, "conv-1", "claim-1"))

	claimIDs, err := s.ConversationRecordIDs(ctx, "conv-1", "claim")
	require.NoError(t, err)
	assert.Equal(t, []string{"claim-1", "claim-2"}, claimIDs)

	actionIDs, err := s.ConversationRecordIDs(ctx, "conv-1", "action")
	require.NoError(t, err)
	assert.Equal(t, []string{"action-1"}, actionIDs)
}
