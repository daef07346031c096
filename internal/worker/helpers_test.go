package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/distill/internal/embedding"
	"github.com/recallhq/distill/internal/extract"
	"github.com/recallhq/distill/internal/store"
	"github.com/recallhq/distill/pkg/blackboard"
)

func setupTestQueue(t *testing.T) *blackboard.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	queue, err := blackboard.NewQueue(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })
	return queue
}

// awaitEvent reads the subscription until an event of the wanted type
// arrives, failing the test after a second.
func awaitEvent(t *testing.T, sub *blackboard.Subscription, want blackboard.TaskEventType) *blackboard.TaskEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case event := <-sub.Events():
			if event != nil && event.Type == want {
				return event
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", want)
			return nil
		}
	}
}

// --- extractor fake ---

type extractCall struct {
	text       string
	continuity string
	known      extract.Known
}

type fakeExtractor struct {
	fn    func(call int) (*extract.Result, error)
	calls []extractCall
}

func (f *fakeExtractor) Extract(ctx context.Context, text, continuity string, known extract.Known) (*extract.Result, error) {
	f.calls = append(f.calls, extractCall{text: text, continuity: continuity, known: known})
	if f.fn == nil {
		return &extract.Result{}, nil
	}
	return f.fn(len(f.calls))
}

// --- embedder fake ---

type fakeEmbedder struct {
	vectors map[string]embedding.Vector
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

func (f *fakeEmbedder) Dims() int { return 2 }

// --- oracle fake ---

type fakeOracle struct {
	conflict bool
	calls    int
}

func (f *fakeOracle) DetectConflict(ctx context.Context, a, b string) bool {
	f.calls++
	return f.conflict
}

// --- store fake ---

// fakeStore is an in-memory Store. Setting failWith makes every call return
// that error; failReviews fails only the review-item writes, for exercising
// the combined claim-plus-review path.
type fakeStore struct {
	mu          sync.Mutex
	claims      []*store.ClaimRecord
	actions     []*store.ActionRecord
	reviews     []*store.ReviewItem
	claimLinks  map[string][]string
	actionLinks map[string][]string
	nextID      int
	failWith    error
	failReviews error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		claimLinks:  make(map[string][]string),
		actionLinks: make(map[string][]string),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) CreateClaim(ctx context.Context, claim *store.ClaimRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	claim.ID = f.id("claim")
	claim.CreatedAt = time.Now()
	if claim.Status == "" {
		claim.Status = store.ClaimInferred
	}
	f.claims = append(f.claims, claim)
	return claim.ID, nil
}

func (f *fakeStore) UpdateClaim(ctx context.Context, claim *store.ClaimRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	for i, existing := range f.claims {
		if existing.ID == claim.ID {
			f.claims[i] = claim
			return nil
		}
	}
	return fmt.Errorf("claim not found: %s", claim.ID)
}

func (f *fakeStore) RecentClaimsWithEmbeddings(ctx context.Context, limit int) ([]*store.ClaimRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*store.ClaimRecord
	for i := len(f.claims) - 1; i >= 0 && len(out) < limit; i-- {
		if len(f.claims[i].Embedding) > 0 {
			out = append(out, f.claims[i])
		}
	}
	return out, nil
}

func (f *fakeStore) CreateAction(ctx context.Context, action *store.ActionRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	action.ID = f.id("action")
	action.CreatedAt = time.Now()
	if action.Status == "" {
		action.Status = store.ActionSuggested
	}
	f.actions = append(f.actions, action)
	return action.ID, nil
}

func (f *fakeStore) RecentActions(ctx context.Context, limit int) ([]*store.ActionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*store.ActionRecord
	for i := len(f.actions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.actions[i])
	}
	return out, nil
}

func (f *fakeStore) CreateReviewItem(ctx context.Context, item *store.ReviewItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.addReview(item); err != nil {
		return "", err
	}
	return item.ID, nil
}

func (f *fakeStore) addReview(item *store.ReviewItem) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.failReviews != nil {
		return f.failReviews
	}
	item.ID = f.id("review")
	item.CreatedAt = time.Now()
	if item.Status == "" {
		item.Status = store.ReviewPending
	}
	f.reviews = append(f.reviews, item)
	return nil
}

// CreateClaimWithReview stores both records or neither, mirroring the SQLite
// transaction.
func (f *fakeStore) CreateClaimWithReview(ctx context.Context, claim *store.ClaimRecord, item *store.ReviewItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	claim.ID = f.id("claim")
	claim.CreatedAt = time.Now()
	if claim.Status == "" {
		claim.Status = store.ClaimInferred
	}
	item.RecordBID = claim.ID
	if err := f.addReview(item); err != nil {
		claim.ID = ""
		return "", err
	}
	f.claims = append(f.claims, claim)
	return claim.ID, nil
}

func (f *fakeStore) LinkClaimToConversation(ctx context.Context, conversationID, claimID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.claimLinks[conversationID] = appendUnique(f.claimLinks[conversationID], claimID)
	return nil
}

func (f *fakeStore) LinkActionToConversation(ctx context.Context, conversationID, actionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.actionLinks[conversationID] = appendUnique(f.actionLinks[conversationID], actionID)
	return nil
}

func (f *fakeStore) ListClaims(ctx context.Context, conversationID string, limit int) ([]*store.ClaimRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*store.ClaimRecord
	for i := len(f.claims) - 1; i >= 0; i-- {
		if conversationID == "" || f.claims[i].ConversationID == conversationID {
			out = append(out, f.claims[i])
		}
	}
	return out, nil
}

func (f *fakeStore) ListActions(ctx context.Context, conversationID string, limit int) ([]*store.ActionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*store.ActionRecord
	for i := len(f.actions) - 1; i >= 0; i-- {
		if conversationID == "" || f.actions[i].ConversationID == conversationID {
			out = append(out, f.actions[i])
		}
	}
	return out, nil
}

func (f *fakeStore) ListReviewItems(ctx context.Context, status store.ReviewStatus) ([]*store.ReviewItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*store.ReviewItem
	for i := len(f.reviews) - 1; i >= 0; i-- {
		if status == "" || f.reviews[i].Status == status {
			out = append(out, f.reviews[i])
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
