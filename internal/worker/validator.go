package worker

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/recallhq/distill/internal/conflict"
	"github.com/recallhq/distill/internal/embedding"
	"github.com/recallhq/distill/internal/store"
	"github.com/recallhq/distill/pkg/blackboard"
)

// Similarity bands. At or above mergeThreshold a candidate is confidently
// the same fact: claims auto-merge and actions are dropped, with no oracle
// round-trip. Between conflictThreshold and mergeThreshold textual
// similarity alone cannot distinguish restatement from contradiction, so
// the conflict oracle gets a second opinion. Below conflictThreshold the
// candidate is unrelated. The boundary is inclusive on the merge side:
// exactly 0.90 merges.
const (
	mergeThreshold    = 0.90
	conflictThreshold = 0.70

	severityHighThreshold   = 0.85
	severityMediumThreshold = 0.75

	confidenceBump = 0.05

	// DefaultRecentLimit bounds how many recent records are fetched as the
	// dedup working set.
	DefaultRecentLimit = 25
)

// matchOutcome is the validator's verdict on a candidate's best similarity
// match.
type matchOutcome int

const (
	matchNew matchOutcome = iota
	matchConflictBand
	matchMerge
)

// classifyScore maps a best-match similarity score onto the validator's
// bands. Both boundaries are inclusive at the top of their band: exactly
// 0.90 merges without an oracle round-trip, exactly 0.70 enters the
// conflict band.
func classifyScore(score float64) matchOutcome {
	switch {
	case score >= mergeThreshold:
		return matchMerge
	case score >= conflictThreshold:
		return matchConflictBand
	default:
		return matchNew
	}
}

// ClaimObserver is notified whenever the validator stores a new claim
// record or merges a candidate into an existing one.
type ClaimObserver func(claim *store.ClaimRecord)

// Validator consumes ClaimProposed and ActionProposed tasks, deduplicating
// candidates against existing records by embedding similarity and flagging
// semantic conflicts for review. Claims terminate here (persisted or
// merged); surviving actions continue to the publisher as ActionValidated
// tasks.
type Validator struct {
	queue        *blackboard.Queue
	store        store.Store
	embedder     embedding.Embedder
	oracle       conflict.Oracle
	observer     ClaimObserver
	recentLimit  int
	pollInterval time.Duration
}

// NewValidator creates a validator worker. observer may be nil.
// recentLimit <= 0 selects DefaultRecentLimit; pollInterval <= 0 selects
// DefaultPollInterval.
func NewValidator(queue *blackboard.Queue, recordStore store.Store, embedder embedding.Embedder,
	oracle conflict.Oracle, observer ClaimObserver, recentLimit int, pollInterval time.Duration) *Validator {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Validator{
		queue:        queue,
		store:        recordStore,
		embedder:     embedder,
		oracle:       oracle,
		observer:     observer,
		recentLimit:  recentLimit,
		pollInterval: pollInterval,
	}
}

// Run executes the consume loop until ctx is cancelled.
func (v *Validator) Run(ctx context.Context) error {
	log.Printf("[Validator] starting")

	for {
		if ctx.Err() != nil {
			log.Printf("[Validator] shutting down")
			return nil
		}

		task, err := v.queue.Take(ctx, blackboard.KindClaimProposed, blackboard.KindActionProposed)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Validator] claim attempt failed: %v", err)
			if !sleepOrDone(ctx, v.pollInterval) {
				return nil
			}
			continue
		}

		if task == nil {
			if !sleepOrDone(ctx, v.pollInterval) {
				return nil
			}
			continue
		}

		switch task.Kind {
		case blackboard.KindClaimProposed:
			v.validateClaim(ctx, task)
		case blackboard.KindActionProposed:
			v.validateAction(ctx, task)
		}
	}
}

func (v *Validator) validateClaim(ctx context.Context, task *blackboard.Task) {
	candidate := task.Claim
	text := strings.TrimSpace(candidate.Text)

	vec := v.embed(ctx, text)

	existing, err := v.store.RecentClaimsWithEmbeddings(ctx, v.recentLimit)
	if err != nil {
		v.queue.Fail(ctx, task, err.Error())
		return
	}

	best, bestScore := bestClaimMatch(vec, existing)
	outcome := matchNew
	if best != nil {
		outcome = classifyScore(bestScore)
	}

	switch outcome {
	case matchMerge:
		// Near-duplicate: merge into the existing record, create nothing.
		merged := *best
		merged.Confidence = math.Min(1.0, merged.Confidence+confidenceBump)
		merged.Evidence = unionEvidence(best.Evidence, candidate.Evidence)

		if err := v.store.UpdateClaim(ctx, &merged); err != nil {
			v.queue.Fail(ctx, task, err.Error())
			return
		}
		if err := v.store.LinkClaimToConversation(ctx, task.ConversationID, merged.ID); err != nil {
			v.queue.Fail(ctx, task, err.Error())
			return
		}
		v.notify(&merged)
		v.queue.Complete(ctx, task)

	case matchConflictBand:
		// Worth a second opinion. Conflicting claims are both retained:
		// the candidate is stored either way, the oracle only decides
		// whether a review item flags the pair.
		if !v.oracle.DetectConflict(ctx, text, best.Text) {
			if _, err := v.persistNewClaim(ctx, task, text, vec); err != nil {
				v.queue.Fail(ctx, task, err.Error())
				return
			}
			v.queue.Complete(ctx, task)
			return
		}

		// Claim and review item land in one store write, so a failure
		// cannot leave a stored claim without its review flag.
		record := newClaimRecord(task, text, vec)
		item := &store.ReviewItem{
			Title:     "Conflicting claims",
			Summary:   fmt.Sprintf("%q may contradict %q", text, best.Text),
			RecordAID: best.ID,
			Severity:  severityForScore(bestScore),
		}
		if _, err := v.store.CreateClaimWithReview(ctx, record, item); err != nil {
			v.queue.Fail(ctx, task, err.Error())
			return
		}
		if err := v.store.LinkClaimToConversation(ctx, task.ConversationID, record.ID); err != nil {
			v.queue.Fail(ctx, task, err.Error())
			return
		}
		v.notify(record)
		v.queue.Complete(ctx, task)

	default:
		if _, err := v.persistNewClaim(ctx, task, text, vec); err != nil {
			v.queue.Fail(ctx, task, err.Error())
			return
		}
		v.queue.Complete(ctx, task)
	}
}

func (v *Validator) validateAction(ctx context.Context, task *blackboard.Task) {
	candidate := task.Action
	title := strings.TrimSpace(candidate.Title)

	vec := v.embed(ctx, title)

	existing, err := v.store.RecentActions(ctx, v.recentLimit)
	if err != nil {
		v.queue.Fail(ctx, task, err.Error())
		return
	}

	// Stored actions carry no cached embeddings, so every title is
	// re-embedded per validation call. Known cost; kept for parity with
	// the claim flow's observable thresholds.
	var best *store.ActionRecord
	bestScore := 0.0
	for _, record := range existing {
		score := embedding.CosineSimilarity(vec, v.embed(ctx, record.Title))
		if best == nil || score > bestScore {
			best = record
			bestScore = score
		}
	}

	if best != nil && classifyScore(bestScore) == matchMerge {
		// Duplicate suggestion: silently dropped.
		v.queue.Complete(ctx, task)
		return
	}

	if best != nil && classifyScore(bestScore) == matchConflictBand {
		if v.oracle.DetectConflict(ctx, title, best.Title) {
			item := &store.ReviewItem{
				Title:     "Conflicting actions",
				Summary:   fmt.Sprintf("%q may conflict with existing action %q", title, best.Title),
				RecordAID: best.ID,
				Severity:  severityForScore(bestScore),
			}
			if _, err := v.store.CreateReviewItem(ctx, item); err != nil {
				v.queue.Fail(ctx, task, err.Error())
				return
			}
		}
		// Regardless of the oracle's verdict the action proceeds.
	}

	if _, err := v.queue.Enqueue(ctx, blackboard.NewActionValidated(task.ConversationID, *candidate)); err != nil {
		v.queue.Fail(ctx, task, err.Error())
		return
	}
	v.queue.Complete(ctx, task)
}

// newClaimRecord builds the fresh inferred claim record for a candidate.
func newClaimRecord(task *blackboard.Task, text string, vec embedding.Vector) *store.ClaimRecord {
	return &store.ClaimRecord{
		Text:           text,
		Category:       task.Claim.Category,
		Confidence:     task.Claim.Confidence,
		Evidence:       task.Claim.Evidence,
		Status:         store.ClaimInferred,
		ConversationID: task.ConversationID,
		Embedding:      vec,
	}
}

// persistNewClaim stores the candidate as a fresh inferred claim, links it
// to the conversation, and notifies the observer.
func (v *Validator) persistNewClaim(ctx context.Context, task *blackboard.Task, text string, vec embedding.Vector) (*store.ClaimRecord, error) {
	record := newClaimRecord(task, text, vec)

	if _, err := v.store.CreateClaim(ctx, record); err != nil {
		return nil, err
	}
	if err := v.store.LinkClaimToConversation(ctx, task.ConversationID, record.ID); err != nil {
		return nil, err
	}

	v.notify(record)
	return record, nil
}

// embed converts an embedding failure into "no similarity computable":
// the empty vector scores 0 against everything.
func (v *Validator) embed(ctx context.Context, text string) embedding.Vector {
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("[Validator] embedding failed, treating as no similarity: %v", err)
		return nil
	}
	return vec
}

func (v *Validator) notify(record *store.ClaimRecord) {
	if v.observer != nil {
		v.observer(record)
	}
}

func bestClaimMatch(vec embedding.Vector, records []*store.ClaimRecord) (*store.ClaimRecord, float64) {
	var best *store.ClaimRecord
	bestScore := 0.0
	for _, record := range records {
		score := embedding.CosineSimilarity(vec, record.Embedding)
		if best == nil || score > bestScore {
			best = record
			bestScore = score
		}
	}
	return best, bestScore
}

// severityForScore grades a conflict by how textually close the pair is:
// the closer two statements are without merging, the more alarming a
// contradiction between them.
func severityForScore(score float64) store.Severity {
	switch {
	case score >= severityHighThreshold:
		return store.SeverityHigh
	case score >= severityMediumThreshold:
		return store.SeverityMedium
	default:
		return store.SeverityLow
	}
}

// unionEvidence appends the candidate's evidence onto the existing
// record's, preserving order and dropping duplicates.
func unionEvidence(existing, candidate []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(candidate))
	out := make([]string, 0, len(existing)+len(candidate))
	for _, lists := range [][]string{existing, candidate} {
		for _, snippet := range lists {
			if _, ok := seen[snippet]; ok {
				continue
			}
			seen[snippet] = struct{}{}
			out = append(out, snippet)
		}
	}
	return out
}
