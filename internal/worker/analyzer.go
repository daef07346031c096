package worker

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/recallhq/distill/internal/extract"
	"github.com/recallhq/distill/pkg/blackboard"
)

// Analyzer consumes TurnIngest tasks and emits claim/action candidates via
// the extraction service. Only the primary user's turns are analyzed;
// assistant speech is context, not a knowledge source.
//
// The analyzer carries session-scoped private state: the extraction
// service's continuity token and the sets of claim texts and action titles
// already extracted this session (lower-cased), used to suppress
// re-extraction of the same fact across turns. The state belongs to one
// run and is reset whenever the loop starts.
type Analyzer struct {
	queue        *blackboard.Queue
	extractor    extract.Extractor
	pollInterval time.Duration

	continuity  string
	seenClaims  map[string]struct{}
	seenActions map[string]struct{}
}

// NewAnalyzer creates an analyzer worker. pollInterval <= 0 selects
// DefaultPollInterval.
func NewAnalyzer(queue *blackboard.Queue, extractor extract.Extractor, pollInterval time.Duration) *Analyzer {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Analyzer{
		queue:        queue,
		extractor:    extractor,
		pollInterval: pollInterval,
	}
}

// Run executes the consume loop until ctx is cancelled. Session state is
// reset on entry, so a stopped-and-restarted analyzer begins a fresh
// session.
func (a *Analyzer) Run(ctx context.Context) error {
	a.resetSession()

	log.Printf("[Analyzer] starting")

	for {
		if ctx.Err() != nil {
			log.Printf("[Analyzer] shutting down")
			return nil
		}

		task, err := a.queue.Take(ctx, blackboard.KindTurnIngest)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Analyzer] claim attempt failed: %v", err)
			if !sleepOrDone(ctx, a.pollInterval) {
				return nil
			}
			continue
		}

		if task == nil {
			if !sleepOrDone(ctx, a.pollInterval) {
				return nil
			}
			continue
		}

		a.process(ctx, task)
	}
}

func (a *Analyzer) resetSession() {
	a.continuity = ""
	a.seenClaims = make(map[string]struct{})
	a.seenActions = make(map[string]struct{})
}

func (a *Analyzer) process(ctx context.Context, task *blackboard.Task) {
	turn := task.Turn

	if turn.Speaker != blackboard.SpeakerUser {
		a.queue.Complete(ctx, task)
		return
	}

	result, err := a.extractor.Extract(ctx, turn.Text, a.continuity, a.known())
	if err != nil {
		// No partial candidates: the failed task produces no descendants.
		log.Printf("[Analyzer] extraction failed for task %s: %v", task.ID, err)
		a.queue.Fail(ctx, task, err.Error())
		return
	}

	if result.Continuity != "" {
		a.continuity = result.Continuity
	}

	for _, action := range result.Actions {
		title := strings.TrimSpace(action.Title)
		if title == "" {
			continue
		}
		key := strings.ToLower(title)
		if _, seen := a.seenActions[key]; seen {
			continue
		}
		a.seenActions[key] = struct{}{}

		action.Title = title
		action.DueWindow = blackboard.ParseDueWindow(string(action.DueWindow))

		if _, err := a.queue.Enqueue(ctx, blackboard.NewActionProposed(task.ConversationID, action)); err != nil {
			log.Printf("[Analyzer] failed to enqueue action candidate: %v", err)
			a.queue.Fail(ctx, task, err.Error())
			return
		}
	}

	for _, claim := range result.Claims {
		text := strings.TrimSpace(claim.Text)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, seen := a.seenClaims[key]; seen {
			continue
		}
		a.seenClaims[key] = struct{}{}

		claim.Text = text
		claim.Category = blackboard.ParseCategory(string(claim.Category))

		if _, err := a.queue.Enqueue(ctx, blackboard.NewClaimProposed(task.ConversationID, claim)); err != nil {
			log.Printf("[Analyzer] failed to enqueue claim candidate: %v", err)
			a.queue.Fail(ctx, task, err.Error())
			return
		}
	}

	a.queue.Complete(ctx, task)
}

// known snapshots the session's already-extracted texts for the extraction
// call, sorted for prompt stability.
func (a *Analyzer) known() extract.Known {
	known := extract.Known{
		Claims:  make([]string, 0, len(a.seenClaims)),
		Actions: make([]string, 0, len(a.seenActions)),
	}
	for text := range a.seenClaims {
		known.Claims = append(known.Claims, text)
	}
	for title := range a.seenActions {
		known.Actions = append(known.Actions, title)
	}
	sort.Strings(known.Claims)
	sort.Strings(known.Actions)
	return known
}
