package worker

import (
	"context"
	"log"
	"time"

	"github.com/recallhq/distill/internal/store"
	"github.com/recallhq/distill/pkg/blackboard"
)

// Sink receives each surfaced action suggestion. Implementations render it
// to a console, notification channel, or test buffer.
type Sink func(title string, dueWindow blackboard.DueWindow, evidence []string)

// Publisher consumes the pipeline's terminal task kinds. Validated actions
// are surfaced through the sink and persisted as suggested action records;
// user decisions are recorded; finalize markers are acknowledged and
// produce nothing.
type Publisher struct {
	queue        *blackboard.Queue
	store        store.Store
	sink         Sink
	pollInterval time.Duration
}

// NewPublisher creates a publisher worker. sink may be nil when suggestions
// need no live surfacing. pollInterval <= 0 selects DefaultPollInterval.
func NewPublisher(queue *blackboard.Queue, recordStore store.Store, sink Sink, pollInterval time.Duration) *Publisher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Publisher{
		queue:        queue,
		store:        recordStore,
		sink:         sink,
		pollInterval: pollInterval,
	}
}

// Run executes the consume loop until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	log.Printf("[Publisher] starting")

	for {
		if ctx.Err() != nil {
			log.Printf("[Publisher] shutting down")
			return nil
		}

		task, err := p.queue.Take(ctx,
			blackboard.KindActionValidated,
			blackboard.KindActionDecision,
			blackboard.KindConversationFinalize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Publisher] claim attempt failed: %v", err)
			if !sleepOrDone(ctx, p.pollInterval) {
				return nil
			}
			continue
		}

		if task == nil {
			if !sleepOrDone(ctx, p.pollInterval) {
				return nil
			}
			continue
		}

		switch task.Kind {
		case blackboard.KindActionValidated:
			p.publishAction(ctx, task)
		case blackboard.KindActionDecision:
			p.recordDecision(ctx, task)
		case blackboard.KindConversationFinalize:
			// Marker task: occupies a queue slot for Drain, nothing more.
			p.queue.Complete(ctx, task)
		}
	}
}

func (p *Publisher) publishAction(ctx context.Context, task *blackboard.Task) {
	action := task.Action

	// Surface first. A suggestion the user never sees is worse than one
	// that fails to persist afterwards.
	if p.sink != nil {
		p.sink(action.Title, action.DueWindow, action.Evidence)
	}

	record := &store.ActionRecord{
		Title:          action.Title,
		DueWindow:      action.DueWindow,
		Source:         action.Source,
		Reminder:       action.Reminder,
		Evidence:       action.Evidence,
		Status:         store.ActionSuggested,
		ConversationID: task.ConversationID,
	}
	if _, err := p.store.CreateAction(ctx, record); err != nil {
		p.queue.Fail(ctx, task, err.Error())
		return
	}
	if err := p.store.LinkActionToConversation(ctx, task.ConversationID, record.ID); err != nil {
		p.queue.Fail(ctx, task, err.Error())
		return
	}

	p.queue.Complete(ctx, task)
}

func (p *Publisher) recordDecision(ctx context.Context, task *blackboard.Task) {
	decision := task.Decision

	status := store.ActionDismissed
	if decision.Accepted {
		status = store.ActionApproved
	}

	record := &store.ActionRecord{
		Title:          decision.Title,
		DueWindow:      decision.DueWindow,
		Status:         status,
		ConversationID: task.ConversationID,
	}
	if _, err := p.store.CreateAction(ctx, record); err != nil {
		p.queue.Fail(ctx, task, err.Error())
		return
	}
	if err := p.store.LinkActionToConversation(ctx, task.ConversationID, record.ID); err != nil {
		p.queue.Fail(ctx, task, err.Error())
		return
	}

	p.queue.Complete(ctx, task)
}
