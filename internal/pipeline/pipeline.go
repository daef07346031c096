// Package pipeline wires the blackboard queue and the three workers into
// one runnable unit and exposes the external entry points: turn ingestion,
// user decisions, and conversation finalization.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/recallhq/distill/internal/conflict"
	"github.com/recallhq/distill/internal/embedding"
	"github.com/recallhq/distill/internal/extract"
	"github.com/recallhq/distill/internal/store"
	"github.com/recallhq/distill/internal/worker"
	"github.com/recallhq/distill/pkg/blackboard"
)

// DefaultDrainTimeout bounds how long Finalize waits for the queue to
// settle before giving up.
const DefaultDrainTimeout = 30 * time.Second

// Components are the pluggable boundaries the pipeline is assembled from.
// Sink and Observer may be nil.
type Components struct {
	Extractor extract.Extractor
	Embedder  embedding.Embedder
	Oracle    conflict.Oracle
	Store     store.Store
	Sink      worker.Sink
	Observer  worker.ClaimObserver
}

// Options tune worker behavior. Zero values select the defaults.
type Options struct {
	RecentLimit  int
	PollInterval time.Duration
	DrainTimeout time.Duration
}

// Pipeline owns the three workers and their shared queue. Start launches
// the workers; Stop cancels them and waits for the loops to exit. The queue
// itself is durable in Redis, so a stopped pipeline leaves pending tasks in
// place for the next run.
type Pipeline struct {
	queue        *blackboard.Queue
	analyzer     *worker.Analyzer
	validator    *worker.Validator
	publisher    *worker.Publisher
	drainTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a pipeline over the given queue and components.
func New(queue *blackboard.Queue, comps Components, opts Options) *Pipeline {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	return &Pipeline{
		queue:        queue,
		analyzer:     worker.NewAnalyzer(queue, comps.Extractor, opts.PollInterval),
		validator:    worker.NewValidator(queue, comps.Store, comps.Embedder, comps.Oracle, comps.Observer, opts.RecentLimit, opts.PollInterval),
		publisher:    worker.NewPublisher(queue, comps.Store, comps.Sink, opts.PollInterval),
		drainTimeout: opts.DrainTimeout,
	}
}

// Start launches the three worker loops. It returns immediately; the
// workers run until Stop is called or ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for _, run := range []func(context.Context) error{
		p.analyzer.Run,
		p.validator.Run,
		p.publisher.Run,
	} {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			run(runCtx)
		}()
	}
}

// Stop cancels the workers and waits for their loops to exit. A task being
// processed at that moment is abandoned, not re-queued.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// IngestTurn enqueues one transcript turn for analysis and returns the
// stamped task.
func (p *Pipeline) IngestTurn(ctx context.Context, conversationID string, turn blackboard.Turn) (*blackboard.Task, error) {
	task, err := p.queue.Enqueue(ctx, blackboard.NewTurnIngest(conversationID, turn))
	if err != nil {
		return nil, fmt.Errorf("failed to ingest turn: %w", err)
	}
	return task, nil
}

// SubmitDecision enqueues the user's terminal accept/dismiss response to a
// suggested action.
func (p *Pipeline) SubmitDecision(ctx context.Context, conversationID string, decision blackboard.Decision) (*blackboard.Task, error) {
	task, err := p.queue.Enqueue(ctx, blackboard.NewActionDecision(conversationID, decision))
	if err != nil {
		return nil, fmt.Errorf("failed to submit decision: %w", err)
	}
	return task, nil
}

// Finalize enqueues the conversation's finalize marker and waits for the
// queue to drain. The marker guarantees the queue was non-empty at least
// once after finalization was requested, so Drain cannot return before the
// marker itself is consumed. Returns true if the queue drained within the
// timeout.
func (p *Pipeline) Finalize(ctx context.Context, conversationID string) (bool, error) {
	if _, err := p.queue.Enqueue(ctx, blackboard.NewConversationFinalize(conversationID)); err != nil {
		return false, fmt.Errorf("failed to finalize conversation: %w", err)
	}
	return p.queue.Drain(ctx, p.drainTimeout)
}
