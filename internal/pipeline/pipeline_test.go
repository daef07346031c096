package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/distill/internal/embedding"
	"github.com/recallhq/distill/internal/extract"
	"github.com/recallhq/distill/internal/store"
	"github.com/recallhq/distill/pkg/blackboard"
)

// stubExtractor emits a fixed result for every user turn.
type stubExtractor struct {
	result extract.Result
}

func (s *stubExtractor) Extract(ctx context.Context, text, continuity string, known extract.Known) (*extract.Result, error) {
	result := s.result
	return &result, nil
}

// stubEmbedder maps each text onto a fixed vector.
type stubEmbedder struct {
	vectors map[string]embedding.Vector
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	return s.vectors[text], nil
}

func (s *stubEmbedder) Dims() int { return 2 }

type stubOracle struct{}

func (stubOracle) DetectConflict(ctx context.Context, a, b string) bool { return false }

// collector is a goroutine-safe sink.
type collector struct {
	mu     sync.Mutex
	titles []string
}

func (c *collector) sink(title string, due blackboard.DueWindow, evidence []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.titles...)
}

func setupPipeline(t *testing.T, comps Components) (*Pipeline, store.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	queue, err := blackboard.NewQueue(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	if comps.Store == nil {
		st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "distill.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		comps.Store = st
	}

	p := New(queue, comps, Options{PollInterval: 5 * time.Millisecond, DrainTimeout: 5 * time.Second})
	return p, comps.Store
}

func TestPipelineEndToEnd(t *testing.T) {
	sunk := &collector{}
	extractor := &stubExtractor{result: extract.Result{
		Claims: []blackboard.ClaimCandidate{{
			Text:       "prefers tea",
			Category:   blackboard.CategoryPreferences,
			Confidence: 0.8,
			Evidence:   []string{"tea please"},
		}},
		Actions: []blackboard.ActionCandidate{{
			Title:     "Book dentist appointment",
			DueWindow: blackboard.DueThisWeek,
			Source:    "tooth pain",
		}},
	}}
	embedder := &stubEmbedder{vectors: map[string]embedding.Vector{
		"prefers tea":              {1, 0},
		"Book dentist appointment": {0, 1},
	}}

	p, st := setupPipeline(t, Components{
		Extractor: extractor,
		Embedder:  embedder,
		Oracle:    stubOracle{},
		Sink:      sunk.sink,
	})

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	_, err := p.IngestTurn(ctx, "conv-1", blackboard.Turn{
		Speaker: blackboard.SpeakerUser,
		Text:    "I like tea, and my tooth aches",
	})
	require.NoError(t, err)

	drained, err := p.Finalize(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, drained)

	claims, err := st.ListClaims(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "prefers tea", claims[0].Text)
	assert.Equal(t, store.ClaimInferred, claims[0].Status)

	actions, err := st.ListActions(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "Book dentist appointment", actions[0].Title)
	assert.Equal(t, store.ActionSuggested, actions[0].Status)

	assert.Equal(t, []string{"Book dentist appointment"}, sunk.snapshot())
}

func TestPipelineRecordsDecisions(t *testing.T) {
	p, st := setupPipeline(t, Components{
		Extractor: &stubExtractor{},
		Embedder:  &stubEmbedder{},
		Oracle:    stubOracle{},
	})

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	_, err := p.SubmitDecision(ctx, "conv-1", blackboard.Decision{
		Title:     "Book dentist appointment",
		DueWindow: blackboard.DueThisWeek,
		Accepted:  true,
	})
	require.NoError(t, err)

	drained, err := p.Finalize(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, drained)

	actions, err := st.ListActions(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, store.ActionApproved, actions[0].Status)
	assert.False(t, actions[0].Reminder)
}

func TestPipelineFinalizeOnIdleQueue(t *testing.T) {
	p, _ := setupPipeline(t, Components{
		Extractor: &stubExtractor{},
		Embedder:  &stubEmbedder{},
		Oracle:    stubOracle{},
	})

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	// Nothing was ingested; the marker alone must drain cleanly.
	drained, err := p.Finalize(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, drained)
}
