package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"

	"github.com/recallhq/distill/internal/config"
	"github.com/recallhq/distill/internal/conflict"
	"github.com/recallhq/distill/internal/embedding"
	"github.com/recallhq/distill/internal/extract"
	"github.com/recallhq/distill/internal/pipeline"
	"github.com/recallhq/distill/internal/sink"
	"github.com/recallhq/distill/internal/store"
	"github.com/recallhq/distill/pkg/blackboard"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
)

func success(format string, a ...any) {
	green.Printf("✓ "+format, a...)
}

func warning(format string, a ...any) {
	yellow.Printf("⚠ "+format, a...)
}

// fail prints a titled error with a suggestion to stderr and returns a
// plain error for cobra.
func fail(title, suggestion string) error {
	red.Fprintf(os.Stderr, "%s\n", title)
	if suggestion != "" {
		fmt.Fprintf(os.Stderr, "\n%s\n", suggestion)
	}
	return fmt.Errorf("%s", title)
}

// openQueue connects to the configured Redis instance.
func openQueue(cfg *config.Config) (*blackboard.Queue, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return blackboard.NewQueue(opts, cfg.Instance)
}

// buildEmbedder selects the embedding provider from configuration.
func buildEmbedder(cfg *config.Config) embedding.Embedder {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(cfg.Embedding.BaseURL, cfg.LLM.APIKey(), cfg.Embedding.Model, 0)
	case "ollama":
		return embedding.NewOllamaEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	default:
		return embedding.Disabled{}
	}
}

// buildComponents assembles the live pipeline boundaries from configuration.
func buildComponents(cfg *config.Config, recordStore store.Store) pipeline.Components {
	apiKey := cfg.LLM.APIKey()
	return pipeline.Components{
		Extractor: extract.NewLLMExtractor(cfg.LLM.BaseURL, apiKey, cfg.LLM.ExtractModel),
		Embedder:  buildEmbedder(cfg),
		Oracle:    conflict.NewLLMOracle(cfg.LLM.BaseURL, apiKey, cfg.LLM.ConflictModel),
		Store:     recordStore,
		Sink:      sink.Console(os.Stdout),
		Observer:  printClaim,
	}
}

// printClaim renders a stored or merged claim as it lands.
func printClaim(claim *store.ClaimRecord) {
	green.Printf("+ %s", claim.Text)
	fmt.Printf(" (%s, confidence %.2f)\n", claim.Category, claim.Confidence)
}
