// Package conflict defines the semantic-conflict oracle consulted when two
// texts are similar enough to be related but not similar enough to merge.
// Textual similarity alone cannot distinguish restatement from
// contradiction; the oracle provides that second opinion.
package conflict

import (
	"context"
	"log"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Oracle reports whether two texts semantically contradict each other.
// There is no error return by contract: an implementation that cannot
// decide must answer false (no conflict assumed).
type Oracle interface {
	DetectConflict(ctx context.Context, a, b string) bool
}

const oraclePrompt = `You are given two statements about the same person. Answer with exactly one word:
CONFLICT if the statements contradict each other, OK if they are compatible or restatements.`

// LLMOracle implements Oracle over an OpenAI-compatible chat API.
// Call failures and unparsable answers default to "no conflict".
type LLMOracle struct {
	client openai.Client
	model  string
}

// NewLLMOracle builds an oracle for the given model. baseURL may be empty
// for the default endpoint.
func NewLLMOracle(baseURL, apiKey, model string) *LLMOracle {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &LLMOracle{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *LLMOracle) DetectConflict(ctx context.Context, a, b string) bool {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(oraclePrompt),
			openai.UserMessage("Statement A: " + a + "\nStatement B: " + b),
		},
	})
	if err != nil {
		log.Printf("[Conflict] oracle call failed, assuming no conflict: %v", err)
		return false
	}
	if len(resp.Choices) == 0 {
		return false
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Choices[0].Message.Content))
	return strings.HasPrefix(answer, "CONFLICT")
}
