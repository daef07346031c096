// Package extract defines the boundary to the external extraction service
// that turns raw transcript text into claim and action candidates.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"github.com/recallhq/distill/pkg/blackboard"
)

// Known carries the lower-cased claim texts and action titles already
// extracted this session, so the service can suppress re-extraction of the
// same fact across turns.
type Known struct {
	Claims  []string
	Actions []string
}

// Result is one extraction call's output. Candidates reuse the blackboard
// payload types; Continuity is an opaque token the caller round-trips into
// the next call to preserve reasoning context within a session.
type Result struct {
	Claims     []blackboard.ClaimCandidate
	Actions    []blackboard.ActionCandidate
	Continuity string
}

// Extractor is the extraction-service boundary. Implementations may fail;
// the analyzer catches the error and acknowledges task failure, enqueuing
// no partial candidates.
type Extractor interface {
	Extract(ctx context.Context, turnText, continuity string, known Known) (*Result, error)
}

const systemPrompt = `You extract durable knowledge from one turn of a user's conversation.

Return ONLY a JSON object of this shape, with no surrounding prose:
{
  "claims": [
    {"text": "first-person fact about the user", "category": "preferences|skills|relationships|other", "confidence": 0.0-1.0, "evidence": ["verbatim source snippet"]}
  ],
  "actions": [
    {"title": "short follow-up item", "due_window": "Today|This Week|This Month|Everything else", "source": "why this was suggested", "reminder": false, "evidence": ["verbatim source snippet"]}
  ],
  "continuity": "opaque state to carry into the next turn"
}

Omit anything already covered by the previously extracted items listed by the user message. Emit empty arrays when the turn contains nothing durable.`

// LLMExtractor implements Extractor over an OpenAI-compatible chat API.
type LLMExtractor struct {
	client openai.Client
	model  string
}

// NewLLMExtractor builds an extractor for the given model. baseURL may be
// empty for the default endpoint.
func NewLLMExtractor(baseURL, apiKey, model string) *LLMExtractor {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &LLMExtractor{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Extract calls the chat model and parses its JSON reply leniently.
// Transport errors are returned to the caller; a reply with no parsable
// JSON object yields an empty Result.
func (e *LLMExtractor) Extract(ctx context.Context, turnText, continuity string, known Known) (*Result, error) {
	var sb strings.Builder
	if continuity != "" {
		fmt.Fprintf(&sb, "Continuity state from the previous turn: %s\n\n", continuity)
	}
	if len(known.Claims) > 0 {
		fmt.Fprintf(&sb, "Previously extracted claims (do not repeat):\n- %s\n\n", strings.Join(known.Claims, "\n- "))
	}
	if len(known.Actions) > 0 {
		fmt.Fprintf(&sb, "Previously extracted actions (do not repeat):\n- %s\n\n", strings.Join(known.Actions, "\n- "))
	}
	fmt.Fprintf(&sb, "Turn:\n%s", turnText)

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(sb.String()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("extraction returned no choices")
	}

	return ParseResult(resp.Choices[0].Message.Content), nil
}

// ParseResult parses an extraction reply leniently:
//
//   - evidence may be a single string or an array of strings
//   - a missing confidence defaults to 0.5; values are clamped to [0,1]
//   - a missing or unknown category defaults to "other"
//   - a missing or unknown due_window defaults to "Everything else"
//   - entries with empty text/title are dropped
//
// Prose around the JSON object is tolerated; a reply with no JSON object
// yields an empty Result.
func ParseResult(raw string) *Result {
	result := &Result{}

	doc := extractJSON(raw)
	if !doc.Exists() {
		return result
	}

	doc.Get("claims").ForEach(func(_, entry gjson.Result) bool {
		text := strings.TrimSpace(entry.Get("text").String())
		if text == "" {
			return true
		}
		confidence := 0.5
		if c := entry.Get("confidence"); c.Exists() {
			confidence = clamp01(c.Float())
		}
		result.Claims = append(result.Claims, blackboard.ClaimCandidate{
			Text:       text,
			Category:   blackboard.ParseCategory(entry.Get("category").String()),
			Confidence: confidence,
			Evidence:   evidenceList(entry.Get("evidence")),
		})
		return true
	})

	doc.Get("actions").ForEach(func(_, entry gjson.Result) bool {
		title := strings.TrimSpace(entry.Get("title").String())
		if title == "" {
			return true
		}
		result.Actions = append(result.Actions, blackboard.ActionCandidate{
			Title:     title,
			DueWindow: blackboard.ParseDueWindow(entry.Get("due_window").String()),
			Source:    strings.TrimSpace(entry.Get("source").String()),
			Reminder:  entry.Get("reminder").Bool(),
			Evidence:  evidenceList(entry.Get("evidence")),
		})
		return true
	})

	result.Continuity = doc.Get("continuity").String()

	return result
}

// extractJSON locates the outermost JSON object in a model reply, tolerating
// markdown fences and surrounding prose.
func extractJSON(raw string) gjson.Result {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return gjson.Result{}
	}
	doc := gjson.Parse(raw[start : end+1])
	if doc.Type != gjson.JSON {
		return gjson.Result{}
	}
	return doc
}

// evidenceList normalizes an evidence field that may be a single string or
// an array of strings.
func evidenceList(v gjson.Result) []string {
	var out []string
	switch {
	case v.IsArray():
		for _, entry := range v.Array() {
			if s := strings.TrimSpace(entry.String()); s != "" {
				out = append(out, s)
			}
		}
	case v.Type == gjson.String:
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
