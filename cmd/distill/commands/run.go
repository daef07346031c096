package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/recallhq/distill/internal/config"
	"github.com/recallhq/distill/internal/pipeline"
	"github.com/recallhq/distill/internal/store"
	"github.com/recallhq/distill/pkg/blackboard"
)

var (
	runTranscriptPath string
	runConversationID string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a conversation transcript",
	Long: `Process a conversation transcript through the full pipeline.

The transcript is read line by line; each line is one turn in the form
"speaker: text" where speaker is 'user' or 'assistant'. Only the user's
turns are analyzed for claims and actions; assistant turns are context.

After the last turn the conversation is finalized: the command waits for
the queue to drain and then prints a summary of what was stored.

Examples:
  # Process a transcript file
  distill run --file conversation.txt

  # Pipe a transcript in
  cat conversation.txt | distill run

  # Attribute the turns to a known conversation
  distill run --file conversation.txt --conversation weekly-checkin`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runTranscriptPath, "file", "f", "", "Transcript file (defaults to stdin)")
	runCmd.Flags().StringVar(&runConversationID, "conversation", "", "Conversation ID (generated if omitted)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var input io.Reader = os.Stdin
	if runTranscriptPath != "" {
		f, err := os.Open(runTranscriptPath)
		if err != nil {
			return fail(
				"cannot open transcript",
				fmt.Sprintf("Check the path: %s", runTranscriptPath),
			)
		}
		defer f.Close()
		input = f
	}

	turns, skipped, err := parseTranscript(input)
	if err != nil {
		return err
	}
	if skipped > 0 {
		warning("skipped %d line(s) without a 'user:' or 'assistant:' prefix\n", skipped)
	}
	if len(turns) == 0 {
		return fail("empty transcript", "Provide at least one line of the form 'user: <text>'.")
	}

	conversationID := runConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	if err := queue.Ping(ctx); err != nil {
		return fail(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s. Is it running?", cfg.RedisURL),
		)
	}

	recordStore, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	p := pipeline.New(queue, buildComponents(cfg, recordStore), pipeline.Options{
		RecentLimit:  cfg.RecentLimit,
		PollInterval: cfg.PollInterval(),
		DrainTimeout: cfg.DrainTimeout(),
	})
	p.Start(ctx)
	defer p.Stop()

	for _, turn := range turns {
		if _, err := p.IngestTurn(ctx, conversationID, turn); err != nil {
			return err
		}
	}

	drained, err := p.Finalize(ctx, conversationID)
	if err != nil {
		return err
	}
	if !drained {
		warning("queue did not drain within %s; results may be incomplete\n", cfg.DrainTimeout())
	}

	return printSummary(ctx, recordStore, conversationID)
}

// parseTranscript reads "speaker: text" lines. Blank lines and lines with
// an unknown speaker prefix are skipped; the skipped count is reported so
// silently malformed transcripts are visible.
func parseTranscript(r io.Reader) ([]blackboard.Turn, int, error) {
	var turns []blackboard.Turn
	skipped := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		speaker, text, found := strings.Cut(line, ":")
		if !found {
			skipped++
			continue
		}

		turn := blackboard.Turn{
			Text:        strings.TrimSpace(text),
			TimestampMs: time.Now().UnixMilli(),
		}
		switch strings.ToLower(strings.TrimSpace(speaker)) {
		case "user":
			turn.Speaker = blackboard.SpeakerUser
		case "assistant":
			turn.Speaker = blackboard.SpeakerAssistant
		default:
			skipped++
			continue
		}

		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read transcript: %w", err)
	}

	return turns, skipped, nil
}

func printSummary(ctx context.Context, recordStore store.Store, conversationID string) error {
	claims, err := recordStore.ListClaims(ctx, conversationID, 0)
	if err != nil {
		return err
	}
	actions, err := recordStore.ListActions(ctx, conversationID, 0)
	if err != nil {
		return err
	}
	reviews, err := recordStore.ListReviewItems(ctx, store.ReviewPending)
	if err != nil {
		return err
	}

	fmt.Println()
	success("conversation %s processed: %d claim(s), %d action(s)\n", conversationID, len(claims), len(actions))
	if len(reviews) > 0 {
		warning("%d conflict(s) pending review; run 'distill list reviews'\n", len(reviews))
	}
	return nil
}
