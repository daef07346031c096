package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/recallhq/distill/internal/config"
	"github.com/recallhq/distill/internal/pipeline"
	"github.com/recallhq/distill/internal/store"
	"github.com/recallhq/distill/pkg/blackboard"
)

var (
	decideConversationID string
	decideTitle          string
	decideDueWindow      string
	decideAccept         bool
	decideDismiss        bool
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Record a decision on a suggested action",
	Long: `Record the user's terminal accept/dismiss response to a previously
suggested action. The decision is stored as an action record with status
'approved' or 'dismissed'.

Examples:
  # Accept a suggestion
  distill decide --conversation conv-1 --title "Book dentist appointment" --accept

  # Dismiss one
  distill decide --conversation conv-1 --title "Book dentist appointment" --dismiss`,
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideConversationID, "conversation", "", "Conversation the suggestion belongs to (required)")
	decideCmd.Flags().StringVar(&decideTitle, "title", "", "Title of the suggested action (required)")
	decideCmd.Flags().StringVar(&decideDueWindow, "due", "", "Due window of the action")
	decideCmd.Flags().BoolVar(&decideAccept, "accept", false, "Accept the suggestion")
	decideCmd.Flags().BoolVar(&decideDismiss, "dismiss", false, "Dismiss the suggestion")
	decideCmd.MarkFlagRequired("conversation")
	decideCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if decideAccept == decideDismiss {
		return fail("ambiguous decision", "Pass exactly one of --accept or --dismiss.")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

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

	_, err = p.SubmitDecision(ctx, decideConversationID, blackboard.Decision{
		Title:     decideTitle,
		DueWindow: blackboard.ParseDueWindow(decideDueWindow),
		Accepted:  decideAccept,
	})
	if err != nil {
		return err
	}

	drained, err := p.Finalize(ctx, decideConversationID)
	if err != nil {
		return err
	}
	if !drained {
		return fail("decision not recorded", "The queue did not drain in time. Check Redis and try again.")
	}

	if decideAccept {
		success("accepted: %s\n", decideTitle)
	} else {
		success("dismissed: %s\n", decideTitle)
	}
	return nil
}
