package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recallhq/distill/internal/config"
	"github.com/recallhq/distill/internal/store"
)

var (
	listJSON           bool
	listConversationID string
	listLimit          int
)

var listCmd = &cobra.Command{
	Use:   "list {claims|actions|reviews}",
	Short: "List stored claims, actions, or pending review items",
	Long: `List validated records from the store, newest first.

Examples:
  # All stored claims
  distill list claims

  # Actions from one conversation
  distill list actions --conversation conv-1

  # Pending conflicts, machine-readable
  distill list reviews --json`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"claims", "actions", "reviews"},
	RunE:      runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().StringVar(&listConversationID, "conversation", "", "Filter by conversation ID")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum records to show (0 = all)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	recordStore, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	switch args[0] {
	case "claims":
		claims, err := recordStore.ListClaims(ctx, listConversationID, listLimit)
		if err != nil {
			return err
		}
		if listJSON {
			return outputJSON(claims)
		}
		if len(claims) == 0 {
			fmt.Println("No claims stored.")
			return nil
		}
		fmt.Printf("%-36s %-14s %-10s %-9s %s\n", "ID", "CATEGORY", "STATUS", "CONF", "TEXT")
		for _, c := range claims {
			fmt.Printf("%-36s %-14s %-10s %-9.2f %s\n", c.ID, c.Category, c.Status, c.Confidence, c.Text)
		}

	case "actions":
		actions, err := recordStore.ListActions(ctx, listConversationID, listLimit)
		if err != nil {
			return err
		}
		if listJSON {
			return outputJSON(actions)
		}
		if len(actions) == 0 {
			fmt.Println("No actions stored.")
			return nil
		}
		fmt.Printf("%-36s %-16s %-10s %s\n", "ID", "DUE", "STATUS", "TITLE")
		for _, a := range actions {
			fmt.Printf("%-36s %-16s %-10s %s\n", a.ID, a.DueWindow, a.Status, a.Title)
		}

	case "reviews":
		items, err := recordStore.ListReviewItems(ctx, store.ReviewPending)
		if err != nil {
			return err
		}
		if listJSON {
			return outputJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No conflicts pending review.")
			return nil
		}
		for _, item := range items {
			warning("[%s] %s\n", item.Severity, item.Title)
			fmt.Printf("    %s\n", item.Summary)
			if item.RecordBID != "" {
				fmt.Printf("    records: %s vs %s\n", item.RecordAID, item.RecordBID)
			} else {
				fmt.Printf("    record: %s\n", item.RecordAID)
			}
		}
	}

	return nil
}

func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
