package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/recallhq/distill/internal/config"
	"github.com/recallhq/distill/pkg/blackboard"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor real-time pipeline activity",
	Long: `Monitor real-time pipeline activity on the task queue.

Streams task lifecycle events (enqueued, started, completed, failed) as
they occur, providing visibility into how turns move through analysis,
validation, and publication.

Output Formats:
  default - Human-readable output with timestamps
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the configured instance
  distill watch

  # Export events as JSON
  distill watch --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchOutputFormat != "default" && watchOutputFormat != "json" {
		return fail(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s. Valid formats: default, json", watchOutputFormat),
		)
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := queue.Ping(ctx); err != nil {
		return fail(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s. Is it running?", cfg.RedisURL),
		)
	}

	sub, err := queue.SubscribeTaskEvents(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	if watchOutputFormat == "default" {
		fmt.Printf("Watching instance '%s' (Ctrl+C to stop)\n\n", cfg.Instance)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Errors():
			if err != nil {
				warning("dropped malformed event: %v\n", err)
			}
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			printEvent(event)
		}
	}
}

func printEvent(event *blackboard.TaskEvent) {
	if watchOutputFormat == "json" {
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		fmt.Println(string(data))
		return
	}

	stamp := time.Now().Format("15:04:05")
	label := eventLabel(event.Type)
	fmt.Printf("%s %s %-20s conv=%s id=%s", stamp, label, event.Task.Kind, event.Task.ConversationID, shortID(event.Task.ID))
	if event.Reason != "" {
		fmt.Printf(" reason=%q", event.Reason)
	}
	fmt.Println()
}

func eventLabel(t blackboard.TaskEventType) string {
	switch t {
	case blackboard.TaskEnqueued:
		return color.CyanString("%-9s", "enqueued")
	case blackboard.TaskStarted:
		return color.YellowString("%-9s", "started")
	case blackboard.TaskCompleted:
		return color.GreenString("%-9s", "completed")
	case blackboard.TaskFailed:
		return color.New(color.FgRed, color.Bold).Sprintf("%-9s", "failed")
	default:
		return fmt.Sprintf("%-9s", string(t))
	}
}

// shortID truncates a task UUID for single-line display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
