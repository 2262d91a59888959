package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jaredwolff/patina/internal/config"
	"github.com/jaredwolff/patina/pkg/session"
	"github.com/jaredwolff/patina/pkg/usage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime configuration and stored state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Model:     %s\n", cfg.Agent.Model)
	fmt.Printf("Data dir:  %s\n", cfg.DataDir)
	fmt.Printf("Workspace: %s\n", cfg.WorkspacePath)
	fmt.Printf("Channels:  %s\n", enabledChannels(cfg))

	store, err := session.NewStore(cfg.SessionsDir(), quietLogger())
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	infos, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	fmt.Printf("Sessions:  %d\n", len(infos))

	tracker, err := usage.NewTracker(cfg.UsageDBPath(), quietLogger())
	if err != nil {
		return fmt.Errorf("failed to open usage tracker: %w", err)
	}
	defer tracker.Close()

	summaries, err := tracker.Summarize(usage.Filter{GroupBy: "model"})
	if err != nil {
		return fmt.Errorf("failed to summarize usage: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("Usage:     none recorded")
		return nil
	}
	fmt.Println("Usage:")
	for _, s := range summaries {
		fmt.Printf("  %-30s %d calls, %d in / %d out tokens\n", s.GroupKey, s.Calls, s.InputTokens, s.OutputTokens)
	}
	return nil
}

func enabledChannels(cfg *config.Config) string {
	var names []string
	if cfg.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if cfg.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	if cfg.Channels.Gateway.Enabled {
		names = append(names, "web")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
