package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-rag/internal/app"
)

var (
	replayUser  string
	replayTopic string
)

var masteryCmd = &cobra.Command{
	Use:   "mastery",
	Short: "Inspect and repair topic mastery records",
}

var masteryReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Recompute one mastery record from its interaction log",
	Args:  cobra.NoArgs,
	RunE:  runMasteryReplay,
}

func init() {
	masteryReplayCmd.Flags().StringVar(&replayUser, "user", "", "user id (required)")
	masteryReplayCmd.Flags().StringVar(&replayTopic, "topic", "", "topic id (required)")
	_ = masteryReplayCmd.MarkFlagRequired("user")
	_ = masteryReplayCmd.MarkFlagRequired("topic")
	masteryCmd.AddCommand(masteryReplayCmd)
	rootCmd.AddCommand(masteryCmd)
}

func runMasteryReplay(cmd *cobra.Command, _ []string) error {
	userID, err := uuid.Parse(replayUser)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}
	topicID, err := uuid.Parse(replayTopic)
	if err != nil {
		return fmt.Errorf("invalid --topic: %w", err)
	}

	ctx := cmd.Context()
	base, err := app.Open(ctx)
	if err != nil {
		return err
	}
	defer base.Close()
	svc, err := base.Mastery()
	if err != nil {
		return err
	}
	row, err := svc.ReplayMastery(ctx, userID, topicID)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	return printJSON(cmd, row)
}
