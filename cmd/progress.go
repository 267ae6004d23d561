package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-rag/internal/app"
	"github.com/yungbote/neurobridge-rag/internal/clients/redis"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
)

var progressDocument string

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Follow document progress events published over redis",
	Long: `Subscribes to REDIS_CHANNEL and prints one JSON object per progress event until
interrupted. --document narrows the stream to a single document id.`,
	Args: cobra.NoArgs,
	RunE: runProgress,
}

func init() {
	progressCmd.Flags().StringVar(&progressDocument, "document", "", "only show events for this document id")
	rootCmd.AddCommand(progressCmd)
}

func runProgress(cmd *cobra.Command, _ []string) error {
	log, err := app.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()
	cfg := app.LoadConfig(log)
	if cfg.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is not set")
	}
	bus, err := redis.NewProgressBus(cfg.Redis, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx := cmd.Context()
	err = bus.StartForwarder(ctx, func(ev types.ProgressEvent) {
		if progressDocument != "" && ev.DocumentID.String() != progressDocument {
			return
		}
		_ = printJSON(cmd, ev)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
