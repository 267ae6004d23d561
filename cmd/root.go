package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "neurobridge-rag",
	Short: "Document ingestion, retrieval and topic mastery tracking",
	Long: `neurobridge-rag ingests documents into a pgvector index, serves retrieval over HTTP
and tracks per-topic mastery from answered questions.

Configuration is read from the environment (POSTGRES_*, OPENAI_*, REDIS_*, CONTENT_STORE_*,
OTEL_*); CONFIG_FILE may point at a YAML file with a mastery: section.`,
	SilenceUsage: true,
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
