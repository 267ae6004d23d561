package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-rag/internal/app"
	"github.com/yungbote/neurobridge-rag/internal/modules/mastery"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage the topic taxonomy",
}

var topicsImportCmd = &cobra.Command{
	Use:   "import [taxonomy.yaml]",
	Short: "Upsert topics by slug from a YAML taxonomy",
	Long: `Reads a document of the form

  topics:
    - slug: algebra
      name: Algebra
      chapter: 1
      children:
        - slug: linear-equations
          name: Linear Equations
          expected_questions: 4

Entries may also name an existing topic with parent: <slug>. Parents are written before their
children and existing slugs keep their ids.`,
	Args: cobra.ExactArgs(1),
	RunE: runTopicsImport,
}

func init() {
	topicsCmd.AddCommand(topicsImportCmd)
	rootCmd.AddCommand(topicsCmd)
}

func runTopicsImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	specs, err := mastery.ParseTaxonomy(f)
	if err != nil {
		return err
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
	topics, err := svc.ImportTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	cmd.Printf("Imported %d topics.\n", len(topics))
	return nil
}
