package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-rag/internal/app"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion"
	"github.com/yungbote/neurobridge-rag/internal/platform/dirwatch"
)

var (
	ingestSystem bool
	ingestOwner  string
	ingestWatch  string
	ingestNoWait bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest documents into the vector index",
	Long: `Ingests each file and waits for it to finish. With --watch, every file already in the
directory is ingested and new or rewritten files are picked up until interrupted. Re-ingesting
unchanged content is a no-op.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestSystem, "system", false, "ingest as system documents visible to every user")
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "owner user id for user documents")
	ingestCmd.Flags().StringVar(&ingestWatch, "watch", "", "directory to seed from and keep watching")
	ingestCmd.Flags().BoolVar(&ingestNoWait, "no-wait", false, "return once documents are queued")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && ingestWatch == "" {
		return errors.New("nothing to ingest: pass files or --watch")
	}
	var owner *uuid.UUID
	if ingestOwner != "" {
		id, err := uuid.Parse(ingestOwner)
		if err != nil {
			return fmt.Errorf("invalid --owner: %w", err)
		}
		owner = &id
	}
	if !ingestSystem && owner == nil {
		return errors.New("user documents need --owner; pass --system for shared documents")
	}

	ctx := cmd.Context()
	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}

	files := append([]string(nil), args...)
	if ingestWatch != "" {
		existing, err := dirwatch.Files(ingestWatch)
		if err != nil {
			return fmt.Errorf("list %s: %w", ingestWatch, err)
		}
		files = append(files, existing...)
	}

	var failed int
	for _, f := range files {
		if err := ingestFile(ctx, cmd, a, f, owner); err != nil {
			failed++
			cmd.PrintErrf("%s: %v\n", f, err)
		}
	}

	if ingestWatch != "" {
		err := dirwatch.Watch(ctx, ingestWatch, dirwatch.DefaultSettle, a.Log, func(path string) {
			if err := ingestFile(ctx, cmd, a, path, owner); err != nil {
				cmd.PrintErrf("%s: %v\n", path, err)
			}
		})
		if err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(files))
	}
	return nil
}

func ingestFile(ctx context.Context, cmd *cobra.Command, a *app.App, path string, owner *uuid.UUID) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	handle, err := a.Services.Ingestion.IngestDocument(ctx, ingestion.Upload{
		Data:             data,
		Filename:         filepath.Base(path),
		MimeType:         mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		OwnerUserID:      owner,
		IsSystemDocument: ingestSystem,
	})
	if err != nil {
		return err
	}
	if handle.Deduplicated {
		cmd.Printf("%s: already ingested as %s (%s)\n", path, handle.Document.ID, handle.Document.Status)
		return nil
	}
	if ingestNoWait {
		cmd.Printf("%s: queued as %s\n", path, handle.Document.ID)
		return nil
	}
	if err := handle.Wait(ctx); err != nil {
		return err
	}
	doc, err := a.Services.Ingestion.GetDocument(ctx, handle.Document.ID)
	if err != nil {
		return err
	}
	total := 0
	if doc.TotalChunks != nil {
		total = *doc.TotalChunks
	}
	cmd.Printf("%s: %s %s (%d/%d chunks)\n", path, doc.ID, doc.Status, doc.ProcessedChunks, total)
	if doc.Status == types.DocumentFailed {
		msg := "processing failed"
		if doc.ProcessingError != nil && *doc.ProcessingError != "" {
			msg = *doc.ProcessingError
		}
		return errors.New(msg)
	}
	return nil
}
