package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"

	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

var (
	// ErrUnsupported marks a file kind no extractor handles.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrUnparseable marks bytes that claim a supported kind but cannot be read.
	ErrUnparseable = errors.New("document could not be parsed")
)

// Page is one page of extracted text. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

type Kind string

const (
	KindPDF  Kind = "pdf"
	KindEPUB Kind = "epub"
	KindText Kind = "text"
)

type Extractor interface {
	Extract(ctx context.Context, data []byte, filename, mimeType string) ([]Page, error)
}

type extractor struct {
	log      *logger.Logger
	maxPages int
}

// New returns the default extractor. maxPages <= 0 means no limit.
func New(log *logger.Logger, maxPages int) Extractor {
	return &extractor{log: log.With("component", "Extractor"), maxPages: maxPages}
}

func (e *extractor) Extract(ctx context.Context, data []byte, filename, mimeType string) ([]Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnparseable)
	}
	kind, ok := DetectKind(data, filename, mimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupported, filename, mimeType)
	}
	switch kind {
	case KindPDF, KindEPUB:
		return e.extractFitz(ctx, data, kind)
	case KindText:
		return extractText(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
}

func (e *extractor) extractFitz(ctx context.Context, data []byte, kind Kind) ([]Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnparseable, kind, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if e.maxPages > 0 && n > e.maxPages {
		e.log.Warn("Truncating document pages", "kind", kind, "pages", n, "max_pages", e.maxPages)
		n = e.maxPages
	}
	pages := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			e.log.Warn("Page text extraction failed", "kind", kind, "page", i+1, "error", err)
			text = ""
		}
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	if !hasText(pages) {
		return nil, fmt.Errorf("%w: %s has no extractable text", ErrUnparseable, kind)
	}
	return pages, nil
}

// extractText treats form feeds as page breaks.
func extractText(data []byte) ([]Page, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text is not valid utf-8", ErrUnparseable)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	parts := strings.Split(text, "\f")
	pages := make([]Page, 0, len(parts))
	for i, p := range parts {
		pages = append(pages, Page{Number: i + 1, Text: p})
	}
	return pages, nil
}

func hasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".csv": true, ".tsv": true,
	".sql": true, ".json": true, ".yaml": true, ".yml": true, ".xml": true, ".html": true,
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".rs": true, ".rb": true, ".sh": true, ".tex": true,
}

// DetectKind sniffs magic bytes first, then the mime type, then the extension.
func DetectKind(data []byte, filename, mimeType string) (Kind, bool) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return KindPDF, true
	}
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case mt == "application/pdf" || ext == ".pdf":
		return KindPDF, true
	case mt == "application/epub+zip" || ext == ".epub":
		return KindEPUB, true
	case strings.HasPrefix(mt, "text/"), textExtensions[ext]:
		return KindText, true
	case mt == "" || mt == "application/octet-stream":
		if utf8.Valid(data) && !bytes.ContainsRune(data, 0) {
			return KindText, true
		}
	}
	return "", false
}
