package chunker

import (
	"path/filepath"
	"regexp"
	"strings"
)

type DocumentType string

const (
	PlainText         DocumentType = "plain_text"
	ResearchTechnical DocumentType = "research_technical"
	Code              DocumentType = "code"
	TableCSVSQL       DocumentType = "table_csv_sql"
	Mixed             DocumentType = "mixed"
)

// Features are the coarse signals a DocumentType is scored from.
type Features struct {
	HasHeadings       bool    `json:"has_headings"`
	HasCodeBlocks     bool    `json:"has_code_blocks"`
	HasTables         bool    `json:"has_tables"`
	HasMarkdown       bool    `json:"has_markdown"`
	HasSQL            bool    `json:"has_sql"`
	HasCSV            bool    `json:"has_csv"`
	AverageLineLength float64 `json:"average_line_length"`
	TotalLines        int     `json:"total_lines"`
}

var (
	reDocHeading  = regexp.MustCompile(`(?m)^(#{1,6}\s+|\d+\.\s+|[A-Z][A-Z\s]+$)`)
	reDocCode     = regexp.MustCompile("(?m)```[\\s\\S]*?```|^\\s{4,}\\S.*$")
	reDocTable    = regexp.MustCompile(`(?m)\|.*\|.*\|`)
	reDocMarkdown = regexp.MustCompile(`[*_` + "`" + `#\[\]()]`)
	reDocSQL      = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|CREATE|DROP|ALTER|FROM|WHERE|JOIN|UNION)\b`)
	reDocCSV      = regexp.MustCompile(`(?m)"[^"]*",|^[^,\n]*,[^,\n]*,[^,\n]*$`)
)

var codeExtensions = map[string]bool{
	".js": true, ".ts": true, ".py": true, ".java": true, ".cpp": true, ".c": true,
	".go": true, ".rs": true, ".php": true, ".rb": true,
}

func AnalyzeFeatures(text, filename string) Features {
	lines := strings.Split(text, "\n")
	total := 0
	for _, l := range lines {
		total += len(l)
	}
	f := Features{TotalLines: len(lines)}
	if len(lines) > 0 {
		f.AverageLineLength = float64(total) / float64(len(lines))
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); {
	case ext == ".sql" || ext == ".csv" || ext == ".tsv":
		f.HasTables = true
		f.HasSQL = ext == ".sql"
		f.HasCSV = ext != ".sql"
		return f
	case codeExtensions[ext]:
		f.HasCodeBlocks = true
		return f
	}

	f.HasHeadings = reDocHeading.MatchString(text)
	f.HasCodeBlocks = reDocCode.MatchString(text)
	f.HasTables = reDocTable.MatchString(text)
	f.HasMarkdown = reDocMarkdown.MatchString(text)
	f.HasSQL = reDocSQL.MatchString(text)
	f.HasCSV = reDocCSV.MatchString(text)
	return f
}

// DetectDocumentType scores every type and returns the best with its score in [0,1].
// Ties resolve in declaration order, so plain text wins when nothing stands out.
func DetectDocumentType(text, filename string) (DocumentType, float64) {
	f := AnalyzeFeatures(text, filename)
	scores := []struct {
		t DocumentType
		s float64
	}{
		{PlainText, plainTextScore(f)},
		{ResearchTechnical, researchScore(f)},
		{Code, codeScore(f)},
		{TableCSVSQL, tableScore(f)},
		{Mixed, mixedScore(f)},
	}
	best, bestScore := PlainText, 0.0
	for _, sc := range scores {
		if sc.s > bestScore {
			best, bestScore = sc.t, sc.s
		}
	}
	return best, bestScore
}

func plainTextScore(f Features) float64 {
	s := 0.5
	if !f.HasHeadings && !f.HasCodeBlocks && !f.HasTables {
		s += 0.3
	}
	if f.AverageLineLength > 50 && f.AverageLineLength < 200 {
		s += 0.2
	}
	if f.TotalLines > 10 {
		s += 0.1
	}
	return capScore(s)
}

func researchScore(f Features) float64 {
	s := 0.2
	if f.HasHeadings {
		s += 0.4
	}
	if f.HasMarkdown {
		s += 0.2
	}
	if f.AverageLineLength > 30 {
		s += 0.1
	}
	if f.TotalLines > 20 {
		s += 0.1
	}
	return capScore(s)
}

func codeScore(f Features) float64 {
	s := 0.3
	if f.HasCodeBlocks {
		s += 0.4
	}
	if f.AverageLineLength < 100 {
		s += 0.2
	}
	if f.TotalLines > 5 {
		s += 0.1
	}
	return capScore(s)
}

func tableScore(f Features) float64 {
	s := 0.2
	if f.HasTables {
		s += 0.4
	}
	if f.HasSQL {
		s += 0.3
	}
	if f.HasCSV {
		s += 0.3
	}
	if f.AverageLineLength < 200 {
		s += 0.1
	}
	return capScore(s)
}

func mixedScore(f Features) float64 {
	n := 0
	for _, b := range []bool{f.HasHeadings, f.HasCodeBlocks, f.HasTables, f.HasMarkdown} {
		if b {
			n++
		}
	}
	s := 0.1
	if n >= 2 {
		s += 0.3
	}
	if n >= 3 {
		s += 0.2
	}
	return capScore(s)
}

func capScore(s float64) float64 {
	if s > 1 {
		return 1
	}
	return s
}
