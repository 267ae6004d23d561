package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion/extractor"
)

func words(n int, prefix string) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(out, " ")
}

func onePage(text string) []extractor.Page {
	return []extractor.Page{{Number: 1, Text: text}}
}

func TestSplitEmptyDocumentYieldsNoChunks(t *testing.T) {
	assert.Empty(t, Split(onePage("  \n\n\t\n"), DefaultConfig()))
	assert.Empty(t, Split(nil, DefaultConfig()))
}

func TestSplitSectionsAndLevels(t *testing.T) {
	chunks := Split(onePage("# Intro\nalpha beta gamma delta\n\n## Methods\none two three\n"), DefaultConfig())
	require.Len(t, chunks, 2)

	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "Intro", chunks[0].Section)
	assert.Equal(t, 1, chunks[0].SectionLevel)
	assert.Equal(t, "# Intro\nalpha beta gamma delta", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
	assert.Equal(t, 6, chunks[0].WordCount)

	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, "Methods", chunks[1].Section)
	assert.Equal(t, 2, chunks[1].SectionLevel)
	assert.Equal(t, 4, chunks[1].StartLine)
	assert.Equal(t, 5, chunks[1].EndLine)
}

func TestSplitNumberedAndCapsHeadings(t *testing.T) {
	text := "1. Introduction\nfirst part text\n\n2.1 Background\nsecond part text\n\nRESULTS AND DISCUSSION\nthird part text\n\n2023 Revenue grew quickly\n"
	chunks := Split(onePage(text), Config{MaxWords: 100, MinWords: 0})
	require.Len(t, chunks, 3)
	assert.Equal(t, "1. Introduction", chunks[0].Section)
	assert.Equal(t, 1, chunks[0].SectionLevel)
	assert.Equal(t, "2.1 Background", chunks[1].Section)
	assert.Equal(t, 2, chunks[1].SectionLevel)
	assert.Equal(t, "RESULTS AND DISCUSSION", chunks[2].Section)
	assert.Contains(t, chunks[2].Content, "2023 Revenue grew quickly")
}

func TestSplitNeverSplitsTables(t *testing.T) {
	var b strings.Builder
	b.WriteString(words(8, "intro") + "\n\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "| r%d | a | b | c |\n", i)
	}
	b.WriteString("\n" + words(5, "outro") + "\n")

	chunks := Split(onePage(b.String()), Config{MaxWords: 10, MinWords: 0})
	require.Len(t, chunks, 3)

	table := chunks[1]
	assert.True(t, table.HasTable)
	assert.False(t, chunks[0].HasTable)
	assert.Equal(t, 3, table.StartLine)
	assert.Equal(t, 7, table.EndLine)
	for i := 0; i < 5; i++ {
		assert.Contains(t, table.Content, fmt.Sprintf("| r%d |", i))
	}
	assert.Greater(t, table.WordCount, 10)
}

func TestSplitKeepsFencedCodeWhole(t *testing.T) {
	chunks := Split(onePage("```\nx := 1\ny := 2\nz := 3\n```"), Config{MaxWords: 5, MinWords: 0})
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 5, chunks[0].EndLine)
}

func TestSplitOversizedParagraphAtLineBoundaries(t *testing.T) {
	lines := make([]string, 4)
	for i := range lines {
		lines[i] = words(6, fmt.Sprintf("l%d_", i))
	}
	chunks := Split(onePage(strings.Join(lines, "\n")), Config{MaxWords: 10, MinWords: 0})
	require.Len(t, chunks, 4)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.StartLine)
		assert.Equal(t, i+1, c.EndLine)
		assert.Equal(t, 6, c.WordCount)
	}
}

func TestSplitMergesShortTailWithinSection(t *testing.T) {
	text := "# A\n" + words(18, "p") + "\n\n" + words(3, "tail") + "\n"
	chunks := Split(onePage(text), Config{MaxWords: 20, MinWords: 5})
	require.Len(t, chunks, 1)
	assert.Equal(t, 23, chunks[0].WordCount)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 4, chunks[0].EndLine)
	assert.True(t, strings.HasSuffix(chunks[0].Content, "tail2"))
}

func TestSplitDoesNotMergeAcrossSections(t *testing.T) {
	text := "# A\n" + words(18, "p") + "\n# B\nx y\n"
	chunks := Split(onePage(text), Config{MaxWords: 20, MinWords: 5})
	require.Len(t, chunks, 2)
	assert.Equal(t, "A", chunks[0].Section)
	assert.Equal(t, "B", chunks[1].Section)
}

func TestSplitTracksPagesAndImages(t *testing.T) {
	pages := []extractor.Page{
		{Number: 1, Text: "a b c"},
		{Number: 2, Text: "d e f\n\nFigure 3: system overview\n![diagram](arch.png)"},
	}
	chunks := Split(pages, Config{MaxWords: 100, MinWords: 0})
	require.Len(t, chunks, 1)
	c := chunks[0]
	assert.Equal(t, 1, c.PageStart)
	assert.Equal(t, 2, c.PageEnd)
	assert.Equal(t, 1, c.StartLine)
	assert.Equal(t, 5, c.EndLine)
	assert.True(t, c.HasImage)
}

func TestSplitOrderingAndWordConservation(t *testing.T) {
	var pages []extractor.Page
	total := 0
	for p := 1; p <= 3; p++ {
		var b strings.Builder
		fmt.Fprintf(&b, "## Part %d\n", p)
		total += 3
		for i := 0; i < 7; i++ {
			n := 5 + (i*7+p)%23
			b.WriteString(words(n, fmt.Sprintf("w%d_%d_", p, i)) + "\n\n")
			total += n
		}
		b.WriteString("| k | v |\n| 1 | 2 |\n")
		total += 10
		pages = append(pages, extractor.Page{Number: p, Text: b.String()})
	}

	chunks := Split(pages, Config{MaxWords: 50, MinWords: 10})
	require.NotEmpty(t, chunks)

	sum := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
		assert.LessOrEqual(t, c.PageStart, c.PageEnd)
		assert.Equal(t, len(strings.Fields(c.Content)), c.WordCount)
		if i > 0 {
			prev := chunks[i-1]
			assert.Greater(t, c.StartLine, prev.EndLine, "chunk %d overlaps its predecessor", i)
			assert.GreaterOrEqual(t, c.PageStart, prev.PageStart)
		}
		sum += c.WordCount
	}
	assert.Equal(t, total, sum)
}

func TestDetectDocumentType(t *testing.T) {
	prose := strings.Repeat("The reader follows a long narrative sentence that goes on without any markup at all.\n", 12)
	got, score := DetectDocumentType(prose, "story.txt")
	assert.Equal(t, PlainText, got)
	assert.InDelta(t, 1.0, score, 1e-9)

	md := "# Overview of the system design\n\nThe (core) idea is *simple* and well known.\n\n## Details of the approach taken\n\nEach part [is] small and testable in isolation.\n"
	got, _ = DetectDocumentType(md, "design.md")
	assert.Equal(t, ResearchTechnical, got)

	src := "package x\n\nfunc a() {}\nfunc b() {}\nfunc c() {}\nfunc d() {}\n"
	got, _ = DetectDocumentType(src, "x.go")
	assert.Equal(t, Code, got)

	got, _ = DetectDocumentType("id,name,score\n1,ada,3\n", "data.csv")
	assert.Equal(t, TableCSVSQL, got)

	got, _ = DetectDocumentType("", "")
	assert.Equal(t, PlainText, got)
}
