package chunker

import (
	"regexp"
	"strings"

	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion/extractor"
)

const (
	DefaultMaxWords = 350
	DefaultMinWords = 60
)

// Config is persisted with every embedding so a chunk can be traced back to how it was cut.
type Config struct {
	MaxWords     int          `json:"max_words"`
	MinWords     int          `json:"min_words"`
	DocumentType DocumentType `json:"document_type,omitempty"`
}

func DefaultConfig() Config {
	return Config{MaxWords: DefaultMaxWords, MinWords: DefaultMinWords}
}

func (c Config) normalized() Config {
	if c.MaxWords <= 0 {
		c.MaxWords = DefaultMaxWords
	}
	if c.MinWords < 0 {
		c.MinWords = 0
	}
	if c.MinWords > c.MaxWords {
		c.MinWords = c.MaxWords
	}
	return c
}

// Chunk is a contiguous run of source lines. Line and page numbers are 1-based and global to the
// document.
type Chunk struct {
	Index        int
	Content      string
	Section      string
	SectionLevel int
	StartLine    int
	EndLine      int
	PageStart    int
	PageEnd      int
	HasTable     bool
	HasImage     bool
	WordCount    int
}

var (
	reMarkdownHeading = regexp.MustCompile(`^(#{1,6})\s+(\S.*)$`)
	reNumberedHeading = regexp.MustCompile(`^(\d+\.(?:\d+\.?)*)\s+([A-Z].*)$`)
	reCapsHeading     = regexp.MustCompile(`^[A-Z][A-Z\s]+$`)
	rePipeTable       = regexp.MustCompile(`\|.*\|.*\|`)
	reImage           = regexp.MustCompile(`(?i)!\[|<img\b|^\s*(figure|fig\.)\s*\d+`)
)

type line struct {
	text string
	num  int
	page int
}

type blockKind int

const (
	blockText blockKind = iota
	blockHeading
	blockTable
	blockCode
)

type block struct {
	kind     blockKind
	start    int
	end      int
	words    int
	hasImage bool
	title    string
	level    int
}

// Split cuts pages into structure-preserving, non-overlapping chunks. Headings open sections,
// tables and fenced code are never split, and paragraphs are only split at line boundaries when they
// exceed MaxWords on their own. A short trailing chunk is folded into its predecessor when both
// belong to the same section.
func Split(pages []extractor.Page, cfg Config) []Chunk {
	cfg = cfg.normalized()
	lines := flatten(pages)
	blocks := parseBlocks(lines, cfg.DocumentType == TableCSVSQL)

	p := packer{cfg: cfg, lines: lines}
	for _, b := range blocks {
		p.add(b)
	}
	p.flush(true)

	for i := range p.out {
		p.out[i].Index = i
	}
	return p.out
}

func flatten(pages []extractor.Page) []line {
	var out []line
	n := 0
	for i, pg := range pages {
		num := pg.Number
		if num <= 0 {
			num = i + 1
		}
		for _, t := range strings.Split(strings.ReplaceAll(pg.Text, "\r\n", "\n"), "\n") {
			n++
			out = append(out, line{text: strings.TrimRight(t, " \t\r"), num: n, page: num})
		}
	}
	return out
}

func parseBlocks(lines []line, csvTables bool) []block {
	var out []block
	for i := 0; i < len(lines); {
		trimmed := strings.TrimSpace(lines[i].text)
		switch {
		case trimmed == "":
			i++
		case strings.HasPrefix(trimmed, "```"):
			j := i + 1
			for j < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[j].text), "```") {
				j++
			}
			if j == len(lines) {
				j--
			}
			out = append(out, newBlock(lines, blockCode, i, j))
			i = j + 1
		case isTableLine(trimmed, csvTables):
			j := i
			for j+1 < len(lines) && isTableLine(strings.TrimSpace(lines[j+1].text), csvTables) {
				j++
			}
			out = append(out, newBlock(lines, blockTable, i, j))
			i = j + 1
		default:
			if title, level, ok := headingOf(trimmed); ok {
				b := newBlock(lines, blockHeading, i, i)
				b.title, b.level = title, level
				out = append(out, b)
				i++
				continue
			}
			j := i
			for j+1 < len(lines) {
				next := strings.TrimSpace(lines[j+1].text)
				if next == "" || strings.HasPrefix(next, "```") || isTableLine(next, csvTables) {
					break
				}
				if _, _, ok := headingOf(next); ok {
					break
				}
				j++
			}
			out = append(out, newBlock(lines, blockText, i, j))
			i = j + 1
		}
	}
	return out
}

func newBlock(lines []line, kind blockKind, start, end int) block {
	b := block{kind: kind, start: start, end: end}
	for k := start; k <= end; k++ {
		b.words += len(strings.Fields(lines[k].text))
		if reImage.MatchString(lines[k].text) {
			b.hasImage = true
		}
	}
	return b
}

func headingOf(s string) (string, int, bool) {
	if m := reMarkdownHeading.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(strings.TrimRight(m[2], "#")), len(m[1]), true
	}
	if len(strings.Fields(s)) > 12 {
		return "", 0, false
	}
	if m := reNumberedHeading.FindStringSubmatch(s); m != nil {
		if strings.ContainsAny(s[len(s)-1:], ".,;:") {
			return "", 0, false
		}
		return s, len(strings.FieldsFunc(m[1], func(r rune) bool { return r == '.' })), true
	}
	if len(s) <= 80 && reCapsHeading.MatchString(s) && countLetters(s) >= 3 {
		return s, 1, true
	}
	return "", 0, false
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			n++
		}
	}
	return n
}

func isTableLine(s string, csvTables bool) bool {
	if s == "" {
		return false
	}
	if rePipeTable.MatchString(s) {
		return true
	}
	if strings.Contains(s, "\t") {
		return true
	}
	return csvTables && strings.Count(s, ",") >= 2
}

type pending struct {
	start, end   int
	words        int
	headingsOnly bool
	hasTable     bool
	hasImage     bool
	set          bool
}

type packer struct {
	cfg   Config
	lines []line
	out   []Chunk

	section      string
	sectionLevel int
	// first output index belonging to the current section
	sectionFirst int

	cur pending
}

func (p *packer) add(b block) {
	switch b.kind {
	case blockHeading:
		// consecutive headings share a chunk
		if !(p.cur.set && p.cur.headingsOnly) {
			p.flush(true)
			p.sectionFirst = len(p.out)
		}
		p.section, p.sectionLevel = b.title, b.level
		p.extend(b, true)
	case blockText:
		if b.words > p.cfg.MaxWords && b.start < b.end {
			for k := b.start; k <= b.end; k++ {
				if strings.TrimSpace(p.lines[k].text) == "" {
					continue
				}
				p.place(newBlock(p.lines, blockText, k, k))
			}
			return
		}
		p.place(b)
	default:
		p.place(b)
	}
}

func (p *packer) place(b block) {
	if p.cur.set && !p.cur.headingsOnly && p.cur.words+b.words > p.cfg.MaxWords {
		p.flush(false)
	}
	p.extend(b, false)
}

func (p *packer) extend(b block, heading bool) {
	if !p.cur.set {
		p.cur = pending{start: b.start, end: b.end, headingsOnly: heading, set: true}
	} else {
		p.cur.end = b.end
		p.cur.headingsOnly = p.cur.headingsOnly && heading
	}
	p.cur.words += b.words
	p.cur.hasTable = p.cur.hasTable || b.kind == blockTable
	p.cur.hasImage = p.cur.hasImage || b.hasImage
}

// flush emits the pending chunk. At a section end a short tail merges backwards into the previous
// chunk of the same section.
func (p *packer) flush(sectionEnd bool) {
	if !p.cur.set {
		return
	}
	cur := p.cur
	p.cur = pending{}

	if sectionEnd && cur.words < p.cfg.MinWords && len(p.out) > p.sectionFirst {
		prev := &p.out[len(p.out)-1]
		if prev.WordCount+cur.words <= p.cfg.MaxWords+p.cfg.MinWords {
			p.fill(prev, prev.StartLine-1, cur.end, prev.HasTable || cur.hasTable, prev.HasImage || cur.hasImage)
			return
		}
	}

	var c Chunk
	c.Section, c.SectionLevel = p.section, p.sectionLevel
	p.fill(&c, cur.start, cur.end, cur.hasTable, cur.hasImage)
	if c.WordCount == 0 {
		return
	}
	p.out = append(p.out, c)
}

func (p *packer) fill(c *Chunk, start, end int, hasTable, hasImage bool) {
	parts := make([]string, 0, end-start+1)
	for k := start; k <= end; k++ {
		parts = append(parts, p.lines[k].text)
	}
	c.Content = strings.TrimSpace(strings.Join(parts, "\n"))
	c.WordCount = len(strings.Fields(c.Content))
	c.StartLine, c.EndLine = p.lines[start].num, p.lines[end].num
	c.PageStart, c.PageEnd = p.lines[start].page, p.lines[end].page
	c.HasTable, c.HasImage = hasTable, hasImage
}
