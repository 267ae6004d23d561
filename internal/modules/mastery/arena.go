package mastery

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
)

// TopicArena is an immutable index over the topic table. Parents are plain keys on each Topic; the
// arena resolves them into child and sibling lists by position.
type TopicArena struct {
	topics   []*types.Topic
	byID     map[uuid.UUID]int
	bySlug   map[string]int
	children [][]int
	roots    []int
}

func NewTopicArena(topics []*types.Topic) *TopicArena {
	a := &TopicArena{
		byID:   make(map[uuid.UUID]int, len(topics)),
		bySlug: make(map[string]int, len(topics)),
	}
	for _, t := range topics {
		if t == nil || t.ID == uuid.Nil {
			continue
		}
		if _, dup := a.byID[t.ID]; dup {
			continue
		}
		a.byID[t.ID] = len(a.topics)
		a.bySlug[t.Slug] = len(a.topics)
		a.topics = append(a.topics, t)
	}
	a.children = make([][]int, len(a.topics))
	for i, t := range a.topics {
		if t.ParentID == nil {
			a.roots = append(a.roots, i)
			continue
		}
		p, ok := a.byID[*t.ParentID]
		if !ok || p == i {
			a.roots = append(a.roots, i)
			continue
		}
		a.children[p] = append(a.children[p], i)
	}
	for i := range a.children {
		a.sortIdx(a.children[i])
	}
	a.sortIdx(a.roots)
	return a
}

// sortIdx orders siblings by chapter number, unnumbered last, then slug.
func (a *TopicArena) sortIdx(idx []int) {
	sort.SliceStable(idx, func(i, j int) bool {
		ti, tj := a.topics[idx[i]], a.topics[idx[j]]
		ci, cj := ti.ChapterNum, tj.ChapterNum
		switch {
		case ci != nil && cj != nil && *ci != *cj:
			return *ci < *cj
		case ci != nil && cj == nil:
			return true
		case ci == nil && cj != nil:
			return false
		}
		return ti.Slug < tj.Slug
	})
}

func (a *TopicArena) Len() int { return len(a.topics) }

func (a *TopicArena) All() []*types.Topic {
	out := make([]*types.Topic, len(a.topics))
	copy(out, a.topics)
	return out
}

func (a *TopicArena) ByID(id uuid.UUID) (*types.Topic, bool) {
	i, ok := a.byID[id]
	if !ok {
		return nil, false
	}
	return a.topics[i], true
}

func (a *TopicArena) BySlug(slug string) (*types.Topic, bool) {
	i, ok := a.bySlug[slug]
	if !ok {
		return nil, false
	}
	return a.topics[i], true
}

func (a *TopicArena) Parent(id uuid.UUID) (*types.Topic, bool) {
	t, ok := a.ByID(id)
	if !ok || t.ParentID == nil {
		return nil, false
	}
	return a.ByID(*t.ParentID)
}

func (a *TopicArena) Children(id uuid.UUID) []*types.Topic {
	i, ok := a.byID[id]
	if !ok {
		return nil
	}
	return a.pick(a.children[i])
}

func (a *TopicArena) Roots() []*types.Topic { return a.pick(a.roots) }

// Siblings returns the other children of id's parent, or the other roots for a root topic.
func (a *TopicArena) Siblings(id uuid.UUID) []*types.Topic {
	var pool []*types.Topic
	if p, ok := a.Parent(id); ok {
		pool = a.Children(p.ID)
	} else {
		pool = a.Roots()
	}
	out := make([]*types.Topic, 0, len(pool))
	for _, t := range pool {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// NextChapter returns the root topic numbered one past the chapter that contains id.
func (a *TopicArena) NextChapter(id uuid.UUID) (*types.Topic, bool) {
	chapter, ok := a.ByID(id)
	if !ok {
		return nil, false
	}
	for hops := 0; hops < len(a.topics); hops++ {
		p, ok := a.Parent(chapter.ID)
		if !ok {
			break
		}
		chapter = p
	}
	if chapter.ChapterNum == nil {
		return nil, false
	}
	want := *chapter.ChapterNum + 1
	for _, r := range a.Roots() {
		if r.ChapterNum != nil && *r.ChapterNum == want {
			return r, true
		}
	}
	return nil, false
}

func (a *TopicArena) View(id uuid.UUID) (TopicView, bool) {
	t, ok := a.ByID(id)
	if !ok {
		return TopicView{}, false
	}
	return TopicView{Topic: t, Children: a.Children(id)}, true
}

func (a *TopicArena) pick(idx []int) []*types.Topic {
	out := make([]*types.Topic, 0, len(idx))
	for _, i := range idx {
		out = append(out, a.topics[i])
	}
	return out
}

// TopicView is the slice of the taxonomy one score update needs.
type TopicView struct {
	Topic    *types.Topic
	Children []*types.Topic
}

// MatchSubtopics resolves cited section labels to the slugs of the children they mention.
func (v TopicView) MatchSubtopics(sections []string) []string {
	var out []string
	for _, raw := range sections {
		sec := normalizeLabel(raw)
		if sec == "" {
			continue
		}
		for _, ch := range v.Children {
			slug := strings.ToLower(ch.Slug)
			name := normalizeLabel(ch.Name)
			if sec == slug || strings.Contains(sec, slug) || (len(name) >= 3 && strings.Contains(sec, name)) {
				out = append(out, ch.Slug)
			}
		}
	}
	return out
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
