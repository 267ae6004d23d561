package mastery

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	domainlearning "github.com/yungbote/neurobridge-rag/internal/domain/learning"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	errs "github.com/yungbote/neurobridge-rag/internal/pkg/errors"
)

// TopicSpec is one taxonomy entry. Parent names another entry's slug, or an existing topic; nested
// Children take their parent from the enclosing entry.
type TopicSpec struct {
	Slug               string      `yaml:"slug" json:"slug"`
	Name               string      `yaml:"name" json:"name"`
	Parent             string      `yaml:"parent,omitempty" json:"parent,omitempty"`
	Chapter            *int        `yaml:"chapter,omitempty" json:"chapter,omitempty"`
	Keywords           []string    `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Aliases            []string    `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	ExpectedQuestions  int         `yaml:"expected_questions,omitempty" json:"expected_questions,omitempty"`
	TargetAnswerLength int         `yaml:"target_answer_length,omitempty" json:"target_answer_length,omitempty"`
	TargetCitations    int         `yaml:"target_citations,omitempty" json:"target_citations,omitempty"`
	Children           []TopicSpec `yaml:"children,omitempty" json:"children,omitempty"`
}

type taxonomyFile struct {
	Topics []TopicSpec `yaml:"topics"`
}

// ParseTaxonomy reads a YAML document with a top-level `topics:` list.
func ParseTaxonomy(r io.Reader) ([]TopicSpec, error) {
	var f taxonomyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty taxonomy", errs.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("%w: parse taxonomy: %v", errs.ErrInvalidArgument, err)
	}
	return f.Topics, nil
}

// flattenTaxonomy returns the entries parents first. Parents outside the batch are left for the
// database to resolve.
func flattenTaxonomy(specs []TopicSpec) ([]TopicSpec, error) {
	var flat []TopicSpec
	var walk func(list []TopicSpec, parent string)
	walk = func(list []TopicSpec, parent string) {
		for _, sp := range list {
			sp.Slug = strings.TrimSpace(sp.Slug)
			if parent != "" {
				sp.Parent = parent
			}
			sp.Parent = strings.TrimSpace(sp.Parent)
			children := sp.Children
			sp.Children = nil
			flat = append(flat, sp)
			walk(children, sp.Slug)
		}
	}
	walk(specs, "")

	index := map[string]int{}
	for i, sp := range flat {
		if sp.Slug == "" {
			return nil, fmt.Errorf("%w: topic %d has no slug", errs.ErrInvalidArgument, i)
		}
		if _, dup := index[sp.Slug]; dup {
			return nil, fmt.Errorf("%w: duplicate topic slug %q", errs.ErrInvalidArgument, sp.Slug)
		}
		if sp.Parent == sp.Slug {
			return nil, fmt.Errorf("%w: topic %q is its own parent", errs.ErrInvalidArgument, sp.Slug)
		}
		index[sp.Slug] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(flat))
	ordered := make([]TopicSpec, 0, len(flat))
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: parent cycle through %q", errs.ErrInvalidArgument, flat[i].Slug)
		}
		state[i] = visiting
		if p, ok := index[flat[i].Parent]; ok {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[i] = done
		ordered = append(ordered, flat[i])
		return nil
	}
	for i := range flat {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// ImportTopics upserts the taxonomy by slug in one transaction and rebuilds the arena.
func (s *service) ImportTopics(ctx context.Context, specs []TopicSpec) ([]*types.Topic, error) {
	ordered, err := flattenTaxonomy(specs)
	if err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		return []*types.Topic{}, nil
	}

	out := make([]*types.Topic, 0, len(ordered))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		saved := map[string]*types.Topic{}
		for _, sp := range ordered {
			row := &types.Topic{
				Slug:               sp.Slug,
				Name:               strings.TrimSpace(sp.Name),
				ChapterNum:         sp.Chapter,
				Keywords:           domainlearning.EncodeStrings(sp.Keywords),
				Aliases:            domainlearning.EncodeStrings(sp.Aliases),
				ExpectedQuestions:  sp.ExpectedQuestions,
				TargetAnswerLength: sp.TargetAnswerLength,
				TargetCitations:    sp.TargetCitations,
			}
			if sp.Parent != "" {
				parent := saved[sp.Parent]
				if parent == nil {
					p, err := s.topics.GetBySlug(dbc, sp.Parent)
					if err != nil {
						return fmt.Errorf("lookup parent %q: %w", sp.Parent, err)
					}
					parent = p
				}
				if parent == nil {
					return fmt.Errorf("%w: topic %q has unknown parent %q", errs.ErrInvalidArgument, sp.Slug, sp.Parent)
				}
				pid := parent.ID
				row.ParentID = &pid
				row.Level = parent.Level + 1
			}
			got, err := s.topics.UpsertBySlug(dbc, row)
			if err != nil {
				return fmt.Errorf("upsert topic %q: %w", sp.Slug, err)
			}
			saved[got.Slug] = got
			out = append(out, got)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.reloadTopics(ctx); err != nil {
		return nil, err
	}
	s.log.Info("Topics imported", "count", len(out))
	return out, nil
}
