package mastery

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-rag/internal/data/repos"
	"github.com/yungbote/neurobridge-rag/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	errs "github.com/yungbote/neurobridge-rag/internal/pkg/errors"
	"github.com/yungbote/neurobridge-rag/internal/pkg/pointers"
)

const taxonomyYAML = `
topics:
  - slug: algebra
    name: Algebra
    chapter: 1
    children:
      - slug: linear-equations
        name: Linear Equations
        expected_questions: 4
      - slug: quadratics
        name: Quadratic Functions
  - slug: geometry
    name: Geometry
    chapter: 2
    children:
      - slug: triangles
        name: Triangles
  - slug: proofs
    name: Proofs
    parent: geometry
`

type harness struct {
	svc   Service
	impl  *service
	repos repos.Set
	clock time.Time
	user  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.SQLite(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	svc, err := NewService(Deps{
		DB:           db,
		Log:          log,
		Topics:       set.Topics,
		Interactions: set.Interactions,
		Mastery:      set.Mastery,
	}, DefaultConfig())
	require.NoError(t, err)

	h := &harness{svc: svc, impl: svc.(*service), repos: set, clock: t0, user: uuid.New()}
	h.impl.now = func() time.Time { return h.clock }

	specs, err := ParseTaxonomy(strings.NewReader(taxonomyYAML))
	require.NoError(t, err)
	_, err = svc.ImportTopics(context.Background(), specs)
	require.NoError(t, err)
	return h
}

func (h *harness) topic(t *testing.T, slug string) *types.Topic {
	t.Helper()
	a, err := h.svc.Topics(context.Background())
	require.NoError(t, err)
	tp, ok := a.BySlug(slug)
	require.True(t, ok, slug)
	return tp
}

func TestNewServiceRejectsMissingDeps(t *testing.T) {
	_, err := NewService(Deps{}, DefaultConfig())
	assert.Error(t, err)
}

func TestImportTopicsBuildsHierarchy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, a.Len())

	algebra := h.topic(t, "algebra")
	linear := h.topic(t, "linear-equations")
	proofs := h.topic(t, "proofs")
	assert.Equal(t, 0, algebra.Level)
	assert.Equal(t, 1, linear.Level)
	assert.Equal(t, 4, linear.ExpectedQuestions)
	assert.Equal(t, 5, algebra.ExpectedQuestions)
	require.NotNil(t, proofs.ParentID)
	assert.Equal(t, h.topic(t, "geometry").ID, *proofs.ParentID)

	kids := a.Children(algebra.ID)
	require.Len(t, kids, 2)
	assert.Equal(t, "linear-equations", kids[0].Slug)

	// re-import keeps ids and applies edits
	_, err = h.svc.ImportTopics(ctx, []TopicSpec{{Slug: "algebra", Name: "Algebra I", Chapter: pointers.Int(1)}})
	require.NoError(t, err)
	renamed := h.topic(t, "algebra")
	assert.Equal(t, algebra.ID, renamed.ID)
	assert.Equal(t, "Algebra I", renamed.Name)

	_, err = h.svc.ImportTopics(ctx, []TopicSpec{{Slug: "orphan", Parent: "missing"}})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestFlattenTaxonomyRejectsCyclesAndDuplicates(t *testing.T) {
	_, err := flattenTaxonomy([]TopicSpec{{Slug: "a", Parent: "b"}, {Slug: "b", Parent: "a"}})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = flattenTaxonomy([]TopicSpec{{Slug: "a"}, {Slug: "a"}})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	ordered, err := flattenTaxonomy([]TopicSpec{{Slug: "child", Parent: "root"}, {Slug: "root"}})
	require.NoError(t, err)
	assert.Equal(t, "root", ordered[0].Slug)
	assert.Equal(t, "child", ordered[1].Slug)
}

func TestParseTaxonomyRejectsUnknownFields(t *testing.T) {
	_, err := ParseTaxonomy(strings.NewReader("topics:\n  - slug: a\n    colour: red\n"))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = ParseTaxonomy(strings.NewReader(""))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestRecordInteractionScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	linear := h.topic(t, "linear-equations")

	row, err := h.svc.RecordInteraction(ctx, Interaction{
		UserID:            h.user,
		TopicID:           linear.ID,
		Query:             "how do I isolate x in a linear equation",
		MappingConfidence: 0.9,
		RagConfidence:     types.RagConfidenceHigh,
		RagTopScore:       0.8,
		CitedSections:     []string{"Alpha"},
		AnswerLength:      400,
		CitationCount:     2,
		TimeSpentMs:       pointers.Int64(30_000),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, row.QuestionsAsked)
	assert.Equal(t, types.MasteryBeginner, row.Status)
	assert.Greater(t, row.MasteryLevel, 0.0)
	assert.Less(t, row.MasteryLevel, DefaultConfig().Thresholds.Learning)

	stored, err := h.svc.GetMastery(ctx, h.user, linear.ID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, stored.ID)
	assert.Equal(t, row.MasteryLevel, stored.MasteryLevel)
	assert.Equal(t, int64(30_000), stored.TimeSpentMsTotal)
	require.NotNil(t, stored.FirstInteraction)
	assert.True(t, stored.FirstInteraction.Equal(t0))

	events, err := h.repos.Interactions.ListByUserTopic(dbctx.Context{Ctx: ctx}, h.user, linear.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "how do i isolate x in a linear equation", events[0].IntentKey)
}

func TestRecordInteractionValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	linear := h.topic(t, "linear-equations")

	_, err := h.svc.RecordInteraction(ctx, Interaction{UserID: h.user, TopicID: linear.ID, Query: "  "})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = h.svc.RecordInteraction(ctx, Interaction{TopicID: linear.ID, Query: "q"})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = h.svc.RecordInteraction(ctx, Interaction{UserID: h.user, TopicID: uuid.New(), Query: "q"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = h.svc.GetMastery(ctx, h.user, linear.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReplayReproducesStoredRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	algebra := h.topic(t, "algebra")

	sections := [][]string{{"Linear Equations"}, {"intro"}, {"Quadratic Functions", "linear-equations"}, nil}
	for i := 0; i < 9; i++ {
		h.clock = t0.Add(time.Duration(i*i) * 37 * time.Minute).Add(123456789 * time.Nanosecond)
		_, err := h.svc.RecordInteraction(ctx, Interaction{
			UserID:            h.user,
			TopicID:           algebra.ID,
			Query:             "question number " + string(rune('a'+i%5)),
			MappingConfidence: 0.55 + float64(i%5)/10,
			RagConfidence:     []types.RagConfidence{types.RagConfidenceHigh, types.RagConfidenceMedium, types.RagConfidenceLow}[i%3],
			RagTopScore:       float64(i%7) / 7,
			CitedSections:     sections[i%len(sections)],
			AnswerLength:      150 * i,
			CitationCount:     i % 4,
			HadFollowUp:       i%3 == 0,
		})
		require.NoError(t, err)
	}

	stored, err := h.svc.GetMastery(ctx, h.user, algebra.ID)
	require.NoError(t, err)
	replayed, err := h.svc.ReplayMastery(ctx, h.user, algebra.ID)
	require.NoError(t, err)
	reloaded, err := h.svc.GetMastery(ctx, h.user, algebra.ID)
	require.NoError(t, err)

	for _, got := range []*types.TopicMastery{replayed, reloaded} {
		assert.Equal(t, stored.ID, got.ID)
		assert.Equal(t, stored.QuestionsAsked, got.QuestionsAsked)
		assert.Equal(t, stored.CoverageScore, got.CoverageScore)
		assert.Equal(t, stored.DepthScore, got.DepthScore)
		assert.Equal(t, stored.ConfidenceScore, got.ConfidenceScore)
		assert.Equal(t, stored.DiversityScore, got.DiversityScore)
		assert.Equal(t, stored.RetentionScore, got.RetentionScore)
		assert.Equal(t, stored.MasteryLevel, got.MasteryLevel)
		assert.Equal(t, stored.Status, got.Status)
		assert.Equal(t, stored.RetentionStrength, got.RetentionStrength)
		assert.Equal(t, stored.SubtopicList(), got.SubtopicList())
		assert.Equal(t, stored.IntentList(), got.IntentList())
		assert.True(t, stored.LastInteraction.Equal(*got.LastInteraction))
		assert.True(t, stored.FirstInteraction.Equal(*got.FirstInteraction))
	}
	assert.Equal(t, 9, stored.QuestionsAsked)
	assert.Equal(t, []string{"linear-equations", "quadratics"}, stored.SubtopicList())
	assert.Len(t, stored.IntentList(), 5)
}

func TestConcurrentInteractionsSerializePerKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	topic := h.topic(t, "triangles")

	const n = 16
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.RecordInteraction(ctx, Interaction{
				UserID:            h.user,
				TopicID:           topic.ID,
				Query:             "triangle question " + string(rune('a'+i)),
				MappingConfidence: 0.9,
				RagConfidence:     types.RagConfidenceHigh,
				RagTopScore:       0.7,
				AnswerLength:      500,
				CitationCount:     1,
			})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	row, err := h.svc.GetMastery(ctx, h.user, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, n, row.QuestionsAsked)
	assert.Len(t, row.IntentList(), n)
	assert.Equal(t, 0, h.impl.locks.len())

	replayed, err := h.svc.ReplayMastery(ctx, h.user, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, row.MasteryLevel, replayed.MasteryLevel)
}

func TestRecordMappedInteractions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	linear := h.topic(t, "linear-equations")
	quad := h.topic(t, "quadratics")
	dbc := dbctx.Context{Ctx: ctx}

	rows, err := h.svc.RecordMappedInteractions(ctx, MappedInteraction{
		UserID: h.user,
		Query:  "slope?",
		Mappings: []TopicMapping{
			{TopicID: linear.ID, Confidence: 0.7},
			{TopicID: quad.ID, Confidence: 0.6},
			{TopicID: linear.ID, Confidence: 0.9},
			{TopicID: uuid.New(), Confidence: 0.95},
		},
		Rag:           RagMetadata{Confidence: types.RagConfidenceHigh, TopScore: 0.8, CitedSections: []string{"Linear Equations"}},
		AnswerLength:  300,
		CitationCount: 1,
		TimeSpentMs:   pointers.Int64(12_000),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, linear.ID, rows[0].TopicID)

	events, err := h.repos.Interactions.ListByUserTopic(dbc, h.user, linear.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0.9, events[0].MappingConfidence)
	assert.Equal(t, types.RagConfidenceLow, events[0].RagConfidence)
	require.NotNil(t, events[0].TimeSpentMs)
	assert.Equal(t, int64(0), *events[0].TimeSpentMs)
	assert.False(t, events[0].HadFollowUp)

	if quadRow, err := h.repos.Mastery.Get(dbc, h.user, quad.ID); assert.NoError(t, err) {
		assert.Nil(t, quadRow)
	}

	long := "could you walk me through solving a system of two linear equations step by step"
	h.clock = t0.Add(2 * time.Minute)
	_, err = h.svc.RecordMappedInteractions(ctx, MappedInteraction{
		UserID:      h.user,
		Query:       long,
		Mappings:    []TopicMapping{{TopicID: linear.ID, Confidence: 0.8}},
		Rag:         RagMetadata{Confidence: types.RagConfidenceMedium, TopScore: 0.6},
		TimeSpentMs: pointers.Int64(45_000),
	})
	require.NoError(t, err)

	h.clock = t0.Add(3 * time.Hour)
	_, err = h.svc.RecordMappedInteractions(ctx, MappedInteraction{
		UserID:   h.user,
		Query:    long + " again",
		Mappings: []TopicMapping{{TopicID: linear.ID, Confidence: 0.8}},
		Rag:      RagMetadata{Confidence: types.RagConfidenceMedium, TopScore: 0.6},
	})
	require.NoError(t, err)

	events, err = h.repos.Interactions.ListByUserTopic(dbc, h.user, linear.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.RagConfidenceMedium, events[1].RagConfidence)
	assert.Equal(t, int64(45_000), *events[1].TimeSpentMs)
	assert.True(t, events[1].HadFollowUp)
	assert.False(t, events[2].HadFollowUp)

	row, err := h.svc.GetMastery(ctx, h.user, linear.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, row.QuestionsAsked)
	assert.Equal(t, 1, row.FollowUps)

	none, err := h.svc.RecordMappedInteractions(ctx, MappedInteraction{
		UserID:   h.user,
		Query:    "unrelated",
		Mappings: []TopicMapping{{TopicID: linear.ID, Confidence: 0.6}},
	})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestProgressSummaryAndTopicDetail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	algebra := h.topic(t, "algebra")
	linear := h.topic(t, "linear-equations")

	record := func(topic *types.Topic, at time.Time, q string) {
		h.clock = at
		_, err := h.svc.RecordInteraction(ctx, Interaction{
			UserID:            h.user,
			TopicID:           topic.ID,
			Query:             q,
			MappingConfidence: 0.9,
			RagConfidence:     types.RagConfidenceHigh,
			RagTopScore:       0.9,
			CitedSections:     []string{"Linear Equations"},
			AnswerLength:      700,
			CitationCount:     3,
			TimeSpentMs:       pointers.Int64(90_000),
		})
		require.NoError(t, err)
	}
	record(linear, t0.Add(-3*24*time.Hour), "what is slope")
	record(linear, t0.Add(-24*time.Hour), "what is an intercept")
	record(algebra, t0, "what is algebra")

	h.clock = t0.Add(time.Hour)
	sum, err := h.svc.GetProgressSummary(ctx, h.user)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.TotalTopics)
	assert.Equal(t, 3, sum.TotalQuestions)
	assert.Equal(t, int64(4), sum.TotalTimeMinutes)
	assert.Equal(t, 2, sum.TopicsExplored)
	assert.Equal(t, 4, sum.ByStatus.NotStarted)
	assert.Greater(t, sum.OverallProgress, 0.0)
	assert.Less(t, sum.OverallProgress, 1.0)
	require.Len(t, sum.TopActiveTopics, 2)
	assert.Equal(t, algebra.ID, sum.TopActiveTopics[0].TopicID)
	assert.Equal(t, "Algebra", sum.TopActiveTopics[1].ChapterName)
	require.Len(t, sum.WeeklyActivity, 7)
	assert.Equal(t, t0.Format("2006-01-02"), sum.WeeklyActivity[6].Date)
	assert.Equal(t, 1, sum.WeeklyActivity[6].Interactions)
	assert.Equal(t, 1, sum.WeeklyActivity[5].Interactions)
	assert.Equal(t, 1, sum.WeeklyActivity[3].Interactions)

	detail, err := h.svc.GetTopicDetail(ctx, h.user, algebra.ID)
	require.NoError(t, err)
	assert.Equal(t, algebra.ID, detail.Topic.ID)
	assert.Nil(t, detail.Parent)
	require.NotNil(t, detail.Mastery)
	assert.Greater(t, detail.CurrentRetention, 0.0)
	assert.Len(t, detail.RecentInteractions, 1)
	require.Len(t, detail.Subtopics, 2)
	assert.True(t, detail.Subtopics[0].Explored)
	assert.Greater(t, detail.Subtopics[0].MasteryLevel, 0.0)
	assert.False(t, detail.Subtopics[1].Explored)
	assert.Equal(t, []string{"Proofs", "Triangles"}, detail.Recommendations)

	detail, err = h.svc.GetTopicDetail(ctx, h.user, linear.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Parent)
	assert.Equal(t, "Algebra", detail.Parent.Name)
	assert.Len(t, detail.RecentInteractions, 2)
	assert.Equal(t, []string{"Quadratic Functions", "Proofs", "Triangles"}, detail.Recommendations)

	_, err = h.svc.GetTopicDetail(ctx, h.user, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
