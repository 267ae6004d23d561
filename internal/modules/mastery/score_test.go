package mastery

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	domainlearning "github.com/yungbote/neurobridge-rag/internal/domain/learning"
	"github.com/yungbote/neurobridge-rag/internal/pkg/pointers"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func leafView() TopicView {
	return TopicView{Topic: &types.Topic{
		ID:                 uuid.New(),
		Slug:               "vectors",
		Name:               "Vectors",
		ExpectedQuestions:  5,
		TargetAnswerLength: 800,
		TargetCitations:    5,
	}}
}

func newRow() *types.TopicMastery {
	return &types.TopicMastery{ID: uuid.New(), UserID: uuid.New(), TopicID: uuid.New(), Status: types.MasteryNotStarted}
}

func interaction(at time.Time, query string, mapping, top float64, rag types.RagConfidence, citations int, sections ...string) *types.TopicInteraction {
	return &types.TopicInteraction{
		Query:             query,
		MappingConfidence: mapping,
		RagConfidence:     rag,
		RagTopScore:       top,
		CitedSections:     domainlearning.EncodeStrings(sections),
		AnswerLength:      800,
		CitationCount:     citations,
		CreatedAt:         at,
	}
}

func assertBounded(t *testing.T, row *types.TopicMastery) {
	t.Helper()
	for name, v := range map[string]float64{
		"coverage":   row.CoverageScore,
		"depth":      row.DepthScore,
		"confidence": row.ConfidenceScore,
		"diversity":  row.DiversityScore,
		"retention":  row.RetentionScore,
		"level":      row.MasteryLevel,
	} {
		assert.False(t, math.IsNaN(v), name)
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}

func TestStatusFor(t *testing.T) {
	th := DefaultConfig().Thresholds
	cases := []struct {
		level float64
		want  types.MasteryStatus
	}{
		{0, types.MasteryNotStarted},
		{math.NaN(), types.MasteryNotStarted},
		{0.0001, types.MasteryBeginner},
		{0.3999, types.MasteryBeginner},
		{0.40, types.MasteryLearning},
		{0.6999, types.MasteryLearning},
		{0.70, types.MasteryProficient},
		{0.8499, types.MasteryProficient},
		{0.85, types.MasteryMastered},
		{1, types.MasteryMastered},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(th, tc.level), "level %v", tc.level)
	}
}

func TestApplyFirstInteraction(t *testing.T) {
	row := newRow()
	Apply(DefaultConfig(), leafView(), row, interaction(t0, "how do vectors add", 0.9, 0.8, types.RagConfidenceHigh, 2, "Alpha"))

	assert.Equal(t, 1, row.QuestionsAsked)
	assert.Equal(t, types.MasteryBeginner, row.Status)
	assert.InDelta(t, 0.2, row.CoverageScore, 1e-9)
	assert.InDelta(t, 0.128, row.DepthScore, 1e-9)
	assert.InDelta(t, 0.24, row.ConfidenceScore, 1e-9)
	assert.InDelta(t, 0.2, row.DiversityScore, 1e-9)
	assert.InDelta(t, 1.0/3, row.RetentionScore, 1e-9)
	assert.InDelta(t, 0.20333, row.MasteryLevel, 1e-4)
	require.NotNil(t, row.FirstInteraction)
	assert.True(t, row.FirstInteraction.Equal(t0))
	assert.True(t, row.LastInteraction.Equal(t0))
	assert.Nil(t, row.CompletedAt)
}

func TestApplyClampsAdversarialInput(t *testing.T) {
	row := newRow()
	view := leafView()
	cfg := DefaultConfig()
	for i := 0; i < 50; i++ {
		ev := interaction(t0.Add(time.Duration(i)*time.Hour), strings.Repeat("q", i+1), 7, math.NaN(), "", -3)
		ev.AnswerLength = math.MaxInt32
		if i%2 == 0 {
			ev.RagTopScore = 42
			ev.AnswerLength = -100
			ev.MappingConfidence = -1
		}
		ev.TimeSpentMs = pointers.Int64(-5)
		Apply(cfg, view, row, ev)
		assertBounded(t, row)
		assert.Equal(t, StatusFor(cfg.Thresholds, row.MasteryLevel), row.Status)
	}
	assert.Equal(t, int64(0), row.TimeSpentMsTotal)
	assert.Equal(t, 50, row.QuestionsAsked)
}

func TestCoverageCountsDistinctIntents(t *testing.T) {
	row := newRow()
	view := leafView()
	for i := 0; i < 3; i++ {
		Apply(DefaultConfig(), view, row, interaction(t0.Add(time.Duration(i)*time.Minute), "What is a Vector?", 0.9, 0.8, types.RagConfidenceHigh, 1))
	}
	assert.Equal(t, 3, row.QuestionsAsked)
	assert.Equal(t, []string{"what is a vector"}, row.IntentList())
	assert.InDelta(t, 0.2, row.CoverageScore, 1e-9)
}

func TestLowRetrievalConfidenceCapsConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmationQuestions = 1
	high, low := newRow(), newRow()
	Apply(cfg, leafView(), high, interaction(t0, "q", 0.9, 1, types.RagConfidenceHigh, 0))
	Apply(cfg, leafView(), low, interaction(t0, "q", 0.9, 1, types.RagConfidenceLow, 0))
	assert.InDelta(t, 0.9, high.ConfidenceScore, 1e-9)
	assert.InDelta(t, 0.4, low.ConfidenceScore, 1e-9)
}

func TestDiversityUsesChildren(t *testing.T) {
	parent := &types.Topic{ID: uuid.New(), Slug: "algebra", Name: "Algebra", ExpectedQuestions: 5}
	view := TopicView{Topic: parent, Children: []*types.Topic{
		{ID: uuid.New(), Slug: "linear-equations", Name: "Linear Equations"},
		{ID: uuid.New(), Slug: "quadratics", Name: "Quadratic Functions"},
	}}
	row := newRow()
	Apply(DefaultConfig(), view, row, interaction(t0, "solve for x", 0.9, 0.8, types.RagConfidenceHigh, 1,
		"Chapter 2: Linear  Equations", "Appendix"))
	assert.Equal(t, []string{"linear-equations"}, row.SubtopicList())
	assert.InDelta(t, 0.5, row.DiversityScore, 1e-9)

	Apply(DefaultConfig(), view, row, interaction(t0.Add(time.Hour), "roots", 0.9, 0.8, types.RagConfidenceHigh, 1, "quadratics"))
	assert.Equal(t, []string{"linear-equations", "quadratics"}, row.SubtopicList())
	assert.InDelta(t, 1.0, row.DiversityScore, 1e-9)
}

func TestRetentionRewardsSpacedRepeatEngagement(t *testing.T) {
	cfg := DefaultConfig()
	soon, late := newRow(), newRow()
	Apply(cfg, leafView(), soon, interaction(t0, "a", 0.9, 0.8, types.RagConfidenceHigh, 1))
	Apply(cfg, leafView(), soon, interaction(t0.Add(24*time.Hour), "b", 0.9, 0.8, types.RagConfidenceHigh, 1))
	Apply(cfg, leafView(), late, interaction(t0, "a", 0.9, 0.8, types.RagConfidenceHigh, 1))
	Apply(cfg, leafView(), late, interaction(t0.Add(60*24*time.Hour), "b", 0.9, 0.8, types.RagConfidenceHigh, 1))

	assert.Greater(t, soon.RetentionScore, late.RetentionScore)
	assert.Greater(t, late.RetentionScore, 1.0/3)

	now := *soon.LastInteraction
	assert.InDelta(t, soon.RetentionScore, RetentionAt(cfg, soon, now), 1e-12)
	assert.Less(t, RetentionAt(cfg, soon, now.Add(30*24*time.Hour)), soon.RetentionScore)
	assert.Equal(t, 0.0, RetentionAt(cfg, newRow(), now))
}

func TestCompletedAtIsSticky(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = Weights{Confidence: 1}
	cfg.ConfirmationQuestions = 1
	require.NoError(t, cfg.Validate())

	row := newRow()
	Apply(cfg, leafView(), row, interaction(t0, "a", 1, 1, types.RagConfidenceHigh, 0))
	require.Equal(t, types.MasteryMastered, row.Status)
	require.NotNil(t, row.CompletedAt)
	assert.True(t, row.CompletedAt.Equal(t0))

	Apply(cfg, leafView(), row, interaction(t0.Add(time.Hour), "b", 1, 0, types.RagConfidenceHigh, 0))
	assert.Equal(t, types.MasteryLearning, row.Status)
	require.NotNil(t, row.CompletedAt)
	assert.True(t, row.CompletedAt.Equal(t0))

	Apply(cfg, leafView(), row, interaction(t0.Add(2*time.Hour), "c", 1, 1, types.RagConfidenceHigh, 0))
	assert.True(t, row.CompletedAt.Equal(t0))
}

func TestApplyClampsOutOfOrderEvents(t *testing.T) {
	row := newRow()
	Apply(DefaultConfig(), leafView(), row, interaction(t0, "a", 0.9, 0.8, types.RagConfidenceHigh, 1))
	Apply(DefaultConfig(), leafView(), row, interaction(t0.Add(-time.Hour), "b", 0.9, 0.8, types.RagConfidenceHigh, 1))
	assert.True(t, row.LastInteraction.Equal(t0))
	assert.True(t, row.FirstInteraction.Equal(t0))
	assert.InDelta(t, 2.0, row.RetentionStrength, 1e-12)
}

func TestReplayIsDeterministic(t *testing.T) {
	view := leafView()
	base := newRow()
	var events []*types.TopicInteraction
	for i := 0; i < 12; i++ {
		events = append(events, interaction(t0.Add(time.Duration(i*i)*time.Hour), "question "+string(rune('a'+i%4)),
			0.6+float64(i%4)/10, float64(i%5)/5, types.RagConfidenceMedium, i%6, "sec-"+string(rune('a'+i%3))))
	}
	a := Replay(DefaultConfig(), view, base, events)
	b := Replay(DefaultConfig(), view, base, events)
	assert.Equal(t, a, b)
	assert.Equal(t, base.ID, a.ID)
	assert.Equal(t, 12, a.QuestionsAsked)

	empty := Replay(DefaultConfig(), view, base, nil)
	assert.Equal(t, types.MasteryNotStarted, empty.Status)
	assert.Zero(t, empty.MasteryLevel)
}

func TestIntentKey(t *testing.T) {
	assert.Equal(t, "what is a vector space", IntentKey("  What is a Vector-Space?? "))
	assert.Equal(t, "don't panic", IntentKey("Don't PANIC!"))
	assert.Equal(t, "", IntentKey("?!"))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Weights.Coverage = 0.5
	assert.ErrorContains(t, bad.Validate(), "weights sum")

	bad = DefaultConfig()
	bad.Thresholds.Learning = 0.8
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Weights.Depth = -0.25
	bad.Weights.Coverage = 0.8
	assert.Error(t, bad.Validate())
}

func TestLoadConfigYAML(t *testing.T) {
	cfg, err := LoadConfigYAML([]byte(`
mastery:
  weights:
    coverage: 0.2
    depth: 0.2
    confidence: 0.2
    diversity: 0.2
    retention: 0.2
  retention_half_life: 72h
  mapping_gate: 0.5
`))
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Weights.Retention)
	assert.Equal(t, 72*time.Hour, cfg.RetentionHalfLife)
	assert.Equal(t, 0.5, cfg.MappingGate)
	assert.Equal(t, 0.85, cfg.Thresholds.Mastered)

	_, err = LoadConfigYAML([]byte("mastery:\n  weights:\n    coverage: 0.9\n"))
	assert.ErrorContains(t, err, "weights sum")

	_, err = LoadConfigYAML([]byte("mastery: [oops"))
	assert.Error(t, err)
}
