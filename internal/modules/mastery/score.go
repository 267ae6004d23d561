package mastery

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
)

// Apply folds one interaction into row, the stored aggregate for the interaction's (user, topic).
// It only reads the sufficient statistics on row and the event itself, so folding the event log in
// order from an empty row reproduces the stored record exactly. Out-of-range inputs are clamped.
func Apply(cfg Config, view TopicView, row *types.TopicMastery, ev *types.TopicInteraction) {
	at := ev.CreatedAt.UTC()
	if row.LastInteraction != nil && at.Before(*row.LastInteraction) {
		at = *row.LastInteraction
	}

	// retention strength decays from the previous event before this one adds to it
	strength := 1.0
	if row.LastInteraction != nil {
		strength += decay(row.RetentionStrength, at.Sub(*row.LastInteraction), cfg.RetentionHalfLife)
	}
	row.RetentionStrength = strength

	row.QuestionsAsked++
	row.AnswerLengthSum += float64(nonNegative(ev.AnswerLength))
	row.CitationSum += float64(nonNegative(ev.CitationCount))
	topScore := clamp01(ev.RagTopScore)
	row.RagTopScoreSum += topScore
	row.ConfidenceSum += math.Min(clamp01(ev.MappingConfidence), ev.RagConfidence.Cap()) * topScore
	if ev.HadFollowUp {
		row.FollowUps++
	}
	if ev.TimeSpentMs != nil && *ev.TimeSpentMs > 0 {
		row.TimeSpentMsTotal += *ev.TimeSpentMs
	}

	intent := ev.IntentKey
	if intent == "" {
		intent = IntentKey(ev.Query)
	}
	row.QuestionIntents = addToSet(row.QuestionIntents, []string{intent}, cfg.MaxIntents)

	if len(view.Children) > 0 {
		row.SubtopicsExplored = addToSet(row.SubtopicsExplored, view.MatchSubtopics(ev.CitedSectionList()), cfg.MaxSubtopics)
	} else {
		labels := make([]string, 0)
		for _, s := range ev.CitedSectionList() {
			labels = append(labels, normalizeLabel(s))
		}
		row.SubtopicsExplored = addToSet(row.SubtopicsExplored, labels, cfg.MaxSubtopics)
	}

	if row.FirstInteraction == nil {
		first := at
		row.FirstInteraction = &first
	}
	last := at
	row.LastInteraction = &last

	score(cfg, view, row)
	row.Status = StatusFor(cfg.Thresholds, row.MasteryLevel)
	if row.Status == types.MasteryMastered && row.CompletedAt == nil {
		done := at
		row.CompletedAt = &done
	}
}

// score derives the five components and the level from the sufficient statistics.
func score(cfg Config, view TopicView, row *types.TopicMastery) {
	n := float64(row.QuestionsAsked)
	if n <= 0 {
		row.CoverageScore, row.DepthScore, row.ConfidenceScore, row.DiversityScore, row.RetentionScore = 0, 0, 0, 0, 0
		row.MasteryLevel = 0
		return
	}
	expected := float64(defaultInt(view.Topic.ExpectedQuestions, 5))
	targetLen := float64(defaultInt(view.Topic.TargetAnswerLength, 800))
	targetCit := float64(defaultInt(view.Topic.TargetCitations, 5))

	row.CoverageScore = clamp01(float64(len(decodeSet(row.QuestionIntents))) / expected)

	quality := 0.5*clamp01(row.AnswerLengthSum/n/targetLen) +
		0.35*clamp01(row.CitationSum/n/targetCit) +
		0.15*clamp01(float64(row.FollowUps)/n)
	row.DepthScore = clamp01(quality * math.Min(1, n/expected))

	confirm := math.Min(1, n/float64(cfg.ConfirmationQuestions))
	row.ConfidenceScore = clamp01(row.ConfidenceSum / n * confirm)

	explored := float64(len(decodeSet(row.SubtopicsExplored)))
	if len(view.Children) > 0 {
		row.DiversityScore = clamp01(explored / float64(len(view.Children)))
	} else {
		row.DiversityScore = clamp01(explored / expected)
	}

	row.RetentionScore = retentionScore(row.RetentionStrength, cfg.RetentionSaturation)

	w := cfg.Weights
	row.MasteryLevel = clamp01(w.Coverage*row.CoverageScore +
		w.Depth*row.DepthScore +
		w.Confidence*row.ConfidenceScore +
		w.Diversity*row.DiversityScore +
		w.Retention*row.RetentionScore)
}

// StatusFor buckets a mastery level. Zero is NOT_STARTED; any positive level is at least BEGINNER.
func StatusFor(t Thresholds, level float64) types.MasteryStatus {
	switch {
	case !(level > 0):
		return types.MasteryNotStarted
	case level < t.Learning:
		return types.MasteryBeginner
	case level < t.Proficient:
		return types.MasteryLearning
	case level < t.Mastered:
		return types.MasteryProficient
	default:
		return types.MasteryMastered
	}
}

// RetentionAt is the retention score row would have at now with no further interactions.
func RetentionAt(cfg Config, row *types.TopicMastery, now time.Time) float64 {
	if row == nil || row.LastInteraction == nil {
		return 0
	}
	return retentionScore(decay(row.RetentionStrength, now.Sub(*row.LastInteraction), cfg.RetentionHalfLife), cfg.RetentionSaturation)
}

// Replay folds events, already in replay order, into a fresh row for (userID, topicID).
func Replay(cfg Config, view TopicView, base *types.TopicMastery, events []*types.TopicInteraction) *types.TopicMastery {
	row := &types.TopicMastery{
		ID:        base.ID,
		UserID:    base.UserID,
		TopicID:   base.TopicID,
		Status:    types.MasteryNotStarted,
		CreatedAt: base.CreatedAt,
	}
	for _, ev := range events {
		Apply(cfg, view, row, ev)
	}
	return row
}

// IntentKey normalizes a query into the key distinct questions are counted by.
func IntentKey(query string) string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r == '\'' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	return strings.Join(fields, " ")
}

func decay(strength float64, elapsed time.Duration, halfLife time.Duration) float64 {
	if elapsed <= 0 || halfLife <= 0 {
		return strength
	}
	return strength * math.Exp2(-float64(elapsed)/float64(halfLife))
}

func retentionScore(strength, saturation float64) float64 {
	if !(strength > 0) {
		return 0
	}
	return clamp01(strength / (strength + saturation))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func decodeSet(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// addToSet unions add into the sorted set stored in raw. Once the set holds max entries new keys are
// ignored.
func addToSet(raw datatypes.JSON, add []string, max int) datatypes.JSON {
	set := decodeSet(raw)
	changed := raw == nil
	for _, v := range add {
		if v == "" {
			continue
		}
		i := sort.SearchStrings(set, v)
		if i < len(set) && set[i] == v {
			continue
		}
		if len(set) >= max {
			continue
		}
		set = append(set, "")
		copy(set[i+1:], set[i:])
		set[i] = v
		changed = true
	}
	if !changed {
		return raw
	}
	if set == nil {
		set = []string{}
	}
	b, _ := json.Marshal(set)
	return datatypes.JSON(b)
}
