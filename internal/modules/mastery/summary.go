package mastery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	errs "github.com/yungbote/neurobridge-rag/internal/pkg/errors"
)

const (
	topActiveLimit      = 10
	recentInteractions  = 10
	recommendationLimit = 10
	activityDays        = 7
)

type StatusCounts struct {
	Mastered   int `json:"mastered"`
	Proficient int `json:"proficient"`
	Learning   int `json:"learning"`
	Beginner   int `json:"beginner"`
	NotStarted int `json:"not_started"`
}

type DayActivity struct {
	Date         string `json:"date"`
	Interactions int    `json:"interactions"`
	Topics       int    `json:"topics"`
}

type ActiveTopic struct {
	TopicID        uuid.UUID           `json:"topic_id"`
	TopicName      string              `json:"topic_name"`
	ChapterName    string              `json:"chapter_name"`
	MasteryLevel   float64             `json:"mastery_level"`
	Status         types.MasteryStatus `json:"status"`
	QuestionsAsked int                 `json:"questions_asked"`
	LastActive     time.Time           `json:"last_active"`
}

type ProgressSummary struct {
	// OverallProgress is the mean mastery level over all topics, weighted by expected questions.
	OverallProgress  float64       `json:"overall_progress"`
	TotalTopics      int           `json:"total_topics"`
	TotalQuestions   int           `json:"total_questions"`
	TotalTimeMinutes int64         `json:"total_time_minutes"`
	TopicsExplored   int           `json:"topics_explored"`
	TopicsMastered   int           `json:"topics_mastered"`
	ByStatus         StatusCounts  `json:"by_status"`
	WeeklyActivity   []DayActivity `json:"weekly_activity"`
	TopActiveTopics  []ActiveTopic `json:"top_active_topics"`
}

func (s *service) GetProgressSummary(ctx context.Context, userID uuid.UUID) (*ProgressSummary, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user id", errs.ErrInvalidArgument)
	}
	arena, err := s.Topics(ctx)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.mastery.ListByUser(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("list mastery: %w", err)
	}

	out := &ProgressSummary{TotalTopics: arena.Len()}
	var weighted, weights float64
	seen := map[uuid.UUID]bool{}
	for _, m := range rows {
		seen[m.TopicID] = true
		out.TotalQuestions += m.QuestionsAsked
		out.TotalTimeMinutes += m.TimeSpentMsTotal
		switch m.Status {
		case types.MasteryMastered:
			out.ByStatus.Mastered++
		case types.MasteryProficient:
			out.ByStatus.Proficient++
		case types.MasteryLearning:
			out.ByStatus.Learning++
		case types.MasteryBeginner:
			out.ByStatus.Beginner++
		case types.MasteryNotStarted:
			out.ByStatus.NotStarted++
		}
		if m.Status != types.MasteryNotStarted {
			out.TopicsExplored++
		}
		if t, ok := arena.ByID(m.TopicID); ok {
			w := float64(defaultInt(t.ExpectedQuestions, 5))
			weighted += m.MasteryLevel * w
		}
	}
	out.TotalTimeMinutes /= int64(time.Minute / time.Millisecond)
	out.TopicsMastered = out.ByStatus.Mastered
	for _, t := range arena.All() {
		weights += float64(defaultInt(t.ExpectedQuestions, 5))
		if !seen[t.ID] {
			out.ByStatus.NotStarted++
		}
	}
	if weights > 0 {
		out.OverallProgress = clamp01(weighted / weights)
	}

	out.TopActiveTopics = topActive(arena, rows)

	now := s.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(activityDays - 1))
	events, err := s.interactions.ListByUserSince(dbc, userID, start)
	if err != nil {
		return nil, fmt.Errorf("list recent interactions: %w", err)
	}
	out.WeeklyActivity = weeklyActivity(start, events)
	return out, nil
}

func topActive(arena *TopicArena, rows []*types.TopicMastery) []ActiveTopic {
	active := make([]*types.TopicMastery, 0, len(rows))
	for _, m := range rows {
		if m.LastInteraction != nil {
			active = append(active, m)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].LastInteraction.After(*active[j].LastInteraction)
	})
	if len(active) > topActiveLimit {
		active = active[:topActiveLimit]
	}
	out := make([]ActiveTopic, 0, len(active))
	for _, m := range active {
		at := ActiveTopic{
			TopicID:        m.TopicID,
			TopicName:      m.TopicID.String(),
			MasteryLevel:   m.MasteryLevel,
			Status:         m.Status,
			QuestionsAsked: m.QuestionsAsked,
			LastActive:     *m.LastInteraction,
		}
		if t, ok := arena.ByID(m.TopicID); ok {
			at.TopicName = t.Name
			at.ChapterName = t.Name
			if p, ok := arena.Parent(t.ID); ok {
				at.ChapterName = p.Name
			}
		}
		out = append(out, at)
	}
	return out
}

func weeklyActivity(start time.Time, events []*types.TopicInteraction) []DayActivity {
	out := make([]DayActivity, activityDays)
	topics := make([]map[uuid.UUID]bool, activityDays)
	for i := range out {
		out[i].Date = start.AddDate(0, 0, i).Format("2006-01-02")
		topics[i] = map[uuid.UUID]bool{}
	}
	for _, ev := range events {
		day := int(ev.CreatedAt.UTC().Sub(start) / (24 * time.Hour))
		if day < 0 || day >= activityDays {
			continue
		}
		out[day].Interactions++
		topics[day][ev.TopicID] = true
	}
	for i := range out {
		out[i].Topics = len(topics[i])
	}
	return out
}

type SubtopicProgress struct {
	Topic        *types.Topic        `json:"topic"`
	Explored     bool                `json:"explored"`
	MasteryLevel float64             `json:"mastery_level"`
	Status       types.MasteryStatus `json:"status"`
}

type TopicDetail struct {
	Topic   *types.Topic        `json:"topic"`
	Parent  *types.Topic        `json:"parent,omitempty"`
	Mastery *types.TopicMastery `json:"mastery,omitempty"`
	// CurrentRetention is the stored retention decayed to now.
	CurrentRetention   float64                   `json:"current_retention"`
	RecentInteractions []*types.TopicInteraction `json:"recent_interactions"`
	Subtopics          []SubtopicProgress        `json:"subtopics"`
	Recommendations    []string                  `json:"recommendations"`
}

func (s *service) GetTopicDetail(ctx context.Context, userID, topicID uuid.UUID) (*TopicDetail, error) {
	if userID == uuid.Nil || topicID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user or topic id", errs.ErrInvalidArgument)
	}
	if _, err := s.topicView(ctx, topicID); err != nil {
		return nil, err
	}
	arena, err := s.Topics(ctx)
	if err != nil {
		return nil, err
	}
	topic, _ := arena.ByID(topicID)

	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.mastery.ListByUser(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("list mastery: %w", err)
	}
	byTopic := make(map[uuid.UUID]*types.TopicMastery, len(rows))
	for _, m := range rows {
		byTopic[m.TopicID] = m
	}
	recent, err := s.interactions.ListRecentByUserTopic(dbc, userID, topicID, recentInteractions)
	if err != nil {
		return nil, fmt.Errorf("list recent interactions: %w", err)
	}

	out := &TopicDetail{
		Topic:              topic,
		Mastery:            byTopic[topicID],
		RecentInteractions: recent,
		Subtopics:          []SubtopicProgress{},
		Recommendations:    []string{},
	}
	if p, ok := arena.Parent(topicID); ok {
		out.Parent = p
	}
	if out.Mastery != nil {
		out.CurrentRetention = RetentionAt(s.cfg, out.Mastery, s.now())
	}

	explored := map[string]bool{}
	if out.Mastery != nil {
		for _, slug := range out.Mastery.SubtopicList() {
			explored[slug] = true
		}
	}
	for _, ch := range arena.Children(topicID) {
		sp := SubtopicProgress{Topic: ch, Explored: explored[ch.Slug], Status: types.MasteryNotStarted}
		if m := byTopic[ch.ID]; m != nil {
			sp.MasteryLevel = m.MasteryLevel
			sp.Status = m.Status
			sp.Explored = sp.Explored || m.QuestionsAsked > 0
		}
		out.Subtopics = append(out.Subtopics, sp)
	}

	out.Recommendations = recommend(arena, topicID, byTopic)
	return out, nil
}

// recommend lists unmastered siblings first, then the topics of the next chapter.
func recommend(arena *TopicArena, topicID uuid.UUID, byTopic map[uuid.UUID]*types.TopicMastery) []string {
	out := []string{}
	add := func(t *types.Topic) {
		if len(out) >= recommendationLimit || t.ID == topicID {
			return
		}
		if m := byTopic[t.ID]; m != nil && m.Status == types.MasteryMastered {
			return
		}
		out = append(out, t.Name)
	}
	if _, hasParent := arena.Parent(topicID); hasParent {
		for _, t := range arena.Siblings(topicID) {
			add(t)
		}
	}
	if next, ok := arena.NextChapter(topicID); ok {
		children := arena.Children(next.ID)
		if len(children) == 0 {
			add(next)
		}
		for _, t := range children {
			add(t)
		}
	}
	return out
}
