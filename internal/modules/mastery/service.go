package mastery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-rag/internal/data/repos"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
	domainlearning "github.com/yungbote/neurobridge-rag/internal/domain/learning"
	"github.com/yungbote/neurobridge-rag/internal/observability"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	errs "github.com/yungbote/neurobridge-rag/internal/pkg/errors"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// Interaction is one answered query already attributed to a topic.
type Interaction struct {
	UserID            uuid.UUID           `json:"user_id"`
	TopicID           uuid.UUID           `json:"topic_id"`
	Query             string              `json:"query"`
	IntentKey         string              `json:"intent_key,omitempty"`
	MappingConfidence float64             `json:"mapping_confidence"`
	RagConfidence     types.RagConfidence `json:"rag_confidence"`
	RagTopScore       float64             `json:"rag_top_score"`
	CitedSections     []string            `json:"cited_sections"`
	AnswerLength      int                 `json:"answer_length"`
	CitationCount     int                 `json:"citation_count"`
	TimeSpentMs       *int64              `json:"time_spent_ms,omitempty"`
	HadFollowUp       bool                `json:"had_follow_up"`
	// At defaults to now.
	At time.Time `json:"at,omitempty"`
}

type TopicMapping struct {
	TopicID    uuid.UUID `json:"topic_id"`
	Confidence float64   `json:"confidence"`
}

type RagMetadata struct {
	Confidence    types.RagConfidence `json:"confidence"`
	TopScore      float64             `json:"top_score"`
	CitedSections []string            `json:"cited_sections"`
}

// MappedInteraction is an answered query with the classifier's candidate topics. One interaction is
// recorded per mapping above the mapping gate.
type MappedInteraction struct {
	UserID        uuid.UUID      `json:"user_id"`
	Query         string         `json:"query"`
	Mappings      []TopicMapping `json:"mappings"`
	Rag           RagMetadata    `json:"rag"`
	AnswerLength  int            `json:"answer_length"`
	CitationCount int            `json:"citation_count"`
	TimeSpentMs   *int64         `json:"time_spent_ms,omitempty"`
	At            time.Time      `json:"at,omitempty"`
}

type Service interface {
	RecordInteraction(ctx context.Context, in Interaction) (*types.TopicMastery, error)
	RecordMappedInteractions(ctx context.Context, in MappedInteraction) ([]*types.TopicMastery, error)
	GetMastery(ctx context.Context, userID, topicID uuid.UUID) (*types.TopicMastery, error)
	ListMastery(ctx context.Context, userID uuid.UUID) ([]*types.TopicMastery, error)
	ReplayMastery(ctx context.Context, userID, topicID uuid.UUID) (*types.TopicMastery, error)
	GetProgressSummary(ctx context.Context, userID uuid.UUID) (*ProgressSummary, error)
	GetTopicDetail(ctx context.Context, userID, topicID uuid.UUID) (*TopicDetail, error)
	ImportTopics(ctx context.Context, specs []TopicSpec) ([]*types.Topic, error)
	Topics(ctx context.Context) (*TopicArena, error)
}

type Deps struct {
	DB           *gorm.DB
	Log          *logger.Logger
	Topics       repos.TopicRepo
	Interactions repos.TopicInteractionRepo
	Mastery      repos.TopicMasteryRepo
}

type service struct {
	db           *gorm.DB
	log          *logger.Logger
	topics       repos.TopicRepo
	interactions repos.TopicInteractionRepo
	mastery      repos.TopicMasteryRepo
	cfg          Config
	now          func() time.Time

	locks    *keyedLock
	arena    atomic.Pointer[TopicArena]
	reloadMu sync.Mutex
}

func NewService(deps Deps, cfg Config) (Service, error) {
	if deps.DB == nil || deps.Log == nil || deps.Topics == nil || deps.Interactions == nil || deps.Mastery == nil {
		return nil, fmt.Errorf("mastery: missing deps")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &service{
		db:           deps.DB,
		log:          deps.Log.With("service", "MasteryService"),
		topics:       deps.Topics,
		interactions: deps.Interactions,
		mastery:      deps.Mastery,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
		locks:        newKeyedLock(),
	}, nil
}

func (s *service) RecordInteraction(ctx context.Context, in Interaction) (*types.TopicMastery, error) {
	if in.UserID == uuid.Nil || in.TopicID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user or topic id", errs.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", errs.ErrInvalidArgument)
	}
	view, err := s.topicView(ctx, in.TopicID)
	if err != nil {
		return nil, err
	}
	return s.record(ctx, view, s.event(in), false)
}

func (s *service) RecordMappedInteractions(ctx context.Context, in MappedInteraction) ([]*types.TopicMastery, error) {
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user id", errs.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", errs.ErrInvalidArgument)
	}

	eligible := s.eligibleMappings(in.Mappings)
	if len(eligible) == 0 {
		s.log.Debug("No topic mapping above gate; nothing recorded", "user_id", in.UserID, "mappings", len(in.Mappings))
		return []*types.TopicMastery{}, nil
	}

	rag := in.Rag.Confidence
	spent := in.TimeSpentMs
	if len(strings.Fields(in.Query)) < s.cfg.ShortQueryWords {
		var zero int64
		spent = &zero
		rag = types.RagConfidenceLow
	}
	at := in.At
	if at.IsZero() {
		at = s.now()
	}

	out := make([]*types.TopicMastery, 0, len(eligible))
	for _, m := range eligible {
		view, err := s.topicView(ctx, m.TopicID)
		if err != nil {
			s.log.Warn("Skipping mapping to unknown topic", "topic_id", m.TopicID, "error", err)
			continue
		}
		ev := s.event(Interaction{
			UserID:            in.UserID,
			TopicID:           m.TopicID,
			Query:             in.Query,
			MappingConfidence: m.Confidence,
			RagConfidence:     rag,
			RagTopScore:       in.Rag.TopScore,
			CitedSections:     in.Rag.CitedSections,
			AnswerLength:      in.AnswerLength,
			CitationCount:     in.CitationCount,
			TimeSpentMs:       spent,
			At:                at,
		})
		row, err := s.record(ctx, view, ev, true)
		if err != nil {
			return out, fmt.Errorf("record topic %s: %w", m.TopicID, err)
		}
		out = append(out, row)
	}
	return out, nil
}

// eligibleMappings keeps the best confidence per topic above the gate, strongest first.
func (s *service) eligibleMappings(in []TopicMapping) []TopicMapping {
	best := map[uuid.UUID]float64{}
	for _, m := range in {
		if m.TopicID == uuid.Nil || !(m.Confidence > s.cfg.MappingGate) {
			continue
		}
		if cur, ok := best[m.TopicID]; !ok || m.Confidence > cur {
			best[m.TopicID] = m.Confidence
		}
	}
	out := make([]TopicMapping, 0, len(best))
	for id, c := range best {
		out = append(out, TopicMapping{TopicID: id, Confidence: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].TopicID.String() < out[j].TopicID.String()
	})
	return out
}

func (s *service) event(in Interaction) *types.TopicInteraction {
	at := in.At
	if at.IsZero() {
		at = s.now()
	}
	intent := strings.TrimSpace(in.IntentKey)
	if intent == "" {
		intent = IntentKey(in.Query)
	}
	return &types.TopicInteraction{
		UserID:            in.UserID,
		TopicID:           in.TopicID,
		Query:             in.Query,
		IntentKey:         intent,
		MappingConfidence: in.MappingConfidence,
		RagConfidence:     domainlearning.ParseRagConfidence(string(in.RagConfidence)),
		RagTopScore:       in.RagTopScore,
		CitedSections:     domainlearning.EncodeStrings(in.CitedSections),
		AnswerLength:      in.AnswerLength,
		CitationCount:     in.CitationCount,
		TimeSpentMs:       in.TimeSpentMs,
		HadFollowUp:       in.HadFollowUp,
		CreatedAt:         at.UTC().Truncate(time.Microsecond),
	}
}

// record stores ev and folds it into the (user, topic) row under the key lock and a row lock.
func (s *service) record(ctx context.Context, view TopicView, ev *types.TopicInteraction, detectFollowUp bool) (*types.TopicMastery, error) {
	ctx, span := observability.Tracer().Start(ctx, "mastery.record_interaction",
		trace.WithAttributes(attribute.String("topic_id", ev.TopicID.String())))
	defer span.End()

	unlock, err := s.locks.Lock(ctx, lockKey(ev.UserID, ev.TopicID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		before types.MasteryStatus
		out    *types.TopicMastery
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.mastery.EnsureRow(dbc, ev.UserID, ev.TopicID); err != nil {
			return fmt.Errorf("ensure mastery row: %w", err)
		}
		row, err := s.mastery.LockByUserTopic(dbc, ev.UserID, ev.TopicID)
		if err != nil {
			return fmt.Errorf("lock mastery row: %w", err)
		}
		if row == nil {
			return fmt.Errorf("lock mastery row: row missing after ensure")
		}
		before = row.Status

		if row.LastInteraction != nil {
			if ev.CreatedAt.Before(*row.LastInteraction) {
				ev.CreatedAt = *row.LastInteraction
			}
			if detectFollowUp && ev.CreatedAt.Sub(*row.LastInteraction) <= s.cfg.FollowUpWindow {
				ev.HadFollowUp = true
			}
		}
		// v7 ids sort in lock order, which breaks created_at ties on replay
		ev.ID = uuid.Must(uuid.NewV7())
		if err := s.interactions.Create(dbc, ev); err != nil {
			return fmt.Errorf("create interaction: %w", err)
		}
		Apply(s.cfg, view, row, ev)
		if err := s.mastery.Save(dbc, row); err != nil {
			return fmt.Errorf("save mastery: %w", err)
		}
		out = row
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		return nil, err
	}

	observability.Current().ObserveMasteryUpdate(ctx, string(before), string(out.Status))
	span.SetAttributes(attribute.String("status", string(out.Status)), attribute.Float64("mastery_level", out.MasteryLevel))
	if before != out.Status {
		s.log.Info("Mastery status changed",
			"user_id", out.UserID,
			"topic_id", out.TopicID,
			"from", before,
			"to", out.Status,
			"mastery_level", out.MasteryLevel,
		)
	}
	return out, nil
}

func (s *service) GetMastery(ctx context.Context, userID, topicID uuid.UUID) (*types.TopicMastery, error) {
	row, err := s.mastery.Get(dbctx.Context{Ctx: ctx}, userID, topicID)
	if err != nil {
		return nil, fmt.Errorf("get mastery: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: no mastery for user %s topic %s", errs.ErrNotFound, userID, topicID)
	}
	return row, nil
}

func (s *service) ListMastery(ctx context.Context, userID uuid.UUID) ([]*types.TopicMastery, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user id", errs.ErrInvalidArgument)
	}
	rows, err := s.mastery.ListByUser(dbctx.Context{Ctx: ctx}, userID)
	if err != nil {
		return nil, fmt.Errorf("list mastery: %w", err)
	}
	return rows, nil
}

// ReplayMastery rebuilds the stored row from the interaction log, for example after a calibration
// change.
func (s *service) ReplayMastery(ctx context.Context, userID, topicID uuid.UUID) (*types.TopicMastery, error) {
	if userID == uuid.Nil || topicID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user or topic id", errs.ErrInvalidArgument)
	}
	view, err := s.topicView(ctx, topicID)
	if err != nil {
		return nil, err
	}
	ctx, span := observability.Tracer().Start(ctx, "mastery.replay")
	defer span.End()

	unlock, err := s.locks.Lock(ctx, lockKey(userID, topicID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *types.TopicMastery
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		row, err := s.mastery.LockByUserTopic(dbc, userID, topicID)
		if err != nil {
			return fmt.Errorf("lock mastery row: %w", err)
		}
		if row == nil {
			return fmt.Errorf("%w: no mastery for user %s topic %s", errs.ErrNotFound, userID, topicID)
		}
		events, err := s.interactions.ListByUserTopic(dbc, userID, topicID)
		if err != nil {
			return fmt.Errorf("list interactions: %w", err)
		}
		out = Replay(s.cfg, view, row, events)
		if err := s.mastery.Save(dbc, out); err != nil {
			return fmt.Errorf("save mastery: %w", err)
		}
		span.SetAttributes(attribute.Int("events", len(events)))
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.log.Info("Mastery replayed", "user_id", userID, "topic_id", topicID, "questions", out.QuestionsAsked, "status", out.Status)
	return out, nil
}

// Topics returns the current arena, loading it on first use.
func (s *service) Topics(ctx context.Context) (*TopicArena, error) {
	if a := s.arena.Load(); a != nil {
		return a, nil
	}
	return s.reloadTopics(ctx)
}

func (s *service) reloadTopics(ctx context.Context) (*TopicArena, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	rows, err := s.topics.ListAll(dbctx.Context{Ctx: ctx})
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	a := NewTopicArena(rows)
	s.arena.Store(a)
	return a, nil
}

// topicView resolves id against the arena, reloading once on a miss so topics created elsewhere are
// picked up.
func (s *service) topicView(ctx context.Context, id uuid.UUID) (TopicView, error) {
	a, err := s.Topics(ctx)
	if err != nil {
		return TopicView{}, err
	}
	if v, ok := a.View(id); ok {
		return v, nil
	}
	if a, err = s.reloadTopics(ctx); err != nil {
		return TopicView{}, err
	}
	if v, ok := a.View(id); ok {
		return v, nil
	}
	return TopicView{}, fmt.Errorf("%w: topic %s", errs.ErrNotFound, id)
}

func lockKey(userID, topicID uuid.UUID) string {
	return userID.String() + "/" + topicID.String()
}
