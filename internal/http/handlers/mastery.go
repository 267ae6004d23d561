package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-rag/internal/http/response"
	"github.com/yungbote/neurobridge-rag/internal/modules/mastery"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type MasteryHandler struct {
	log     *logger.Logger
	mastery mastery.Service
}

func NewMasteryHandler(log *logger.Logger, svc mastery.Service) *MasteryHandler {
	h := &MasteryHandler{mastery: svc}
	if log != nil {
		h.log = log.With("handler", "MasteryHandler")
	}
	return h
}

// interactionRequest takes either a single topic_id or the classifier's mappings.
type interactionRequest struct {
	mastery.Interaction
	Mappings []mastery.TopicMapping `json:"mappings,omitempty"`
	Rag      *mastery.RagMetadata   `json:"rag,omitempty"`
}

// POST /api/interactions
func (h *MasteryHandler) RecordInteraction(c *gin.Context) {
	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ctx := c.Request.Context()

	if len(req.Mappings) > 0 {
		rag := mastery.RagMetadata{
			Confidence:    req.RagConfidence,
			TopScore:      req.RagTopScore,
			CitedSections: req.CitedSections,
		}
		if req.Rag != nil {
			rag = *req.Rag
		}
		rows, err := h.mastery.RecordMappedInteractions(ctx, mastery.MappedInteraction{
			UserID:        req.UserID,
			Query:         req.Query,
			Mappings:      req.Mappings,
			Rag:           rag,
			AnswerLength:  req.AnswerLength,
			CitationCount: req.CitationCount,
			TimeSpentMs:   req.TimeSpentMs,
			At:            req.At,
		})
		if err != nil {
			response.RespondFromError(c, err, "record_interaction_failed")
			return
		}
		response.RespondStatus(c, http.StatusCreated, gin.H{"mastery": rows})
		return
	}

	row, err := h.mastery.RecordInteraction(ctx, req.Interaction)
	if err != nil {
		response.RespondFromError(c, err, "record_interaction_failed")
		return
	}
	response.RespondStatus(c, http.StatusCreated, gin.H{"mastery": row})
}

// GET /api/users/:userId/mastery
func (h *MasteryHandler) ListMastery(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId", "invalid_user_id")
	if !ok {
		return
	}
	rows, err := h.mastery.ListMastery(c.Request.Context(), userID)
	if err != nil {
		response.RespondFromError(c, err, "list_mastery_failed")
		return
	}
	response.RespondOK(c, gin.H{"mastery": rows})
}

// GET /api/users/:userId/mastery/:topicId
func (h *MasteryHandler) GetMastery(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId", "invalid_user_id")
	if !ok {
		return
	}
	topicID, ok := parseIDParam(c, "topicId", "invalid_topic_id")
	if !ok {
		return
	}
	row, err := h.mastery.GetMastery(c.Request.Context(), userID, topicID)
	if err != nil {
		response.RespondFromError(c, err, "load_mastery_failed")
		return
	}
	response.RespondOK(c, gin.H{"mastery": row})
}

// POST /api/users/:userId/mastery/:topicId/replay
func (h *MasteryHandler) ReplayMastery(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId", "invalid_user_id")
	if !ok {
		return
	}
	topicID, ok := parseIDParam(c, "topicId", "invalid_topic_id")
	if !ok {
		return
	}
	row, err := h.mastery.ReplayMastery(c.Request.Context(), userID, topicID)
	if err != nil {
		response.RespondFromError(c, err, "replay_failed")
		return
	}
	response.RespondOK(c, gin.H{"mastery": row})
}

// GET /api/users/:userId/progress
func (h *MasteryHandler) Progress(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId", "invalid_user_id")
	if !ok {
		return
	}
	sum, err := h.mastery.GetProgressSummary(c.Request.Context(), userID)
	if err != nil {
		response.RespondFromError(c, err, "load_progress_failed")
		return
	}
	response.RespondOK(c, gin.H{"progress": sum})
}

// GET /api/users/:userId/topics/:topicId
func (h *MasteryHandler) TopicDetail(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId", "invalid_user_id")
	if !ok {
		return
	}
	topicID, ok := parseIDParam(c, "topicId", "invalid_topic_id")
	if !ok {
		return
	}
	detail, err := h.mastery.GetTopicDetail(c.Request.Context(), userID, topicID)
	if err != nil {
		response.RespondFromError(c, err, "load_topic_failed")
		return
	}
	response.RespondOK(c, gin.H{"topic": detail})
}

// GET /api/topics
func (h *MasteryHandler) ListTopics(c *gin.Context) {
	arena, err := h.mastery.Topics(c.Request.Context())
	if err != nil {
		response.RespondFromError(c, err, "list_topics_failed")
		return
	}
	response.RespondOK(c, gin.H{"topics": arena.All()})
}
