package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-rag/internal/http/response"
	"github.com/yungbote/neurobridge-rag/internal/modules/retrieval"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type RetrievalHandler struct {
	log       *logger.Logger
	retrieval retrieval.Service
}

func NewRetrievalHandler(log *logger.Logger, svc retrieval.Service) *RetrievalHandler {
	h := &RetrievalHandler{retrieval: svc}
	if log != nil {
		h.log = log.With("handler", "RetrievalHandler")
	}
	return h
}

// POST /api/retrieve
func (h *RetrievalHandler) Retrieve(c *gin.Context) {
	var req retrieval.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.retrieval.Retrieve(c.Request.Context(), req)
	if err != nil {
		response.RespondFromError(c, err, "retrieve_failed")
		return
	}
	response.RespondOK(c, res)
}
