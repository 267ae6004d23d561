package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-rag/internal/http/response"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

const DefaultMaxUploadBytes = 64 << 20

type DocumentHandler struct {
	log      *logger.Logger
	docs     ingestion.Service
	maxBytes int64
}

type DocumentHandlerDeps struct {
	Log            *logger.Logger
	Documents      ingestion.Service
	MaxUploadBytes int64
}

func NewDocumentHandler(deps DocumentHandlerDeps) *DocumentHandler {
	h := &DocumentHandler{docs: deps.Documents, maxBytes: deps.MaxUploadBytes}
	if deps.Log != nil {
		h.log = deps.Log.With("handler", "DocumentHandler")
	}
	if h.maxBytes <= 0 {
		h.maxBytes = DefaultMaxUploadBytes
	}
	return h
}

// POST /api/documents
// Multipart form: file, plus owner_user_id for user documents or system=true.
func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+(1<<20))
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	if fh.Size > h.maxBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", fmt.Errorf("file exceeds %d bytes", h.maxBytes))
		return
	}

	system, _ := strconv.ParseBool(strings.TrimSpace(c.PostForm("system")))
	var owner *uuid.UUID
	if raw := strings.TrimSpace(c.PostForm("owner_user_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_owner_user_id", err)
			return
		}
		owner = &id
	}

	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "could_not_read_file", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "could_not_read_file", err)
		return
	}
	if int64(len(data)) > h.maxBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", fmt.Errorf("file exceeds %d bytes", h.maxBytes))
		return
	}

	mimeType := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	handle, err := h.docs.IngestDocument(c.Request.Context(), ingestion.Upload{
		Data:             data,
		Filename:         fh.Filename,
		MimeType:         mimeType,
		OwnerUserID:      owner,
		IsSystemDocument: system,
	})
	if err != nil {
		response.RespondFromError(c, err, "ingest_failed")
		return
	}
	status := http.StatusAccepted
	if handle.Deduplicated {
		status = http.StatusOK
	}
	response.RespondStatus(c, status, gin.H{"document": handle.Document, "deduplicated": handle.Deduplicated})
}

// GET /api/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "invalid_document_id")
	if !ok {
		return
	}
	doc, err := h.docs.GetDocument(c.Request.Context(), id)
	if err != nil {
		response.RespondFromError(c, err, "load_document_failed")
		return
	}
	response.RespondOK(c, gin.H{"document": doc})
}

// GET /api/documents/:id/stats
func (h *DocumentHandler) Stats(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "invalid_document_id")
	if !ok {
		return
	}
	stats, err := h.docs.GetDocumentStats(c.Request.Context(), id)
	if err != nil {
		response.RespondFromError(c, err, "load_stats_failed")
		return
	}
	response.RespondOK(c, gin.H{"stats": stats})
}

// GET /api/users/:userId/documents
func (h *DocumentHandler) ListForUser(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId", "invalid_user_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	docs, err := h.docs.ListDocuments(c.Request.Context(), userID, limit)
	if err != nil {
		response.RespondFromError(c, err, "list_documents_failed")
		return
	}
	response.RespondOK(c, gin.H{"documents": docs})
}

// POST /api/documents/:id/cancel
func (h *DocumentHandler) Cancel(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "invalid_document_id")
	if !ok {
		return
	}
	doc, err := h.docs.CancelDocument(c.Request.Context(), id)
	if err != nil {
		response.RespondFromError(c, err, "cancel_failed")
		return
	}
	response.RespondOK(c, gin.H{"document": doc})
}

// POST /api/documents/:id/resume
func (h *DocumentHandler) Resume(c *gin.Context) {
	h.restart(c, h.docs.ResumeDocument, "resume_failed")
}

// POST /api/documents/:id/retry
func (h *DocumentHandler) Retry(c *gin.Context) {
	h.restart(c, h.docs.RetryDocument, "retry_failed")
}

func (h *DocumentHandler) restart(c *gin.Context, fn func(ctx context.Context, id uuid.UUID) (*ingestion.Handle, error), code string) {
	id, ok := parseIDParam(c, "id", "invalid_document_id")
	if !ok {
		return
	}
	handle, err := fn(c.Request.Context(), id)
	if err != nil {
		response.RespondFromError(c, err, code)
		return
	}
	response.RespondStatus(c, http.StatusAccepted, gin.H{"document": handle.Document})
}

// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "invalid_document_id")
	if !ok {
		return
	}
	if err := h.docs.DeleteDocument(c.Request.Context(), id); err != nil {
		response.RespondFromError(c, err, "delete_failed")
		return
	}
	c.Status(http.StatusNoContent)
}
