package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/middleware"
	"github.com/courseforge/courseforge-backend/internal/services"
	"github.com/courseforge/courseforge-backend/internal/sse"
)

type SectionHandler struct {
	log      *logger.Logger
	sections services.SectionGenerationService
}

func NewSectionHandler(baseLog *logger.Logger, sections services.SectionGenerationService) *SectionHandler {
	return &SectionHandler{
		log:      baseLog.With("handler", "SectionHandler"),
		sections: sections,
	}
}

func (h *SectionHandler) Generate(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}
	sectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.log, apperr.New(apperr.KindValidation, "invalid section id"))
		return
	}
	section, err := h.sections.GenerateSection(c.Request.Context(), userID, sectionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusOK, section)
}

// GenerateStream runs the same generation but delivers content as SSE
// chunk events, ending with exactly one complete or error event.
func (h *SectionHandler) GenerateStream(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}
	sectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.log, apperr.New(apperr.KindValidation, "invalid section id"))
		return
	}

	stream, err := sse.New(c.Writer)
	if err != nil {
		respondError(c, h.log, apperr.Wrap(apperr.KindPersistence, "streaming unsupported", err))
		return
	}

	section, err := h.sections.GenerateSectionStream(c.Request.Context(), userID, sectionID, stream.Chunk)
	if err != nil {
		streamError(stream, h.log, err)
		return
	}
	if err := stream.Complete(gin.H{"section_id": section.ID.String(), "content_status": section.ContentStatus}); err != nil {
		h.log.Debug("Terminal event not delivered", "section_id", sectionID.String(), "error", err.Error())
	}
}

type markCompletedRequest struct {
	Completed bool `json:"completed"`
}

func (h *SectionHandler) MarkCompleted(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}
	sectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.log, apperr.New(apperr.KindValidation, "invalid section id"))
		return
	}
	var req markCompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	if err := h.sections.MarkCompleted(c.Request.Context(), userID, sectionID, req.Completed); err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"completed": req.Completed})
}

// streamError emits the terminal error event with the same kind and
// details the JSON envelope would carry.
func streamError(stream *sse.Stream, log *logger.Logger, err error) {
	kind := apperr.KindOf(err)
	message := "internal error"
	var details map[string]any
	var ae *apperr.Error
	if errors.As(err, &ae) {
		message = ae.Message
		details = ae.Details
	}
	if sendErr := stream.Error(string(kind), message, details); sendErr != nil {
		log.Debug("Terminal error event not delivered", "kind", string(kind), "error", sendErr.Error())
	}
}
