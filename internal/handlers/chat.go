package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/middleware"
	"github.com/courseforge/courseforge-backend/internal/services"
	"github.com/courseforge/courseforge-backend/internal/sse"
)

type ChatHandler struct {
	log  *logger.Logger
	chat services.TutorChatService
}

func NewChatHandler(baseLog *logger.Logger, chat services.TutorChatService) *ChatHandler {
	return &ChatHandler{log: baseLog.With("handler", "ChatHandler"), chat: chat}
}

func (h *ChatHandler) Ask(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}
	var req services.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	msg, err := h.chat.Ask(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusOK, msg)
}

// AskStream is the EventSource variant. The question and optional
// course scope arrive as query parameters.
func (h *ChatHandler) AskStream(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}

	req := services.ChatRequest{Question: c.Query("question")}
	if raw := c.Query("course_id"); raw != "" {
		courseID, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, h.log, apperr.New(apperr.KindValidation, "invalid course id"))
			return
		}
		req.CourseID = &courseID
	}
	if raw := c.Query("section_id"); raw != "" {
		sectionID, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, h.log, apperr.New(apperr.KindValidation, "invalid section id"))
			return
		}
		req.SectionID = &sectionID
	}

	stream, err := sse.New(c.Writer)
	if err != nil {
		respondError(c, h.log, apperr.Wrap(apperr.KindPersistence, "streaming unsupported", err))
		return
	}

	msg, err := h.chat.AskStream(c.Request.Context(), userID, req, stream.Chunk)
	if err != nil {
		streamError(stream, h.log, err)
		return
	}
	if err := stream.Complete(gin.H{"message_id": msg.ID.String()}); err != nil {
		h.log.Debug("Terminal event not delivered", "error", err.Error())
	}
}

func (h *ChatHandler) History(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}
	var courseID *uuid.UUID
	if raw := c.Query("course_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, h.log, apperr.New(apperr.KindValidation, "invalid course id"))
			return
		}
		courseID = &parsed
	}
	messages, err := h.chat.History(c.Request.Context(), userID, courseID, 50)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusOK, messages)
}
