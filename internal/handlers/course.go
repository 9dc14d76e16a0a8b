package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/middleware"
	"github.com/courseforge/courseforge-backend/internal/services"
)

type CourseHandler struct {
	log     *logger.Logger
	courses services.CourseGenerationService
	credits services.CreditService
}

func NewCourseHandler(
	baseLog *logger.Logger,
	courses services.CourseGenerationService,
	credits services.CreditService,
) *CourseHandler {
	return &CourseHandler{
		log:     baseLog.With("handler", "CourseHandler"),
		courses: courses,
		credits: credits,
	}
}

func (h *CourseHandler) Generate(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}
	var req services.CourseGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	course, err := h.courses.GenerateCourse(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusCreated, course)
}

func (h *CourseHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.log, apperr.New(apperr.KindValidation, "invalid course id"))
		return
	}
	course, err := h.courses.GetCourse(c.Request.Context(), userID, courseID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusOK, course)
}

func (h *CourseHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}
	courses, err := h.courses.ListCourses(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusOK, courses)
}

func (h *CourseHandler) Credits(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, apperr.New(apperr.KindUnauthorized, "not authenticated"))
		return
	}
	balance, err := h.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	entries, err := h.credits.History(c.Request.Context(), userID, 50)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"balance": balance, "history": entries})
}
