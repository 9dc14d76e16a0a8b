package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/services"
)

type AuthHandler struct {
	log  *logger.Logger
	auth services.AuthService
}

func NewAuthHandler(baseLog *logger.Logger, auth services.AuthService) *AuthHandler {
	return &AuthHandler{log: baseLog.With("handler", "AuthHandler"), auth: auth}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	user, token, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"user": user, "token": token})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	user, token, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"user": user, "token": token})
}
