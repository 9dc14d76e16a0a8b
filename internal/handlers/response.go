package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/logger"
)

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

// respondError maps a service error onto the HTTP envelope. The body
// always carries the machine-readable kind plus any structured
// details, never internal error text.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	body := gin.H{"kind": string(kind)}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body["message"] = ae.Message
		if len(ae.Details) > 0 {
			body["details"] = ae.Details
		}
	} else {
		body["message"] = "internal error"
	}

	if status >= 500 {
		log.Error("Request failed",
			"path", c.FullPath(),
			"kind", string(kind),
			"error", err.Error(),
		)
	} else {
		log.Debug("Request rejected",
			"path", c.FullPath(),
			"kind", string(kind),
			"error", err.Error(),
		)
	}

	c.JSON(status, gin.H{"error": body})
}
