package api

import (
	"net/http"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps a domain error to its HTTP status. Buyers see a coarse
// message; the full error goes to the log.
func (h *Handler) respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	appErr, ok := apperror.As(err)
	if !ok {
		h.logger.Error("Unclassified error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	switch appErr.Kind {
	case apperror.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": appErr.Message, "fields": appErr.Fields})
	case apperror.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case apperror.KindSignature:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case apperror.KindStateConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "details": appErr.Message})
	case apperror.KindExternalService:
		h.logger.Error("External service failed", zap.Error(err), zap.String("upstream", appErr.Upstream))
		c.JSON(http.StatusBadGateway, gin.H{"error": appErr.Message, "details": appErr.Upstream})
	case apperror.KindStorage:
		h.logger.Error("Storage failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// badBody reports a body that failed to bind. Failed binding rules are
// reported per field like any other validation error.
func (h *Handler) badBody(c *gin.Context, err error) {
	if appErr, ok := apperror.As(validation.FromError(err)); ok {
		h.respondError(c, appErr)
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
