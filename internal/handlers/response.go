package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
)

// respondError maps a service error onto an HTTP response. Internal errors
// are logged with the full chain and surfaced as a generic message.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		logger.WithError(err).WithFields(logrus.Fields{
			"path":   c.FullPath(),
			"method": c.Request.Method,
		}).Error("Request failed")
	}
	c.JSON(status, gin.H{
		"error": apperrors.UserMessage(err),
		"kind":  string(apperrors.KindOf(err)),
	})
}
