package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/pkg/jwt"
)

const (
	// ContextUserID holds the authenticated customer's uuid, when present.
	ContextUserID = "user_id"
	// ContextUserEmail holds the authenticated customer's email, when present.
	ContextUserEmail = "user_email"
)

// OptionalIdentity extracts the customer identity from a bearer token when
// one is supplied. Guests pass through with no identity set; the booking
// layer decides what identity it requires per operation. An invalid token is
// treated as absent, not rejected.
func OptionalIdentity(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.Next()
			return
		}

		claims, err := jwtService.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			logger.WithError(err).Debug("Ignoring invalid bearer token")
			c.Next()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}

// EmailFromContext returns the authenticated user's email, if any.
func EmailFromContext(c *gin.Context) string {
	v, ok := c.Get(ContextUserEmail)
	if !ok {
		return ""
	}
	email, _ := v.(string)
	return email
}
