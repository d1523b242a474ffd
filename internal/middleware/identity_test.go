package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islandtransit/bus-booking-backend/pkg/jwt"
)

type capturedIdentity struct {
	userID *uuid.UUID
	email  string
}

func newIdentityRouter(svc *jwt.Service) (*gin.Engine, *capturedIdentity) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	captured := &capturedIdentity{}
	router := gin.New()
	router.Use(OptionalIdentity(svc, logger))
	router.GET("/whoami", func(c *gin.Context) {
		captured.userID = UserIDFromContext(c)
		captured.email = EmailFromContext(c)
		c.Status(http.StatusOK)
	})
	return router, captured
}

func TestOptionalIdentity(t *testing.T) {
	svc := jwt.NewService("test-secret", time.Hour)

	t.Run("Valid Token Sets Identity", func(t *testing.T) {
		router, captured := newIdentityRouter(svc)
		userID := uuid.New()
		token, err := svc.GenerateToken(userID, "nimal@example.com")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, captured.userID)
		assert.Equal(t, userID, *captured.userID)
		assert.Equal(t, "nimal@example.com", captured.email)
	})

	t.Run("Missing Header Passes Through As Guest", func(t *testing.T) {
		router, captured := newIdentityRouter(svc)

		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, captured.userID)
		assert.Empty(t, captured.email)
	})

	t.Run("Invalid Token Ignored", func(t *testing.T) {
		router, captured := newIdentityRouter(svc)

		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, captured.userID)
	})

	t.Run("Non Bearer Scheme Ignored", func(t *testing.T) {
		router, captured := newIdentityRouter(svc)

		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, captured.userID)
	})
}
