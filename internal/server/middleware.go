package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tms/internal/apperr"
	"tms/internal/auth"
	"tms/internal/models"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
	callerKey       = "caller"
	claimsKey       = "claims"
)

// requestID tags each request with an id, reusing the client's if present.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requireAuth resolves the bearer token to a user and stores it on the context.
func (s *Server) requireAuth(c *gin.Context) {
	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		s.respondError(c, apperr.Unauthorized("Authorization header required"))
		return
	}

	user, claims, err := s.identity.Authenticate(c.Request.Context(), strings.TrimSpace(raw))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Set(callerKey, user)
	c.Set(claimsKey, claims)
	c.Next()
}

// caller returns the authenticated user. Only valid behind requireAuth.
func caller(c *gin.Context) models.User {
	u, _ := c.MustGet(callerKey).(models.User)
	return u
}

func callerClaims(c *gin.Context) auth.Claims {
	claims, _ := c.MustGet(claimsKey).(auth.Claims)
	return claims
}
