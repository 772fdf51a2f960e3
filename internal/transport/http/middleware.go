package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/auth"
	"github.com/vovakirdan/jobchat/internal/metrics"
	"github.com/vovakirdan/jobchat/internal/proto"
	"github.com/vovakirdan/jobchat/internal/store"
)

const (
	// ContextKeyClaims is the context key for storing validated token claims.
	ContextKeyClaims = "claims"
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyJob is the context key for the job addressed by the route.
	ContextKeyJob = "job"

	// accessTokenParam carries the token on WebSocket handshakes, where
	// browsers cannot set headers.
	accessTokenParam = "access_token"
)

// AuthMiddleware creates a middleware that validates JWT tokens.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			logger.Debug().Err(err).Msg("missing credentials")
			abortWithError(c, http.StatusUnauthorized, proto.CodeUnauthorized, err.Error())
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			abortWithError(c, http.StatusUnauthorized, proto.CodeUnauthorized, "invalid token")
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyUserID, claims.UserID())

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query(accessTokenParam); token != "" {
			return token, nil
		}
		return "", errors.New("missing authorization header")
	}

	// Extract token from "Bearer <token>"
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("invalid authorization header format")
	}
	return token, nil
}

// LoggerMiddleware creates a middleware that logs HTTP requests and records
// request metrics.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route templates keep label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())

		event := logger.Info()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("http request")
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

func currentClaims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(ContextKeyClaims)
	claims, _ := v.(*auth.Claims)
	return claims
}

func currentJob(c *gin.Context) *store.Job {
	v, _ := c.Get(ContextKeyJob)
	job, _ := v.(*store.Job)
	return job
}

func abortWithError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, proto.ErrorResponse{Error: msg, Code: code})
}
