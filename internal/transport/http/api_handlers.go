package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/auth"
	"github.com/vovakirdan/jobchat/internal/proto"
	"github.com/vovakirdan/jobchat/internal/store"
)

// APIHandlers provides HTTP handlers for account endpoints.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// Register handles user registration.
// POST /api/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req proto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		abortWithError(c, http.StatusBadRequest, proto.CodeBadRequest, "invalid request body")
		return
	}

	token, user, err := h.authService.Register(c.Request.Context(), auth.Registration{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Role:        store.Role(req.Role),
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			abortWithError(c, http.StatusConflict, proto.CodeConflict, "user already exists")
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrInvalidPassword), errors.Is(err, auth.ErrInvalidProfile):
			abortWithError(c, http.StatusBadRequest, proto.CodeBadRequest, err.Error())
		default:
			h.log.Error().Err(err).Str("email", req.Email).Msg("failed to register user")
			abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		}
		return
	}

	h.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("user registered successfully")
	c.JSON(http.StatusCreated, proto.AuthResponse{Token: token, User: userToProto(user)})
}

// Login handles user login.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req proto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		abortWithError(c, http.StatusBadRequest, proto.CodeBadRequest, "invalid request body")
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			abortWithError(c, http.StatusUnauthorized, proto.CodeUnauthorized, "invalid credentials")
			return
		}
		h.log.Error().Err(err).Str("email", req.Email).Msg("failed to login user")
		abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		return
	}

	h.log.Info().Str("user_id", user.ID).Msg("user logged in successfully")
	c.JSON(http.StatusOK, proto.AuthResponse{Token: token, User: userToProto(user)})
}

// Me returns the authenticated user.
// GET /api/me
func (h *APIHandlers) Me(c *gin.Context) {
	user, err := h.authService.CurrentUser(c.Request.Context(), currentClaims(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, http.StatusUnauthorized, proto.CodeUnauthorized, "account no longer exists")
			return
		}
		h.log.Error().Err(err).Msg("failed to load current user")
		abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		return
	}
	c.JSON(http.StatusOK, userToProto(user))
}
