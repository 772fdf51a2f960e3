package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/jobchat/internal/store"
)

var (
	// ErrInvalidCredentials is returned when email/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with an existing email.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidEmail is returned when the email is malformed.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidProfile is returned for a missing display name or unknown role.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Registration holds the fields of a new account.
type Registration struct {
	Email       string
	Password    string
	DisplayName string
	AvatarURL   string
	Role        store.Role
}

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new user with hashed password and returns a JWT token.
func (s *Service) Register(ctx context.Context, r Registration) (string, *store.User, error) {
	email := strings.TrimSpace(r.Email)
	if at := strings.IndexByte(email, '@'); at < 1 || at == len(email)-1 {
		return "", nil, ErrInvalidEmail
	}
	if len(r.Password) < 6 {
		return "", nil, ErrInvalidPassword
	}
	name := strings.TrimSpace(r.DisplayName)
	if name == "" || (r.Role != store.RolePhotographer && r.Role != store.RoleCustomer) {
		return "", nil, ErrInvalidProfile
	}

	hashedPassword, err := HashPassword(r.Password)
	if err != nil {
		return "", nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.NewUser{
		Email:        email,
		PasswordHash: hashedPassword,
		DisplayName:  name,
		AvatarURL:    strings.TrimSpace(r.AvatarURL),
		Role:         r.Role,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", nil, ErrUserExists
		}
		return "", nil, fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Email, string(user.Role))
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	return token, user, nil
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Email, string(user.Role))
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	return token, user, nil
}

// CurrentUser loads the account a validated token belongs to.
func (s *Service) CurrentUser(ctx context.Context, claims *Claims) (*store.User, error) {
	user, err := s.store.GetUserByID(ctx, claims.UserID())
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	return user, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
