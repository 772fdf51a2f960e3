package proto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"display_name" binding:"required,max=64"`
	Role        string `json:"role" binding:"required,oneof=photographer customer"`
	AvatarURL   string `json:"avatar_url,omitempty" binding:"omitempty,url"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// User is the public view of an account.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// CreateJobRequest is sent by a customer to book a photographer.
type CreateJobRequest struct {
	PhotographerID string    `json:"photographer_id" binding:"required"`
	EventType      string    `json:"event_type" binding:"required,max=64"`
	EventDate      time.Time `json:"event_date" binding:"required"`
	Location       string    `json:"location" binding:"max=256"`
}

// Job is a booking; its message thread is the conversation.
type Job struct {
	ID             string    `json:"id"`
	PhotographerID string    `json:"photographer_id"`
	CustomerID     string    `json:"customer_id"`
	EventType      string    `json:"event_type"`
	EventDate      time.Time `json:"event_date"`
	Location       string    `json:"location,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateMessageRequest persists a message. ClientToken makes the write idempotent.
type CreateMessageRequest struct {
	Text          string `json:"text" binding:"max=4000"`
	AttachmentRef string `json:"attachment_ref" binding:"max=512"`
	ClientToken   string `json:"client_token" binding:"max=64"`
}

// MessagePage is the response of a history query, ordered oldest first.
type MessagePage struct {
	Messages []Message `json:"messages"`
}

// UploadResponse identifies a stored attachment.
type UploadResponse struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ErrBadCursor is returned by ParseCursor for malformed input.
var ErrBadCursor = errors.New("malformed cursor")

// FormatCursor encodes a message position as "<unix micro>:<id>".
func FormatCursor(createdAt time.Time, id string) string {
	return strconv.FormatInt(createdAt.UnixMicro(), 10) + ":" + id
}

// ParseCursor decodes FormatCursor output. The id part may be empty, which
// positions the cursor before every message sharing the timestamp.
func ParseCursor(s string) (time.Time, string, error) {
	micros, id, ok := strings.Cut(s, ":")
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w: %q", ErrBadCursor, s)
	}
	n, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %q", ErrBadCursor, s)
	}
	return time.UnixMicro(n).UTC(), id, nil
}
