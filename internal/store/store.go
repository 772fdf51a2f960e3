package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("conflict")
)

// Role is the marketplace side of a user.
type Role string

const (
	RolePhotographer Role = "photographer"
	RoleCustomer     Role = "customer"
)

// User represents an account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	AvatarURL    string
	Role         Role
	CreatedAt    time.Time
}

// JobStatus is the booking lifecycle state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobAccepted   JobStatus = "accepted"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// Job is a booking between a customer and a photographer. Its message thread
// is the conversation both participants chat in.
type Job struct {
	ID             string
	PhotographerID string
	CustomerID     string
	EventType      string
	EventDate      time.Time
	Location       string
	Status         JobStatus
	CreatedAt      time.Time
}

// HasParticipant reports whether userID may read and write the job's messages.
func (j *Job) HasParticipant(userID string) bool {
	return userID != "" && (j.PhotographerID == userID || j.CustomerID == userID)
}

// Message represents a persisted job message joined with its sender's display.
type Message struct {
	ID              string
	JobID           string
	SenderID        string
	Text            string
	AttachmentRef   string
	ClientToken     string
	CreatedAt       time.Time
	SenderName      string
	SenderAvatarURL string
}

// NewUser holds the fields of an account to create.
type NewUser struct {
	Email        string
	PasswordHash string
	DisplayName  string
	AvatarURL    string
	Role         Role
}

// NewJob holds the fields of a booking to create.
type NewJob struct {
	PhotographerID string
	CustomerID     string
	EventType      string
	EventDate      time.Time
	Location       string
}

// NewMessage holds the fields of a message to insert.
type NewMessage struct {
	JobID         string
	SenderID      string
	Text          string
	AttachmentRef string
	ClientToken   string
}

// Cursor is a position in a job's message order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Range selects a page of messages. With neither bound set the newest page is
// returned. Results are always ordered oldest first.
type Range struct {
	Limit  int
	Before *Cursor
	After  *Cursor
}

// UserStore defines operations for user management.
type UserStore interface {
	CreateUser(ctx context.Context, u NewUser) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// JobStore defines operations for bookings.
type JobStore interface {
	CreateJob(ctx context.Context, j NewJob) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobsForUser(ctx context.Context, userID string) ([]Job, error)
	UpdateJobStatus(ctx context.Context, id string, status JobStatus) error
}

// MessageStore defines operations for job messages.
type MessageStore interface {
	// InsertMessage stores m and reports whether a row was created. A message
	// with a client token already stored for the job is returned unchanged.
	InsertMessage(ctx context.Context, m NewMessage) (*Message, bool, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, jobID string, r Range) ([]Message, error)
	AttachmentReferenced(ctx context.Context, ref string) (bool, error)
}

// Store combines all store interfaces.
type Store interface {
	UserStore
	JobStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}

var transitions = map[JobStatus][]JobStatus{
	JobPending:    {JobAccepted, JobCancelled},
	JobAccepted:   {JobInProgress, JobCancelled},
	JobInProgress: {JobCompleted, JobCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	return slices.Contains(transitions[from], to)
}
