package chat

import (
	"errors"
	"fmt"
)

// ErrNotFound means the conversation does not exist or is not visible to the
// current user. It is fatal to a view and never retried.
var ErrNotFound = errors.New("conversation not found")

// ErrClosed is returned by operations on a closed view or subscription.
var ErrClosed = errors.New("chat: closed")

// TransientFetchError wraps a retryable backend or network failure of a history fetch.
type TransientFetchError struct {
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch history: %v", e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// ConnectionLost is reported when the live channel drops. The subscription
// reconnects on its own; the view resyncs once it is live again.
type ConnectionLost struct {
	Attempt int
	Err     error
}

func (e *ConnectionLost) Error() string {
	return fmt.Sprintf("live connection lost (attempt %d): %v", e.Attempt, e.Err)
}

func (e *ConnectionLost) Unwrap() error { return e.Err }

// UploadError aborts a send before anything is persisted.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload attachment: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PersistError means the message record could not be written. The user has to
// retry manually; the already uploaded attachment is reused.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist message: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying automatically.
func IsRetryable(err error) bool {
	var transient *TransientFetchError
	var lost *ConnectionLost
	return errors.As(err, &transient) || errors.As(err, &lost)
}
