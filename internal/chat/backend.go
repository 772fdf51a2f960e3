package chat

import (
	"context"
	"io"
)

// DefaultPageSize is the history page size used when none is configured.
const DefaultPageSize = 50

// Page selects one page of history. With neither cursor set the newest page is
// returned. Before pages backwards; After pages forwards from an anchor and is
// what resyncs use. Results are always oldest first.
type Page struct {
	Limit  int
	Before *Key
	After  *Key
}

// Loader fetches history from persistent storage. Implementations return
// *TransientFetchError for retryable failures and ErrNotFound for a missing
// conversation, and never retry on their own.
type Loader interface {
	LoadHistory(ctx context.Context, conversationID string, page Page) ([]Message, error)
}

// Stream is one established live connection for a conversation.
type Stream interface {
	// Recv blocks until the next pushed message. Any error ends the stream.
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Channel opens live streams. Delivery is at-least-once and not ordered;
// nothing sent while no stream is open is replayed.
type Channel interface {
	Dial(ctx context.Context, conversationID string) (Stream, error)
}

// Attachment is a file the user wants to send.
type Attachment struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Uploaded is a durably stored attachment.
type Uploaded struct {
	Ref string
	URL string
}

// Uploader stores attachments in object storage.
type Uploader interface {
	Upload(ctx context.Context, conversationID string, a Attachment) (Uploaded, error)
}

// Draft is the record a sender asks storage to persist.
type Draft struct {
	SenderID      string
	Text          string
	AttachmentRef string
	ClientToken   string
}

// Persister writes message records. Writing the same client token twice must
// not create a second record.
type Persister interface {
	CreateMessage(ctx context.Context, conversationID string, d Draft) (Message, error)
}

// Backend is everything a conversation view needs from the outside world.
type Backend interface {
	Loader
	Channel
	Uploader
	Persister
}
