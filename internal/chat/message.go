package chat

import (
	"errors"
	"strings"
	"time"
)

// SenderDisplay is the denormalized sender profile resolved when the message is fetched.
type SenderDisplay struct {
	Name      string
	AvatarURL string
}

// Message is one entry of a conversation's append-only log.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	CreatedAt      time.Time
	Text           string
	AttachmentRef  string
	AttachmentURL  string
	Sender         SenderDisplay

	// ClientToken is the idempotency token chosen by the sending client.
	ClientToken string
	// AttachmentName is the local file name carried by a pending echo.
	AttachmentName string
	// Pending marks an optimistic local echo that has not been persisted yet.
	Pending bool
}

var (
	errMissingID           = errors.New("message has no id")
	errMissingConversation = errors.New("message has no conversation id")
	errEmptyBody           = errors.New("message has neither text nor attachment")
)

// Validate checks the invariants every persisted message must satisfy.
func (m Message) Validate() error {
	if m.ID == "" {
		return errMissingID
	}
	if m.ConversationID == "" {
		return errMissingConversation
	}
	if !m.HasBody() {
		return errEmptyBody
	}
	return nil
}

// HasBody reports whether the message carries text or an attachment.
func (m Message) HasBody() bool {
	return strings.TrimSpace(m.Text) != "" || m.AttachmentRef != ""
}

// Key returns the ordering key of the message.
func (m Message) Key() Key {
	return Key{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Key is the total ordering key of a conversation: creation time, then id.
type Key struct {
	CreatedAt time.Time
	ID        string
}

// Compare returns -1, 0 or +1.
func (k Key) Compare(o Key) int {
	if c := k.CreatedAt.Compare(o.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(k.ID, o.ID)
}

// Less reports whether k orders strictly before o.
func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k.CreatedAt.IsZero() && k.ID == ""
}

// Minus moves the key back by d and drops the id tiebreaker, so that a range
// starting after the result includes every message created at k.CreatedAt-d.
func (k Key) Minus(d time.Duration) Key {
	if k.IsZero() {
		return k
	}
	return Key{CreatedAt: k.CreatedAt.Add(-d)}
}

func maxKey(a, b Key) Key {
	if a.Less(b) {
		return b
	}
	return a
}
