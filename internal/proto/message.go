package proto

import (
	"encoding/json"
	"time"
)

const (
	ProtocolVersion = 1

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventMessage = "message"
	EventReady   = "ready"
)

// Error codes carried in Outbound.Error and ErrorResponse.Code.
const (
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeMissingAttachment = "missing_attachment"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal"
	CodeEvicted           = "evicted"
)

// SenderDisplay is the denormalized sender shown next to a message.
type SenderDisplay struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message is a persisted job message as sent over HTTP and the live channel.
type Message struct {
	ID            string        `json:"id"`
	JobID         string        `json:"job_id"`
	SenderID      string        `json:"sender_id"`
	CreatedAt     time.Time     `json:"created_at"`
	Text          string        `json:"text,omitempty"`
	AttachmentRef string        `json:"attachment_ref,omitempty"`
	AttachmentURL string        `json:"attachment_url,omitempty"`
	ClientToken   string        `json:"client_token,omitempty"`
	Sender        SenderDisplay `json:"sender"`
}

// Outbound is the envelope for frames sent to the client on the live channel.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Frame is Outbound as decoded by the client, with the payload left raw until
// the event kind is known.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// EventReadyData is sent once the server-side subscription is registered, so
// the client knows every later publish will reach it.
type EventReadyData struct {
	JobID    string `json:"job_id"`
	Protocol int    `json:"protocol"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Msg }
