package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SendState is the state of one outgoing message.
type SendState int

const (
	SendComposing SendState = iota
	SendUploading
	SendPersisting
	SendConfirmed
	SendFailed
)

func (s SendState) String() string {
	switch s {
	case SendComposing:
		return "composing"
	case SendUploading:
		return "uploading"
	case SendPersisting:
		return "persisting"
	case SendConfirmed:
		return "confirmed"
	case SendFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s SendState) Terminal() bool {
	return s == SendConfirmed || s == SendFailed
}

var (
	// ErrEmptyDraft is returned for a send with neither text nor attachment.
	ErrEmptyDraft = errors.New("nothing to send")
	// ErrAttachmentRequired is returned when retrying a send whose upload never
	// succeeded without supplying the attachment again.
	ErrAttachmentRequired = errors.New("attachment must be supplied again")
	// ErrNotFailed is returned when retrying a send that did not fail.
	ErrNotFailed = errors.New("send has not failed")
)

// Outgoing tracks one send through Composing, Uploading, Persisting and then
// Confirmed or Failed. States only move forward.
type Outgoing struct {
	Token          string
	ConversationID string
	SenderID       string
	Text           string
	AttachmentName string
	HasAttachment  bool
	ComposedAt     time.Time

	mu        sync.Mutex
	state     SendState
	history   []SendState
	uploaded  *Uploaded
	persisted *Message
	confirmed *Message
	err       error
	done      chan struct{}
}

func newOutgoing(token, conversationID, senderID, text string, att *Attachment) *Outgoing {
	o := &Outgoing{
		Token:          token,
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		ComposedAt:     time.Now(),
		state:          SendComposing,
		history:        []SendState{SendComposing},
		done:           make(chan struct{}),
	}
	if att != nil {
		o.HasAttachment = true
		o.AttachmentName = att.Name
	}
	return o
}

// State returns the current state.
func (o *Outgoing) State() SendState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History returns every state the send went through.
func (o *Outgoing) History() []SendState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]SendState(nil), o.history...)
}

// Err returns the failure, if the send failed.
func (o *Outgoing) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Uploaded returns the stored attachment once the upload succeeded.
func (o *Outgoing) Uploaded() (Uploaded, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.uploaded == nil {
		return Uploaded{}, false
	}
	return *o.uploaded, true
}

// Persisted returns the record storage returned for the write.
func (o *Outgoing) Persisted() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.persisted == nil {
		return Message{}, false
	}
	return *o.persisted, true
}

// Done is closed when the send reaches a terminal state.
func (o *Outgoing) Done() <-chan struct{} { return o.done }

// Wait blocks until the send is confirmed or failed.
func (o *Outgoing) Wait(ctx context.Context) (Message, error) {
	select {
	case <-o.done:
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return Message{}, o.err
	}
	return *o.confirmed, nil
}

// Echo builds the optimistic local copy of the send.
func (o *Outgoing) Echo() Message {
	return Message{
		ConversationID: o.ConversationID,
		SenderID:       o.SenderID,
		CreatedAt:      o.ComposedAt,
		Text:           o.Text,
		AttachmentName: o.AttachmentName,
		ClientToken:    o.Token,
		Pending:        true,
	}
}

func (o *Outgoing) advance(to SendState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.advanceLocked(to)
}

func (o *Outgoing) advanceLocked(to SendState) bool {
	if o.state.Terminal() || to <= o.state {
		return false
	}
	o.state = to
	o.history = append(o.history, to)
	if to.Terminal() {
		close(o.done)
	}
	return true
}

// Confirm moves the send to Confirmed with the canonical copy.
func (o *Outgoing) Confirm(m Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return false
	}
	o.confirmed = &m
	return o.advanceLocked(SendConfirmed)
}

func (o *Outgoing) fail(err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return false
	}
	o.err = err
	return o.advanceLocked(SendFailed)
}

// Sender runs the upload-then-persist pipeline.
type Sender struct {
	uploader  Uploader
	persister Persister
	log       zerolog.Logger
	newToken  func() string
}

// NewSender creates a sender.
func NewSender(uploader Uploader, persister Persister, logger zerolog.Logger) *Sender {
	return &Sender{
		uploader:  uploader,
		persister: persister,
		log:       logger,
		newToken:  uuid.NewString,
	}
}

// Compose validates a draft and returns its Outgoing in state Composing.
func (s *Sender) Compose(conversationID, senderID, text string, att *Attachment) (*Outgoing, error) {
	if strings.TrimSpace(text) == "" && att == nil {
		return nil, ErrEmptyDraft
	}
	return newOutgoing(s.newToken(), conversationID, senderID, text, att), nil
}

// Deliver uploads the attachment (if any) and writes the record. On success the
// send stays in Persisting until Confirm is called with the canonical copy.
func (s *Sender) Deliver(ctx context.Context, out *Outgoing, att *Attachment) (Message, error) {
	ref, err := s.upload(ctx, out, att)
	if err != nil {
		return Message{}, err
	}

	out.advance(SendPersisting)
	msg, err := s.persister.CreateMessage(ctx, out.ConversationID, Draft{
		SenderID:      out.SenderID,
		Text:          out.Text,
		AttachmentRef: ref,
		ClientToken:   out.Token,
	})
	if err != nil {
		var perr *PersistError
		if !errors.As(err, &perr) {
			err = &PersistError{Err: err}
		}
		s.log.Warn().Err(err).Str("client_token", out.Token).Msg("persist message failed")
		out.fail(err)
		return Message{}, err
	}

	out.mu.Lock()
	out.persisted = &msg
	out.mu.Unlock()
	return msg, nil
}

func (s *Sender) upload(ctx context.Context, out *Outgoing, att *Attachment) (string, error) {
	if up, ok := out.Uploaded(); ok {
		return up.Ref, nil
	}
	if !out.HasAttachment {
		return "", nil
	}
	if att == nil {
		err := &UploadError{Err: ErrAttachmentRequired}
		out.fail(err)
		return "", err
	}

	out.advance(SendUploading)
	up, err := s.uploader.Upload(ctx, out.ConversationID, *att)
	if err != nil {
		var uerr *UploadError
		if !errors.As(err, &uerr) {
			err = &UploadError{Err: err}
		}
		s.log.Warn().Err(err).Str("client_token", out.Token).Str("file", att.Name).Msg("attachment upload failed")
		out.fail(err)
		return "", err
	}

	out.mu.Lock()
	out.uploaded = &up
	out.mu.Unlock()
	return up.Ref, nil
}

// Send composes and delivers in one call.
func (s *Sender) Send(ctx context.Context, conversationID, senderID, text string, att *Attachment) (*Outgoing, error) {
	out, err := s.Compose(conversationID, senderID, text, att)
	if err != nil {
		return nil, err
	}
	_, err = s.Deliver(ctx, out, att)
	return out, err
}

// Retry starts a new attempt for a failed send. It keeps the client token, so
// storage cannot record the message twice, and reuses an attachment that was
// already uploaded; att is only needed when the upload itself failed.
func (s *Sender) Retry(failed *Outgoing, att *Attachment) (*Outgoing, error) {
	if failed.State() != SendFailed {
		return nil, ErrNotFailed
	}
	next := newOutgoing(failed.Token, failed.ConversationID, failed.SenderID, failed.Text, nil)
	next.HasAttachment = failed.HasAttachment
	next.AttachmentName = failed.AttachmentName
	if up, ok := failed.Uploaded(); ok {
		next.uploaded = &up
	} else if failed.HasAttachment && att == nil {
		return nil, ErrAttachmentRequired
	}
	return next, nil
}
