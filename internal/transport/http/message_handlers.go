package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/metrics"
	"github.com/vovakirdan/jobchat/internal/objstore"
	"github.com/vovakirdan/jobchat/internal/proto"
	"github.com/vovakirdan/jobchat/internal/push"
	"github.com/vovakirdan/jobchat/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// MessageHandlers provides HTTP handlers for a job's message thread and its
// attachments.
type MessageHandlers struct {
	store          store.Store
	broker         push.Broker
	bucket         objstore.Bucket
	maxUploadBytes int64
	log            *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.Store, broker push.Broker, bucket objstore.Bucket, maxUploadBytes int64, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		store:          st,
		broker:         broker,
		bucket:         bucket,
		maxUploadBytes: maxUploadBytes,
		log:            logger,
	}
}

// ListMessages returns a page of the job's messages, oldest first.
// GET /api/jobs/:id/messages?limit=&before=&after=
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	job := currentJob(c)

	r, err := parseRange(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, proto.CodeBadRequest, err.Error())
		return
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), job.ID, r)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to list messages")
		abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		return
	}
	c.JSON(http.StatusOK, proto.MessagePage{Messages: messagesToProto(msgs, h.bucket)})
}

func parseRange(c *gin.Context) (store.Range, error) {
	r := store.Range{Limit: defaultPageSize}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return r, errors.New("limit must be a positive integer")
		}
		r.Limit = min(n, maxPageSize)
	}

	before, after := c.Query("before"), c.Query("after")
	if before != "" && after != "" {
		return r, errors.New("before and after are mutually exclusive")
	}
	for _, b := range []struct {
		raw string
		dst **store.Cursor
	}{{before, &r.Before}, {after, &r.After}} {
		if b.raw == "" {
			continue
		}
		at, id, err := proto.ParseCursor(b.raw)
		if err != nil {
			return r, err
		}
		*b.dst = &store.Cursor{CreatedAt: at, ID: id}
	}
	return r, nil
}

// CreateMessage persists a message and publishes it to live subscribers.
// Replaying a client token answers 200 with the stored message.
// POST /api/jobs/:id/messages
func (h *MessageHandlers) CreateMessage(c *gin.Context) {
	job := currentJob(c)
	log := h.log.With().Str("job_id", job.ID).Logger()

	var req proto.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("invalid create message request")
		abortWithError(c, http.StatusBadRequest, proto.CodeBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" && req.AttachmentRef == "" {
		abortWithError(c, http.StatusBadRequest, proto.CodeBadRequest, "message needs text or an attachment")
		return
	}

	ctx := c.Request.Context()
	if req.AttachmentRef != "" {
		ok, err := h.attachmentExists(c, job.ID, req.AttachmentRef)
		if err != nil {
			log.Error().Err(err).Str("ref", req.AttachmentRef).Msg("failed to check attachment")
			abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
			return
		}
		if !ok {
			abortWithError(c, http.StatusUnprocessableEntity, proto.CodeMissingAttachment, "attachment not found")
			return
		}
	}

	msg, created, err := h.store.InsertMessage(ctx, store.NewMessage{
		JobID:         job.ID,
		SenderID:      currentUserID(c),
		Text:          text,
		AttachmentRef: req.AttachmentRef,
		ClientToken:   req.ClientToken,
	})
	if errors.Is(err, store.ErrConflict) {
		abortWithError(c, http.StatusConflict, proto.CodeConflict, "client token already used")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to insert message")
		abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		return
	}

	out := messageToProto(*msg, h.bucket)
	if !created {
		metrics.MessagesReplayed.Inc()
		log.Debug().Str("message_id", msg.ID).Str("client_token", req.ClientToken).Msg("idempotent replay")
		c.JSON(http.StatusOK, out)
		return
	}

	metrics.MessagesPersisted.Inc()
	// Subscribers that miss the push recover it through history, so a failed
	// publish does not fail the write.
	if err := h.broker.Publish(ctx, job.ID, out); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to publish message")
	}
	c.JSON(http.StatusCreated, out)
}

func (h *MessageHandlers) attachmentExists(c *gin.Context, jobID, ref string) (bool, error) {
	if _, err := objstore.CleanPath(ref); err != nil || objstore.JobOf(ref) != jobID {
		return false, nil
	}
	return h.bucket.Exists(c.Request.Context(), ref)
}

// Upload stores the multipart "file" field in object storage.
// POST /api/jobs/:id/attachments
func (h *MessageHandlers) Upload(c *gin.Context) {
	job := currentJob(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, proto.CodeBadRequest, "attachment too large")
			return
		}
		abortWithError(c, http.StatusBadRequest, proto.CodeBadRequest, "missing file field")
		return
	}

	f, err := header.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to open upload")
		abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		return
	}
	defer f.Close()

	ref := objstore.ObjectPath(job.ID, header.Filename, time.Now())
	if err := h.bucket.Put(c.Request.Context(), ref, f, header.Header.Get("Content-Type")); err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Str("ref", ref).Msg("failed to store attachment")
		abortWithError(c, http.StatusBadGateway, proto.CodeInternal, "object storage unavailable")
		return
	}

	metrics.AttachmentsUploaded.Inc()
	h.log.Info().Str("job_id", job.ID).Str("ref", ref).Int64("size", header.Size).Msg("attachment stored")
	c.JSON(http.StatusCreated, proto.UploadResponse{Ref: ref, URL: h.bucket.URL(ref)})
}
