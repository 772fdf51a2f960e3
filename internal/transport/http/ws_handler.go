package http

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/objstore"
	"github.com/vovakirdan/jobchat/internal/proto"
	"github.com/vovakirdan/jobchat/internal/push"
)

const writeTimeout = 10 * time.Second

// LiveHandler streams a job's newly persisted messages over a WebSocket.
type LiveHandler struct {
	broker push.Broker
	bucket objstore.Bucket
	log    *zerolog.Logger
}

// NewLiveHandler builds a new live channel handler.
func NewLiveHandler(broker push.Broker, bucket objstore.Bucket, logger *zerolog.Logger) *LiveHandler {
	return &LiveHandler{broker: broker, bucket: bucket, log: logger}
}

// Serve upgrades the connection, subscribes to the job and relays every
// published message until either side goes away.
// GET /api/jobs/:id/live
func (h *LiveHandler) Serve(c *gin.Context) {
	job := currentJob(c)
	log := h.log.With().Str("job_id", job.ID).Str("user_id", currentUserID(c)).Logger()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// The client never writes; CloseRead handles control frames and cancels
	// ctx once the peer closes.
	ctx := conn.CloseRead(c.Request.Context())

	sub, err := h.broker.Subscribe(ctx, job.ID)
	if err != nil {
		log.Warn().Err(err).Msg("subscribe failed")
		conn.Close(websocket.StatusTryAgainLater, "push unavailable")
		return
	}
	defer h.broker.Unsubscribe(sub)

	ready := proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventReady,
		Data:  proto.EventReadyData{JobID: job.ID, Protocol: proto.ProtocolVersion},
	}
	if err := write(ctx, conn, ready); err != nil {
		log.Debug().Err(err).Msg("write ready")
		return
	}
	log.Debug().Str("subscriber_id", sub.ID).Msg("live channel open")

	err = h.writeLoop(ctx, conn, sub)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "closing")
	case errors.Is(err, errEvicted):
		log.Warn().Str("subscriber_id", sub.ID).Msg("live channel evicted")
		_ = write(ctx, conn, proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: proto.CodeEvicted, Msg: "subscriber fell behind"},
		})
		conn.Close(websocket.StatusTryAgainLater, "fell behind")
	case errors.Is(err, errHubStopped):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
			return
		}
		log.Warn().Err(err).Msg("ws connection closed with error")
	}
}

var (
	errEvicted    = errors.New("subscriber evicted")
	errHubStopped = errors.New("push hub stopped")
)

func (h *LiveHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *push.Subscriber) error {
	for {
		select {
		case msg, ok := <-sub.Events:
			if !ok {
				if sub.Evicted() {
					return errEvicted
				}
				return errHubStopped
			}
			if msg.AttachmentRef != "" && msg.AttachmentURL == "" && h.bucket != nil {
				msg.AttachmentURL = h.bucket.URL(msg.AttachmentRef)
			}
			if err := write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeEvent,
				Event: proto.EventMessage,
				Data:  msg,
			}); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
